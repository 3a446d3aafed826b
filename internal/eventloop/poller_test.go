package eventloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerDispatchFD(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	r, w := testPipe(t)

	var got FDEvents
	fired := 0
	require.NoError(t, p.RegisterFD(r, func(fd int, events FDEvents) {
		fired++
		got = events
		var buf [16]byte
		_, _ = unix.Read(fd, buf[:])
	}))

	t.Run("idle dispatch times out without firing", func(t *testing.T) {
		require.NoError(t, p.Dispatch(time.Millisecond))
		assert.Equal(t, 0, fired)
	})

	t.Run("readable fd fires the callback", func(t *testing.T) {
		_, err := unix.Write(w, []byte("x"))
		require.NoError(t, err)

		require.NoError(t, p.Dispatch(time.Second))
		assert.Equal(t, 1, fired)
		assert.Equal(t, Readable, got&Readable)
	})

	t.Run("closed writer reports hangup", func(t *testing.T) {
		require.NoError(t, unix.Close(w))
		require.NoError(t, p.Dispatch(time.Second))
		assert.Equal(t, 2, fired)
		assert.Equal(t, Hangup, got&Hangup)
	})
}

func TestPollerTimers(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	t.Run("one-shot fires after its delay", func(t *testing.T) {
		fired := 0
		p.AddTimer(5*time.Millisecond, func() { fired++ })

		deadline := time.Now().Add(time.Second)
		for fired == 0 && time.Now().Before(deadline) {
			require.NoError(t, p.Dispatch(10*time.Millisecond))
		}
		assert.Equal(t, 1, fired)
	})

	t.Run("cancelled timer never fires", func(t *testing.T) {
		fired := 0
		id := p.AddTimer(5*time.Millisecond, func() { fired++ })
		p.CancelTimer(id)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, p.Dispatch(0))
		assert.Equal(t, 0, fired)
	})

	t.Run("periodic keeps firing until cancelled", func(t *testing.T) {
		fired := 0
		var id TimerID
		id = p.AddPeriodic(2*time.Millisecond, func() {
			fired++
			if fired == 3 {
				p.CancelTimer(id)
			}
		})

		deadline := time.Now().Add(time.Second)
		for fired < 3 && time.Now().Before(deadline) {
			require.NoError(t, p.Dispatch(5*time.Millisecond))
		}
		assert.Equal(t, 3, fired)
	})
}

func TestPollerSignalDelivery(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	fired := 0
	require.NoError(t, p.RegisterSignal(unix.SIGUSR1, func(sig os.Signal) {
		fired++
		assert.Equal(t, unix.SIGUSR1, sig)
	}))
	assert.Error(t, p.RegisterSignal(unix.SIGUSR1, func(os.Signal) {}))

	require.NoError(t, unix.Kill(unix.Getpid(), unix.SIGUSR1))

	// Delivery crosses the os/signal goroutine and the wakeup pipe, so
	// poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for fired == 0 && time.Now().Before(deadline) {
		require.NoError(t, p.Dispatch(10*time.Millisecond))
	}
	assert.Equal(t, 1, fired)

	require.NoError(t, p.UnregisterSignal(unix.SIGUSR1))
	assert.Error(t, p.UnregisterSignal(unix.SIGUSR1))
}
