package eventloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestManualFDRegistration(t *testing.T) {
	m := NewManual()

	fired := 0
	require.NoError(t, m.RegisterFD(7, func(fd int, events FDEvents) {
		fired++
		assert.Equal(t, 7, fd)
		assert.Equal(t, Readable, events)
	}))

	t.Run("duplicate registration fails", func(t *testing.T) {
		err := m.RegisterFD(7, func(int, FDEvents) {})
		assert.Error(t, err)
	})

	t.Run("fire reaches the callback", func(t *testing.T) {
		m.FireFD(7, Readable)
		assert.Equal(t, 1, fired)
	})

	t.Run("fire on unknown fd is a no-op", func(t *testing.T) {
		m.FireFD(99, Readable)
		assert.Equal(t, 1, fired)
	})

	t.Run("unregister stops delivery", func(t *testing.T) {
		require.NoError(t, m.UnregisterFD(7))
		m.FireFD(7, Readable)
		assert.Equal(t, 1, fired)
	})

	t.Run("unregister of unknown fd fails", func(t *testing.T) {
		assert.Error(t, m.UnregisterFD(7))
	})
}

func TestManualSignalRegistration(t *testing.T) {
	m := NewManual()

	var got []os.Signal
	require.NoError(t, m.RegisterSignal(unix.SIGUSR1, func(sig os.Signal) {
		got = append(got, sig)
	}))

	assert.Error(t, m.RegisterSignal(unix.SIGUSR1, func(os.Signal) {}))
	assert.True(t, m.HasSignal(unix.SIGUSR1))

	m.FireSignal(unix.SIGUSR1)
	m.FireSignal(unix.SIGUSR2) // unregistered, dropped
	require.Len(t, got, 1)

	require.NoError(t, m.UnregisterSignal(unix.SIGUSR1))
	m.FireSignal(unix.SIGUSR1)
	assert.Len(t, got, 1)
}

func TestManualTimers(t *testing.T) {
	t.Run("one-shot fires once at its deadline", func(t *testing.T) {
		m := NewManual()
		fired := 0
		m.AddTimer(100*time.Millisecond, func() { fired++ })

		m.AdvanceTime(99 * time.Millisecond)
		assert.Equal(t, 0, fired)
		m.AdvanceTime(1 * time.Millisecond)
		assert.Equal(t, 1, fired)
		m.AdvanceTime(time.Second)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 0, m.TimerCount())
	})

	t.Run("due timers fire in deadline order", func(t *testing.T) {
		m := NewManual()
		var order []string
		m.AddTimer(30*time.Millisecond, func() { order = append(order, "late") })
		m.AddTimer(10*time.Millisecond, func() { order = append(order, "early") })

		m.AdvanceTime(50 * time.Millisecond)
		assert.Equal(t, []string{"early", "late"}, order)
	})

	t.Run("periodic fires repeatedly inside one advance", func(t *testing.T) {
		m := NewManual()
		fired := 0
		m.AddPeriodic(10*time.Millisecond, func() { fired++ })

		m.AdvanceTime(35 * time.Millisecond)
		assert.Equal(t, 3, fired)
		assert.Equal(t, 1, m.TimerCount())
	})

	t.Run("non-positive periodic interval degrades to one-shot", func(t *testing.T) {
		m := NewManual()
		fired := 0
		m.AddPeriodic(0, func() { fired++ })

		m.AdvanceTime(time.Second)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 0, m.TimerCount())
	})

	t.Run("cancel prevents firing", func(t *testing.T) {
		m := NewManual()
		fired := 0
		id := m.AddTimer(10*time.Millisecond, func() { fired++ })
		m.CancelTimer(id)

		m.AdvanceTime(time.Second)
		assert.Equal(t, 0, fired)
	})

	t.Run("timer callbacks may arm new timers", func(t *testing.T) {
		m := NewManual()
		var fired []string
		m.AddTimer(10*time.Millisecond, func() {
			fired = append(fired, "first")
			m.AddTimer(10*time.Millisecond, func() { fired = append(fired, "second") })
		})

		m.AdvanceTime(30 * time.Millisecond)
		assert.Equal(t, []string{"first", "second"}, fired)
	})
}
