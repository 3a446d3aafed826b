package vt

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/input"
	"github.com/bnema/uterm/internal/keymap"
)

// fakeKernel stands in for the VT subsystem ioctls.
type fakeKernel struct {
	free   int // vt number handed out by VT_OPENQRY
	active int // currently active vt

	activations []int // every VT_ACTIVATE target, in order
	relDisp     []int // every VT_RELDISP argument, in order
	processMode bool
	kdMode      int
	kbMode      int
}

// install swaps the ioctl layer for the fake and restores it on cleanup.
func (k *fakeKernel) install(t *testing.T) {
	t.Helper()

	origOpenTTY := openTTY
	origOpenQry := ioctlOpenQry
	origGetActive := ioctlGetActive
	origSetMode := ioctlSetMode
	origActivate := ioctlActivate
	origRelDisp := ioctlRelDisp
	origKDSetMode := ioctlKDSetMode
	origKDGetKB := ioctlKDGetKBMode
	origKDSetKB := ioctlKDSetKBMode
	origSupported := realVTSupported
	t.Cleanup(func() {
		openTTY = origOpenTTY
		ioctlOpenQry = origOpenQry
		ioctlGetActive = origGetActive
		ioctlSetMode = origSetMode
		ioctlActivate = origActivate
		ioctlRelDisp = origRelDisp
		ioctlKDSetMode = origKDSetMode
		ioctlKDGetKBMode = origKDGetKB
		ioctlKDSetKBMode = origKDSetKB
		realVTSupported = origSupported
	})

	openTTY = func(string) (*os.File, error) {
		return os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	ioctlOpenQry = func(int) (int, error) { return k.free, nil }
	ioctlGetActive = func(int) (int, error) { return k.active, nil }
	ioctlSetMode = func(_ int, process bool, _, _ int16) error {
		k.processMode = process
		return nil
	}
	ioctlActivate = func(_, vtnr int) error {
		k.activations = append(k.activations, vtnr)
		return nil
	}
	ioctlRelDisp = func(_, arg int) error {
		k.relDisp = append(k.relDisp, arg)
		return nil
	}
	ioctlKDSetMode = func(_, mode int) error { k.kdMode = mode; return nil }
	ioctlKDGetKBMode = func(int) (int, error) { return k.kbMode, nil }
	ioctlKDSetKBMode = func(_, mode int) error { k.kbMode = mode; return nil }
	realVTSupported = func() bool { return true }
}

func noRealVT(t *testing.T) {
	t.Helper()
	orig := realVTSupported
	realVTSupported = func() bool { return false }
	t.Cleanup(func() { realVTSupported = orig })
}

// recorder collects transition events and vetoes deactivations a
// scripted number of times.
type recorder struct {
	events []Event
	vetoes int
}

func (r *recorder) cb(_ *VT, ev *Event) int {
	r.events = append(r.events, *ev)
	if ev.Action == ActionDeactivate && ev.Flags&FlagForce == 0 && r.vetoes > 0 {
		r.vetoes--
		return 1
	}
	return 0
}

func (r *recorder) last() Event {
	return r.events[len(r.events)-1]
}

func testInput(t *testing.T, loop eventloop.Loop) *input.Input {
	t.Helper()
	in, err := input.New(loop, keymap.Config{Layout: "us"}, 0, 0)
	require.NoError(t, err)
	return in
}

func TestAllocate(t *testing.T) {
	noRealVT(t)
	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	t.Run("nil loop is rejected", func(t *testing.T) {
		_, err := NewMaster(nil)
		assert.Error(t, err)
	})

	t.Run("no allowed type is rejected", func(t *testing.T) {
		_, err := m.Allocate(0, "", nil, "test", nil)
		assert.Error(t, err)
	})

	t.Run("real or fake falls back to fake without kernel VTs", func(t *testing.T) {
		v, err := m.Allocate(TypeReal|TypeFake, "", nil, "test", nil)
		require.NoError(t, err)
		assert.Equal(t, TypeFake, v.Type())
		assert.Equal(t, "seat0", v.Seat())
		assert.Equal(t, StateInactive, v.State())
		v.Unref()
	})

	t.Run("real-only fails without kernel VTs", func(t *testing.T) {
		_, err := m.Allocate(TypeReal, "", nil, "test", nil)
		assert.Error(t, err)
	})

	t.Run("non seat0 seats never get a kernel VT", func(t *testing.T) {
		k := &fakeKernel{free: 7, active: 1}
		k.install(t)
		v, err := m.Allocate(TypeReal|TypeFake, "seat1", nil, "test", nil)
		require.NoError(t, err)
		assert.Equal(t, TypeFake, v.Type())
		v.Unref()
	})

	t.Run("bound input is put to sleep", func(t *testing.T) {
		in := testInput(t, loop)
		require.True(t, in.IsAwake())
		v, err := m.Allocate(TypeFake, "", in, "test", nil)
		require.NoError(t, err)
		assert.False(t, in.IsAwake())
		v.Unref()
	})

	t.Run("fake ids are distinct", func(t *testing.T) {
		v1, err := m.Allocate(TypeFake, "", nil, "a", nil)
		require.NoError(t, err)
		v2, err := m.Allocate(TypeFake, "", nil, "b", nil)
		require.NoError(t, err)
		assert.NotEqual(t, v1.ID(), v2.ID())
		v1.Unref()
		v2.Unref()
	})
}

func TestFakeActivation(t *testing.T) {
	noRealVT(t)
	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	rec := &recorder{}
	in := testInput(t, loop)
	v, err := m.Allocate(TypeFake, "", in, "test", rec.cb)
	require.NoError(t, err)
	defer v.Unref()

	t.Run("activation is synchronous", func(t *testing.T) {
		require.NoError(t, v.Activate())
		assert.Equal(t, StateActive, v.State())
		assert.True(t, in.IsAwake())
		require.Len(t, rec.events, 1)
		assert.Equal(t, ActionActivate, rec.last().Action)
	})

	t.Run("activating an active session is a no-op", func(t *testing.T) {
		require.NoError(t, v.Activate())
		assert.Len(t, rec.events, 1)
	})

	t.Run("deactivation flips state and input together", func(t *testing.T) {
		require.NoError(t, v.Deactivate())
		assert.Equal(t, StateInactive, v.State())
		assert.False(t, in.IsAwake())
		assert.Equal(t, ActionDeactivate, rec.last().Action)
	})

	t.Run("deactivating an inactive session is a no-op", func(t *testing.T) {
		before := len(rec.events)
		require.NoError(t, v.Deactivate())
		assert.Len(t, rec.events, before)
	})
}

func TestDeferredDeactivation(t *testing.T) {
	noRealVT(t)
	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	rec := &recorder{vetoes: 5}
	v, err := m.Allocate(TypeFake, "", nil, "test", rec.cb)
	require.NoError(t, err)
	defer v.Unref()
	require.NoError(t, v.Activate())

	t.Run("subscriber may defer once", func(t *testing.T) {
		require.NoError(t, v.Deactivate())
		assert.Equal(t, StateActive, v.State())
		assert.Equal(t, Flags(0), rec.last().Flags)
	})

	t.Run("second request is forced through remaining vetoes", func(t *testing.T) {
		require.NoError(t, v.Deactivate())
		assert.Equal(t, StateInactive, v.State())
		assert.Equal(t, FlagForce, rec.last().Flags&FlagForce)
	})

	t.Run("retry reissues a deferred deactivation", func(t *testing.T) {
		rec.vetoes = 1
		require.NoError(t, v.Activate())
		require.NoError(t, v.Deactivate())
		require.Equal(t, StateActive, v.State())

		require.NoError(t, v.Retry())
		assert.Equal(t, StateInactive, v.State())
	})

	t.Run("retry with nothing pending is a no-op", func(t *testing.T) {
		before := len(rec.events)
		require.NoError(t, v.Retry())
		assert.Len(t, rec.events, before)
	})
}

func TestSingleActivePerSeat(t *testing.T) {
	noRealVT(t)
	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	recA := &recorder{vetoes: 5}
	recB := &recorder{}
	a, err := m.Allocate(TypeFake, "seat0", nil, "a", recA.cb)
	require.NoError(t, err)
	b, err := m.Allocate(TypeFake, "seat0", nil, "b", recB.cb)
	require.NoError(t, err)
	other, err := m.Allocate(TypeFake, "seat1", nil, "c", nil)
	require.NoError(t, err)
	defer a.Unref()
	defer b.Unref()
	defer other.Unref()

	require.NoError(t, a.Activate())
	require.NoError(t, other.Activate())

	t.Run("activating displaces the seat holder without grace", func(t *testing.T) {
		require.NoError(t, b.Activate())
		assert.Equal(t, StateActive, b.State())
		assert.Equal(t, StateInactive, a.State())
		// The displaced session was forced out despite its veto.
		assert.Equal(t, FlagForce, recA.last().Flags&FlagForce)
	})

	t.Run("other seats are untouched", func(t *testing.T) {
		assert.Equal(t, StateActive, other.State())
	})

	require.NoError(t, m.DeactivateAll())
}

func TestSeatExclusivityAcrossBackings(t *testing.T) {
	k := &fakeKernel{free: 7, active: 2, kbMode: kbModeUnicd}
	k.install(t)

	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	recFake := &recorder{vetoes: 5}
	fakeVT, err := m.Allocate(TypeFake, "seat0", nil, "fake", recFake.cb)
	require.NoError(t, err)
	realVT, err := m.Allocate(TypeReal, "seat0", nil, "real", nil)
	require.NoError(t, err)

	require.NoError(t, fakeVT.Activate())
	require.Equal(t, StateActive, fakeVT.State())

	t.Run("completed kernel switch displaces the fake holder", func(t *testing.T) {
		require.NoError(t, realVT.Activate())
		// Both sessions hold seat0 until the kernel confirms; the
		// acquisition must force the fake one out.
		k.active = 7
		loop.FireSignal(unix.SIGUSR2)

		assert.Equal(t, StateActive, realVT.State())
		assert.Equal(t, StateInactive, fakeVT.State())
		assert.Equal(t, FlagForce, recFake.last().Flags&FlagForce)
	})

	t.Run("external acquisition displaces the fake holder too", func(t *testing.T) {
		require.NoError(t, realVT.Deactivate())
		k.active = 2
		loop.FireSignal(unix.SIGUSR1)
		require.Equal(t, StateInactive, realVT.State())

		require.NoError(t, fakeVT.Activate())
		require.Equal(t, StateActive, fakeVT.State())

		// The user switches consoles by hand, no Activate call.
		k.active = 7
		loop.FireSignal(unix.SIGUSR2)
		assert.Equal(t, StateActive, realVT.State())
		assert.Equal(t, StateInactive, fakeVT.State())
	})

	fakeVT.Unref()
	realVT.Unref()
}

func TestBroadcast(t *testing.T) {
	noRealVT(t)
	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	a, err := m.Allocate(TypeFake, "seat0", nil, "a", nil)
	require.NoError(t, err)
	b, err := m.Allocate(TypeFake, "seat1", nil, "b", nil)
	require.NoError(t, err)
	defer a.Unref()
	defer b.Unref()

	require.NoError(t, m.ActivateAll())
	assert.Equal(t, StateActive, a.State())
	assert.Equal(t, StateActive, b.State())

	require.NoError(t, m.DeactivateAll())
	assert.Equal(t, StateInactive, a.State())
	assert.Equal(t, StateInactive, b.State())
}

func TestDeallocate(t *testing.T) {
	noRealVT(t)
	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	t.Run("active sessions cannot be deallocated", func(t *testing.T) {
		v, err := m.Allocate(TypeFake, "", nil, "test", nil)
		require.NoError(t, err)
		require.NoError(t, v.Activate())
		assert.Error(t, v.Deallocate())

		require.NoError(t, v.Deactivate())
		assert.NoError(t, v.Deallocate())
	})

	t.Run("last release while active forces the session down", func(t *testing.T) {
		rec := &recorder{vetoes: 5}
		in := testInput(t, loop)
		v, err := m.Allocate(TypeFake, "", in, "test", rec.cb)
		require.NoError(t, err)
		require.NoError(t, v.Activate())
		require.True(t, in.IsAwake())

		v.Unref()
		assert.Equal(t, StateInactive, v.State())
		assert.False(t, in.IsAwake())
		assert.Equal(t, ActionDeactivate, rec.last().Action)
		assert.Equal(t, FlagForce, rec.last().Flags&FlagForce)
		assert.NotContains(t, m.vts, v)
	})

	t.Run("master teardown deallocates the rest", func(t *testing.T) {
		m2, err := NewMaster(loop)
		require.NoError(t, err)
		v, err := m2.Allocate(TypeFake, "", nil, "test", nil)
		require.NoError(t, err)
		_ = v
		m2.Unref()
	})
}

func TestRealSwitchProtocol(t *testing.T) {
	k := &fakeKernel{free: 7, active: 2, kbMode: kbModeUnicd}
	k.install(t)

	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	rec := &recorder{}
	in := testInput(t, loop)
	v, err := m.Allocate(TypeReal, "seat0", in, "test", rec.cb)
	require.NoError(t, err)

	require.Equal(t, TypeReal, v.Type())
	assert.Equal(t, 7, v.ID())
	assert.True(t, k.processMode)
	assert.True(t, loop.HasSignal(unix.SIGUSR1))
	assert.True(t, loop.HasSignal(unix.SIGUSR2))

	t.Run("activate runs the acquire negotiation", func(t *testing.T) {
		require.NoError(t, v.Activate())
		assert.Equal(t, []int{7}, k.activations)
		assert.Equal(t, StateActivating, v.State())
		assert.False(t, in.IsAwake())

		// Kernel finished the switch and signals acquisition.
		k.active = 7
		loop.FireSignal(unix.SIGUSR2)
		assert.Equal(t, StateActive, v.State())
		assert.True(t, in.IsAwake())
		assert.Equal(t, []int{vtAckAcq}, k.relDisp)
		assert.Equal(t, kdGraphics, k.kdMode)
		assert.Equal(t, kbModeOff, k.kbMode)
		assert.Equal(t, ActionActivate, rec.last().Action)
	})

	t.Run("concurrent switch requests are rejected", func(t *testing.T) {
		require.NoError(t, v.Deactivate())
		assert.Equal(t, StateDeactivating, v.State())
		assert.ErrorIs(t, v.Activate(), ErrBusy)
		assert.ErrorIs(t, v.Deactivate(), ErrBusy)
	})

	t.Run("release signal completes the deactivation", func(t *testing.T) {
		assert.Equal(t, 2, k.activations[len(k.activations)-1])

		k.active = 2
		loop.FireSignal(unix.SIGUSR1)
		assert.Equal(t, StateInactive, v.State())
		assert.False(t, in.IsAwake())
		assert.Equal(t, 1, k.relDisp[len(k.relDisp)-1])
		assert.Equal(t, kdTextMode, k.kdMode)
		assert.Equal(t, kbModeUnicd, k.kbMode)
	})

	t.Run("activating the already active vt settles immediately", func(t *testing.T) {
		k.active = 7
		before := len(k.activations)
		require.NoError(t, v.Activate())
		assert.Equal(t, StateActive, v.State())
		assert.Len(t, k.activations, before)
	})

	t.Run("deallocate restores auto switching and signals", func(t *testing.T) {
		k.active = 2
		loop.FireSignal(unix.SIGUSR1) // kernel takes the vt away
		require.Equal(t, StateInactive, v.State())

		v.Unref()
		assert.False(t, k.processMode)
		assert.False(t, loop.HasSignal(unix.SIGUSR1))
		assert.False(t, loop.HasSignal(unix.SIGUSR2))
	})
}

func TestRealDeferredRelease(t *testing.T) {
	k := &fakeKernel{free: 7, active: 2, kbMode: kbModeUnicd}
	k.install(t)

	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	rec := &recorder{vetoes: 5}
	v, err := m.Allocate(TypeReal, "seat0", nil, "test", rec.cb)
	require.NoError(t, err)
	defer func() {
		rec.vetoes = 0
		_ = v.Deactivate()
		k.active = 2
		loop.FireSignal(unix.SIGUSR1)
		v.Unref()
	}()

	require.NoError(t, v.Activate())
	k.active = 7
	loop.FireSignal(unix.SIGUSR2)
	require.Equal(t, StateActive, v.State())

	t.Run("vetoed release refuses the switch once", func(t *testing.T) {
		loop.FireSignal(unix.SIGUSR1) // user switches consoles
		assert.Equal(t, StateActive, v.State())
		assert.Equal(t, 0, k.relDisp[len(k.relDisp)-1])
	})

	t.Run("switch is reasserted and forced through", func(t *testing.T) {
		before := len(k.activations)
		loop.AdvanceTime(reassertDelay)
		require.Greater(t, len(k.activations), before)
		assert.Equal(t, StateDeactivating, v.State())

		k.active = 2
		loop.FireSignal(unix.SIGUSR1)
		assert.Equal(t, StateInactive, v.State())
		assert.Equal(t, FlagForce, rec.last().Flags&FlagForce)
		assert.Equal(t, 1, k.relDisp[len(k.relDisp)-1])
	})
}

func TestRealExternalAcquire(t *testing.T) {
	k := &fakeKernel{free: 7, active: 2, kbMode: kbModeUnicd}
	k.install(t)

	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	rec := &recorder{}
	v, err := m.Allocate(TypeReal, "seat0", nil, "test", rec.cb)
	require.NoError(t, err)
	defer v.Unref()

	// The user switches to our vt by hand; no Activate call was made.
	k.active = 7
	loop.FireSignal(unix.SIGUSR2)
	assert.Equal(t, StateActive, v.State())
	assert.Equal(t, ActionActivate, rec.last().Action)

	k.active = 2
	loop.FireSignal(unix.SIGUSR1)
	require.Equal(t, StateInactive, v.State())
}

func TestRealHangup(t *testing.T) {
	k := &fakeKernel{free: 7, active: 2, kbMode: kbModeUnicd}
	k.install(t)

	loop := eventloop.NewManual()
	m, err := NewMaster(loop)
	require.NoError(t, err)

	rec := &recorder{}
	in := testInput(t, loop)
	v, err := m.Allocate(TypeReal, "seat0", in, "test", rec.cb)
	require.NoError(t, err)
	defer v.Unref()

	require.NoError(t, v.Activate())
	k.active = 7
	loop.FireSignal(unix.SIGUSR2)
	require.Equal(t, StateActive, v.State())

	loop.FireFD(v.real.fd(), eventloop.Hangup)
	assert.Equal(t, StateInactive, v.State())
	assert.False(t, in.IsAwake())
	assert.Equal(t, ActionHup, rec.last().Action)
}
