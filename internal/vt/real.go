package vt

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/logger"
)

const tty0Path = "/dev/tty0"

// reassertDelay spaces the re-issued switch after a deferred
// deactivation so the subscriber's flush has a chance to run first.
const reassertDelay = 50 * time.Millisecond

// realVTSupported probes whether the kernel VT subsystem is usable.
// Swapped in tests.
var realVTSupported = func() bool {
	tty, err := openTTY(tty0Path)
	if err != nil {
		return false
	}
	defer func() { _ = tty.Close() }()
	_, err = ioctlGetActive(int(tty.Fd()))
	return err == nil
}

// realTerm is the kernel-backed session state: an open /dev/ttyN under
// process-controlled switching.
type realTerm struct {
	tty     *os.File
	vtnr    int
	prev    int // vt active before we switched in; deactivation target
	savedKB int

	registered bool // tty fd registered for hangup detection
}

// openRealTerm allocates a free kernel VT and installs the switch
// protocol. Any failure tears down what was set up and reports a
// construction error.
func openRealTerm(m *Master, v *VT) (*realTerm, error) {
	tty0, err := openTTY(tty0Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", tty0Path, err)
	}
	defer func() { _ = tty0.Close() }()

	vtnr, err := ioctlOpenQry(int(tty0.Fd()))
	if err != nil {
		return nil, err
	}
	prev, err := ioctlGetActive(int(tty0.Fd()))
	if err != nil {
		return nil, err
	}

	tty, err := openTTY(fmt.Sprintf("/dev/tty%d", vtnr))
	if err != nil {
		return nil, fmt.Errorf("failed to open vt %d: %w", vtnr, err)
	}
	rt := &realTerm{tty: tty, vtnr: vtnr, prev: prev}

	if err := ioctlSetMode(int(tty.Fd()), true, int16(unix.SIGUSR1), int16(unix.SIGUSR2)); err != nil {
		_ = tty.Close()
		return nil, err
	}
	if kb, err := ioctlKDGetKBMode(int(tty.Fd())); err != nil {
		logger.Warnf("Cannot read keyboard mode of vt %d: %v", vtnr, err)
		rt.savedKB = kbModeUnicd
	} else {
		rt.savedKB = kb
	}

	if err := m.loop.RegisterFD(int(tty.Fd()), func(fd int, events eventloop.FDEvents) {
		if events&eventloop.Hangup != 0 {
			v.hangup()
		}
	}); err != nil {
		logger.Warnf("Cannot watch vt %d for hangup: %v", vtnr, err)
	} else {
		rt.registered = true
	}

	if err := m.acquireSignals(); err != nil {
		if rt.registered {
			_ = m.loop.UnregisterFD(rt.fd())
		}
		_ = ioctlSetMode(rt.fd(), false, 0, 0)
		_ = tty.Close()
		return nil, err
	}
	logger.Infof("Opened kernel VT %d (previous active: %d)", vtnr, prev)
	return rt, nil
}

func (rt *realTerm) fd() int { return int(rt.tty.Fd()) }

// activate issues the kernel switch. When the target vt is already the
// active one there is no signal round-trip and the session settles
// immediately.
func (rt *realTerm) activate(v *VT) error {
	active, err := ioctlGetActive(rt.fd())
	if err != nil {
		return err
	}
	if active == rt.vtnr {
		v.enter(0)
		return nil
	}
	rt.prev = active
	if err := ioctlActivate(rt.fd(), rt.vtnr); err != nil {
		return err
	}
	v.state = StateActivating
	logger.Debugf("VT %d switch requested, awaiting acquisition", rt.vtnr)
	return nil
}

// deactivate asks the kernel to switch back to the previously active vt.
// Completion runs through the release signal.
func (rt *realTerm) deactivate(v *VT) error {
	target := rt.prev
	if target == 0 || target == rt.vtnr {
		return fmt.Errorf("vt %d: no previous vt to return to", rt.vtnr)
	}
	if err := ioctlActivate(rt.fd(), target); err != nil {
		return err
	}
	v.state = StateDeactivating
	logger.Debugf("VT %d release requested, awaiting signal", rt.vtnr)
	return nil
}

func (rt *realTerm) retry(v *VT) error {
	switch {
	case v.state == StateActivating:
		return ioctlActivate(rt.fd(), rt.vtnr)
	case v.state == StateDeactivating, v.deferred && v.state == StateActive:
		if err := ioctlActivate(rt.fd(), rt.prev); err != nil {
			return err
		}
		v.state = StateDeactivating
	}
	return nil
}

// handleAcquire completes an inbound switch: acknowledge the
// acquisition, then settle.
func (rt *realTerm) handleAcquire(v *VT) {
	if err := ioctlRelDisp(rt.fd(), vtAckAcq); err != nil {
		logger.Errorf("VT %d acquisition ack failed: %v", rt.vtnr, err)
		return
	}
	v.enter(0)
}

// handleRelease answers the kernel's release request. The subscriber
// may refuse once; the switch is then reasserted and the second request
// carries FlagForce.
func (rt *realTerm) handleRelease(v *VT) {
	var flags Flags
	if v.deferred {
		flags |= FlagForce
	}
	ret := v.sendEvent(ActionDeactivate, flags)
	if ret != 0 && flags&FlagForce == 0 {
		v.deferred = true
		v.state = StateActive
		if err := ioctlRelDisp(rt.fd(), 0); err != nil {
			logger.Errorf("VT %d release refusal failed: %v", rt.vtnr, err)
		}
		v.master.loop.AddTimer(reassertDelay, func() {
			if v.deferred && v.state == StateActive {
				if err := rt.retry(v); err != nil {
					logger.Errorf("VT %d switch reassert failed: %v", rt.vtnr, err)
				}
			}
		})
		logger.Debugf("VT %d release refused once, switch will be reasserted", rt.vtnr)
		return
	}
	v.leave()
	if err := ioctlRelDisp(rt.fd(), 1); err != nil {
		logger.Errorf("VT %d release ack failed: %v", rt.vtnr, err)
	}
}

// enterTerm puts the vt into graphics mode with the kernel keyboard
// switched off; the input multiplexer owns the keyboard while active.
func (rt *realTerm) enterTerm(v *VT) {
	if err := ioctlKDSetMode(rt.fd(), kdGraphics); err != nil {
		logger.Warnf("VT %d: cannot enter graphics mode: %v", rt.vtnr, err)
	}
	if err := ioctlKDSetKBMode(rt.fd(), kbModeOff); err != nil {
		logger.Warnf("VT %d: cannot disable kernel keyboard: %v", rt.vtnr, err)
	}
}

// leaveTerm restores text mode and the saved keyboard mode.
func (rt *realTerm) leaveTerm(v *VT) {
	kb := rt.savedKB
	if kb == kbModeOff {
		kb = kbModeUnicd
	}
	if err := ioctlKDSetKBMode(rt.fd(), kb); err != nil {
		logger.Warnf("VT %d: cannot restore keyboard mode: %v", rt.vtnr, err)
	}
	if err := ioctlKDSetMode(rt.fd(), kdTextMode); err != nil {
		logger.Warnf("VT %d: cannot restore text mode: %v", rt.vtnr, err)
	}
}

// close releases the kernel vt: automatic switching restored, fd
// deregistered and closed, switch signals dropped with the master.
func (rt *realTerm) close(v *VT) {
	if err := ioctlSetMode(rt.fd(), false, 0, 0); err != nil {
		logger.Warnf("VT %d: cannot restore auto switching: %v", rt.vtnr, err)
	}
	if rt.registered {
		if err := v.master.loop.UnregisterFD(rt.fd()); err != nil {
			logger.Warnf("VT %d: fd deregistration failed: %v", rt.vtnr, err)
		}
		rt.registered = false
	}
	_ = rt.tty.Close()
	v.master.releaseSignals()
}
