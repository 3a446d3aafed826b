package vt

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/input"
	"github.com/bnema/uterm/internal/logger"
)

// Master owns every VT in the process and serializes the kernel switch
// signal handling: the release/acquire signals are registered once and
// routed to the session they concern. Any kernel VT manipulation that
// bypasses the master is undefined with respect to this design.
type Master struct {
	loop eventloop.Loop
	vts  []*VT // registration order, broadcast order
	refs int

	nextFakeID int
	sigUsers   int // real VTs sharing the switch signal registration
}

// NewMaster creates the process-wide VT coordinator.
func NewMaster(loop eventloop.Loop) (*Master, error) {
	if loop == nil {
		return nil, fmt.Errorf("nil event loop")
	}
	return &Master{loop: loop, refs: 1}, nil
}

// Ref takes an additional reference.
func (m *Master) Ref() { m.refs++ }

// Unref drops a reference; the last release deallocates every remaining
// inactive VT and detaches from the loop synchronously.
func (m *Master) Unref() {
	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs > 0 {
		return
	}
	for _, v := range append([]*VT(nil), m.vts...) {
		if err := v.Deallocate(); err != nil {
			logger.Warnf("VT %d leaked at master teardown: %v", v.id, err)
		}
	}
	logger.Debug("VT master destroyed")
}

// Allocate registers a new session on seat. The allowed types resolve
// against system capability: Real|Fake picks a kernel VT when one is
// available for the seat and falls back to a fake session otherwise.
// Kernel VTs exist only on seat0. A bound input multiplexer starts
// asleep; it wakes when the session activates.
func (m *Master) Allocate(allowed Type, seat string, in *input.Input, name string, cb Callback) (*VT, error) {
	if allowed&(TypeReal|TypeFake) == 0 {
		return nil, fmt.Errorf("vt: no allowed type given")
	}
	if seat == "" {
		seat = "seat0"
	}

	wantReal := allowed&TypeReal != 0 && seat == "seat0" && realVTSupported()
	if !wantReal && allowed&TypeFake == 0 {
		return nil, fmt.Errorf("vt: kernel VTs unavailable on seat %s", seat)
	}

	v := &VT{
		master: m,
		seat:   seat,
		name:   name,
		input:  in,
		cb:     cb,
		refs:   1,
		state:  StateInactive,
	}
	if wantReal {
		rt, err := openRealTerm(m, v)
		if err != nil {
			return nil, err
		}
		v.typ = TypeReal
		v.real = rt
		v.id = rt.vtnr
	} else {
		v.typ = TypeFake
		m.nextFakeID++
		v.id = m.nextFakeID
	}

	if in != nil {
		in.Sleep()
	}
	m.vts = append(m.vts, v)
	logger.Infof("Allocated %s VT %d on seat %s (%s)", typeName(v.typ), v.id, seat, name)
	return v, nil
}

// ActivateAll requests activation of every registered session, in
// registration order. Failures are collected; one session failing does
// not stop the sweep.
func (m *Master) ActivateAll() error {
	var errs []error
	for _, v := range append([]*VT(nil), m.vts...) {
		if err := v.Activate(); err != nil && !errors.Is(err, ErrBusy) {
			logger.Warnf("VT %d activation failed: %v", v.id, err)
			errs = append(errs, fmt.Errorf("vt %d: %w", v.id, err))
		}
	}
	return errors.Join(errs...)
}

// DeactivateAll is the broadcast counterpart of ActivateAll.
func (m *Master) DeactivateAll() error {
	var errs []error
	for _, v := range append([]*VT(nil), m.vts...) {
		if err := v.Deactivate(); err != nil && !errors.Is(err, ErrBusy) {
			logger.Warnf("VT %d deactivation failed: %v", v.id, err)
			errs = append(errs, fmt.Errorf("vt %d: %w", v.id, err))
		}
	}
	return errors.Join(errs...)
}

// yieldSeat forces the currently active session on v's seat out before
// v takes over, keeping at most one session active per seat.
func (m *Master) yieldSeat(v *VT) {
	for _, other := range m.vts {
		if other == v || other.seat != v.seat || other.state != StateActive {
			continue
		}
		// The displaced session gets a forced deactivation: there is
		// no grace when another session claims the seat.
		other.deferred = true
		if err := other.Deactivate(); err != nil {
			logger.Warnf("VT %d would not yield seat %s: %v", other.id, v.seat, err)
		}
	}
}

func (m *Master) remove(v *VT) {
	for i, other := range m.vts {
		if other == v {
			m.vts = append(m.vts[:i], m.vts[i+1:]...)
			return
		}
	}
}

// acquireSignals registers the VT switch signals on first use. All real
// VTs share one registration.
func (m *Master) acquireSignals() error {
	if m.sigUsers > 0 {
		m.sigUsers++
		return nil
	}
	if err := m.loop.RegisterSignal(unix.SIGUSR1, m.handleRelSig); err != nil {
		return fmt.Errorf("failed to register release signal: %w", err)
	}
	if err := m.loop.RegisterSignal(unix.SIGUSR2, m.handleAcqSig); err != nil {
		_ = m.loop.UnregisterSignal(unix.SIGUSR1)
		return fmt.Errorf("failed to register acquire signal: %w", err)
	}
	m.sigUsers = 1
	return nil
}

func (m *Master) releaseSignals() {
	if m.sigUsers == 0 {
		return
	}
	m.sigUsers--
	if m.sigUsers > 0 {
		return
	}
	if err := m.loop.UnregisterSignal(unix.SIGUSR1); err != nil {
		logger.Warnf("Release signal deregistration failed: %v", err)
	}
	if err := m.loop.UnregisterSignal(unix.SIGUSR2); err != nil {
		logger.Warnf("Acquire signal deregistration failed: %v", err)
	}
}

// handleRelSig routes the kernel's release request to the real session
// being switched away from.
func (m *Master) handleRelSig(os.Signal) {
	for _, v := range m.vts {
		if v.real == nil {
			continue
		}
		if v.state == StateActive || v.state == StateDeactivating {
			v.real.handleRelease(v)
			return
		}
	}
	logger.Debug("Release signal with no session in transition")
}

// handleAcqSig routes the kernel's acquisition notification to the real
// session being switched to. A session may be acquired externally (the
// user switching consoles) without a prior Activate call.
func (m *Master) handleAcqSig(os.Signal) {
	for _, v := range m.vts {
		if v.real == nil {
			continue
		}
		if v.state == StateActivating {
			v.real.handleAcquire(v)
			return
		}
	}
	for _, v := range m.vts {
		if v.real == nil || v.state != StateInactive {
			continue
		}
		active, err := ioctlGetActive(v.real.fd())
		if err == nil && active == v.real.vtnr {
			v.real.handleAcquire(v)
			return
		}
	}
	logger.Debug("Acquire signal with no matching session")
}

func typeName(t Type) string {
	if t == TypeReal {
		return "real"
	}
	return "fake"
}
