// Package vt manages switchable terminal sessions. A Master coordinates
// every VT in the process; each VT is either kernel-backed (a real
// /dev/ttyN driven through the VT switch protocol) or fake (an
// in-process session for systems without CONFIG_VT or nested
// compositors).
//
// When a VT carries an input multiplexer, the multiplexer's wake state
// is kept synchronized with the VT's active state: both flip inside the
// same synchronous transition step.
package vt

import (
	"errors"
	"fmt"

	"github.com/bnema/uterm/internal/input"
	"github.com/bnema/uterm/internal/logger"
)

// Action identifies a transition request delivered to the subscriber.
type Action int

const (
	ActionActivate Action = iota
	ActionDeactivate
	ActionHup
)

func (a Action) String() string {
	switch a {
	case ActionActivate:
		return "activate"
	case ActionDeactivate:
		return "deactivate"
	case ActionHup:
		return "hup"
	}
	return "unknown"
}

// Flags qualify a transition event.
type Flags uint32

// FlagForce marks a transition that will complete regardless of the
// subscriber's return value.
const FlagForce Flags = 0x01

// Event is delivered to the VT subscriber on every transition request.
type Event struct {
	Action Action
	Flags  Flags
	Target int // session identifier (vt number for real VTs)
}

// Callback handles transition requests. For ActionDeactivate a non-zero
// return defers the switch exactly once; afterwards the request is
// reasserted with FlagForce and the return value is ignored. For
// ActionActivate and ActionHup the return value is ignored.
type Callback func(vt *VT, ev *Event) int

// Type selects the backing of a session. The values combine: Real|Fake
// means "either, resolved from system capability at allocation time".
type Type uint32

const (
	TypeReal Type = 1 << iota
	TypeFake
)

// State is the per-VT session state.
type State int

const (
	StateInactive State = iota
	StateActivating
	StateActive
	StateDeactivating
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	}
	return "unknown"
}

// ErrBusy is returned when a transition is requested while another one
// is still in flight.
var ErrBusy = errors.New("vt: switch already in progress")

// VT is one switchable session.
type VT struct {
	master *Master
	typ    Type
	state  State
	seat   string
	name   string
	input  *input.Input
	cb     Callback
	refs   int
	id     int

	// deferred is the one-shot grace flag: set after the subscriber
	// vetoed a deactivation once, cleared when the switch completes.
	deferred bool

	real *realTerm // nil for fake VTs
}

// Type returns the resolved backing type (exactly one of TypeReal or
// TypeFake).
func (v *VT) Type() Type { return v.typ }

// State returns the current session state.
func (v *VT) State() State { return v.state }

// ID returns the session identifier (the kernel vt number for real VTs).
func (v *VT) ID() int { return v.id }

// Seat returns the seat this session belongs to.
func (v *VT) Seat() string { return v.seat }

// Ref takes an additional reference.
func (v *VT) Ref() { v.refs++ }

// Unref drops a reference; the last release deallocates. A session
// still active at that point is brought down first, without grace and
// without waiting for the kernel negotiation.
func (v *VT) Unref() {
	if v.refs == 0 {
		return
	}
	v.refs--
	if v.refs > 0 {
		return
	}
	if v.state != StateInactive {
		v.sendEvent(ActionDeactivate, FlagForce)
		v.leave()
	}
	if err := v.Deallocate(); err != nil {
		logger.Warnf("VT %d leaked on last release: %v", v.id, err)
	}
}

// Activate requests a switch to this session. Fake sessions complete
// synchronously; real sessions run the kernel switch negotiation and
// settle asynchronously unless the target vt is already active. A
// kernel-level failure is returned and leaves the state unchanged.
func (v *VT) Activate() error {
	switch v.state {
	case StateActive:
		return nil
	case StateActivating, StateDeactivating:
		return ErrBusy
	}
	if v.typ == TypeFake {
		v.enter(0)
		return nil
	}
	return v.real.activate(v)
}

// Deactivate requests a switch away from this session. The subscriber
// may defer the request exactly once by returning non-zero; calling
// Deactivate (or Retry) again reasserts it with FlagForce.
func (v *VT) Deactivate() error {
	switch v.state {
	case StateInactive:
		return nil
	case StateActivating, StateDeactivating:
		return ErrBusy
	}
	if v.typ == TypeFake {
		var flags Flags
		if v.deferred {
			flags |= FlagForce
		}
		ret := v.sendEvent(ActionDeactivate, flags)
		if ret != 0 && !v.deferred {
			v.deferred = true
			logger.Debugf("VT %d deactivation deferred by subscriber", v.id)
			return nil
		}
		v.leave()
		return nil
	}
	return v.real.deactivate(v)
}

// Retry re-issues a pending or previously failed switch, including a
// deactivation the subscriber deferred.
func (v *VT) Retry() error {
	if v.typ == TypeFake {
		if v.deferred && v.state == StateActive {
			return v.Deactivate()
		}
		return nil
	}
	return v.real.retry(v)
}

// Deallocate destroys the session. Only legal from the inactive state.
func (v *VT) Deallocate() error {
	if v.state != StateInactive {
		return fmt.Errorf("vt: cannot deallocate while %s", v.state)
	}
	if v.real != nil {
		v.real.close(v)
		v.real = nil
	}
	v.master.remove(v)
	logger.Debugf("VT %d deallocated", v.id)
	return nil
}

// enter settles the session into the active state. Every path that
// activates a session, fake or kernel-backed, goes through here, so the
// seat holder is displaced first and at most one session per seat is
// ever active. The state flip, the input wake and the subscriber
// notification happen in one synchronous step so the wake binding is
// never observable out of sync.
func (v *VT) enter(flags Flags) {
	v.master.yieldSeat(v)
	if v.real != nil {
		v.real.enterTerm(v)
	}
	v.state = StateActive
	v.deferred = false
	if v.input != nil {
		v.input.WakeUp()
	}
	v.sendEvent(ActionActivate, flags)
	logger.Infof("VT %d active (seat %s)", v.id, v.seat)
}

// leave settles the session into the inactive state; counterpart of
// enter.
func (v *VT) leave() {
	if v.input != nil {
		v.input.Sleep()
	}
	v.state = StateInactive
	v.deferred = false
	if v.real != nil {
		v.real.leaveTerm(v)
	}
	logger.Infof("VT %d inactive (seat %s)", v.id, v.seat)
}

// hangup handles an externally forced HUP: the session drops to
// inactive, the subscriber is told, no acknowledgement is expected.
func (v *VT) hangup() {
	if v.input != nil {
		v.input.Sleep()
	}
	v.state = StateInactive
	v.deferred = false
	v.sendEvent(ActionHup, 0)
	logger.Warnf("VT %d hung up", v.id)
}

func (v *VT) sendEvent(action Action, flags Flags) int {
	if v.cb == nil {
		return 0
	}
	return v.cb(v, &Event{Action: action, Flags: flags, Target: v.id})
}
