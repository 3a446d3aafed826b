// Package eventloop provides the cooperative scheduler that drives all
// device, signal and timer dispatch. Everything above it (input, vt,
// monitor) is single-threaded: callbacks run on the dispatch goroutine
// and never overlap.
package eventloop

import (
	"os"
	"time"
)

// FDEvents describes the readiness bits delivered to an FDCallback.
type FDEvents uint32

const (
	// Readable indicates the fd has data to read.
	Readable FDEvents = 1 << iota
	// Hangup indicates the peer or device went away.
	Hangup
)

// TimerID identifies a scheduled timer for cancellation. Zero is never a
// valid id.
type TimerID uint64

// FDCallback is invoked when a registered fd becomes ready.
type FDCallback func(fd int, events FDEvents)

// SignalCallback is invoked when a registered signal is delivered.
type SignalCallback func(sig os.Signal)

// TimerCallback is invoked when a timer fires.
type TimerCallback func()

// Loop is the scheduling contract consumed by the input, vt and monitor
// subsystems. Registration changes are synchronous: after UnregisterFD or
// CancelTimer returns, the callback will not fire again.
type Loop interface {
	RegisterFD(fd int, cb FDCallback) error
	UnregisterFD(fd int) error

	RegisterSignal(sig os.Signal, cb SignalCallback) error
	UnregisterSignal(sig os.Signal) error

	// AddTimer schedules a one-shot callback after d.
	AddTimer(d time.Duration, cb TimerCallback) TimerID
	// AddPeriodic schedules a repeating callback every interval.
	AddPeriodic(interval time.Duration, cb TimerCallback) TimerID
	CancelTimer(id TimerID)
}
