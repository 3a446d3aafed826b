package eventloop

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// Manual is a deterministic Loop for tests and nested environments where
// no real fds or signals are available. Events are injected explicitly
// with FireFD, FireSignal and AdvanceTime; callbacks run synchronously
// inside those calls.
type Manual struct {
	fds     map[int]FDCallback
	signals map[os.Signal]SignalCallback
	timers  map[TimerID]*manualTimer
	nextID  TimerID
	now     time.Time
}

type manualTimer struct {
	id       TimerID
	deadline time.Time
	interval time.Duration
	cb       TimerCallback
}

// NewManual creates a manual loop with its clock at an arbitrary fixed
// origin.
func NewManual() *Manual {
	return &Manual{
		fds:     make(map[int]FDCallback),
		signals: make(map[os.Signal]SignalCallback),
		timers:  make(map[TimerID]*manualTimer),
		now:     time.Unix(0, 0),
	}
}

func (m *Manual) RegisterFD(fd int, cb FDCallback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for fd %d", fd)
	}
	if _, exists := m.fds[fd]; exists {
		return fmt.Errorf("fd %d already registered", fd)
	}
	m.fds[fd] = cb
	return nil
}

func (m *Manual) UnregisterFD(fd int) error {
	if _, exists := m.fds[fd]; !exists {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(m.fds, fd)
	return nil
}

func (m *Manual) RegisterSignal(sig os.Signal, cb SignalCallback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for signal %v", sig)
	}
	if _, exists := m.signals[sig]; exists {
		return fmt.Errorf("signal %v already registered", sig)
	}
	m.signals[sig] = cb
	return nil
}

func (m *Manual) UnregisterSignal(sig os.Signal) error {
	if _, exists := m.signals[sig]; !exists {
		return fmt.Errorf("signal %v not registered", sig)
	}
	delete(m.signals, sig)
	return nil
}

func (m *Manual) AddTimer(d time.Duration, cb TimerCallback) TimerID {
	return m.addTimer(d, 0, cb)
}

func (m *Manual) AddPeriodic(interval time.Duration, cb TimerCallback) TimerID {
	return m.addTimer(interval, interval, cb)
}

func (m *Manual) addTimer(d, interval time.Duration, cb TimerCallback) TimerID {
	m.nextID++
	m.timers[m.nextID] = &manualTimer{
		id:       m.nextID,
		deadline: m.now.Add(d),
		interval: interval,
		cb:       cb,
	}
	return m.nextID
}

func (m *Manual) CancelTimer(id TimerID) {
	delete(m.timers, id)
}

// HasFD reports whether fd is currently registered.
func (m *Manual) HasFD(fd int) bool {
	_, ok := m.fds[fd]
	return ok
}

// HasSignal reports whether sig is currently registered.
func (m *Manual) HasSignal(sig os.Signal) bool {
	_, ok := m.signals[sig]
	return ok
}

// TimerCount returns the number of live timers.
func (m *Manual) TimerCount() int {
	return len(m.timers)
}

// FireFD delivers a readiness event to the callback registered for fd.
func (m *Manual) FireFD(fd int, events FDEvents) {
	if cb, ok := m.fds[fd]; ok {
		cb(fd, events)
	}
}

// FireSignal delivers sig to its registered callback.
func (m *Manual) FireSignal(sig os.Signal) {
	if cb, ok := m.signals[sig]; ok {
		cb(sig)
	}
}

// AdvanceTime moves the virtual clock forward and fires every timer due
// within the window, in deadline order. Periodic timers may fire several
// times in one call.
func (m *Manual) AdvanceTime(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.earliestDue(target)
		if t == nil {
			break
		}
		m.now = t.deadline
		if t.interval > 0 {
			t.deadline = t.deadline.Add(t.interval)
		} else {
			delete(m.timers, t.id)
		}
		t.cb()
	}
	m.now = target
}

func (m *Manual) earliestDue(limit time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.deadline.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}
