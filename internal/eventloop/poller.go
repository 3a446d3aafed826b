package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/bnema/uterm/internal/logger"
	"golang.org/x/sys/unix"
)

// maxPollWait caps a single poll so Run stays responsive to context
// cancellation without a dedicated wakeup fd.
const maxPollWait = 200 * time.Millisecond

// Poller is the production Loop implementation, built on ppoll(2).
// Signals are bridged from os/signal onto the dispatch goroutine through
// a self-pipe so every callback, fd, signal or timer, runs on the same
// goroutine.
type Poller struct {
	fds     map[int]FDCallback
	signals map[os.Signal]SignalCallback

	timers  timerHeap
	nextID  TimerID
	cancels map[TimerID]*timer

	sigCh   chan os.Signal
	sigPipe [2]int
	done    chan struct{}
}

// NewPoller creates a poller with its signal pipe ready.
func NewPoller() (*Poller, error) {
	p := &Poller{
		fds:     make(map[int]FDCallback),
		signals: make(map[os.Signal]SignalCallback),
		cancels: make(map[TimerID]*timer),
		sigCh:   make(chan os.Signal, 16),
		done:    make(chan struct{}),
	}
	if err := unix.Pipe2(p.sigPipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create signal pipe: %w", err)
	}
	go p.forwardSignals()
	return p, nil
}

// Close releases the signal pipe and stops the forwarding goroutine. The
// poller must not be dispatched afterwards.
func (p *Poller) Close() {
	close(p.done)
	signal.Stop(p.sigCh)
	_ = unix.Close(p.sigPipe[0])
	_ = unix.Close(p.sigPipe[1])
}

// forwardSignals moves deliveries from the os/signal goroutine onto the
// poll fd. The byte written is a wakeup; the signal value travels in
// sigCh.
func (p *Poller) forwardSignals() {
	for {
		select {
		case <-p.done:
			return
		case <-p.sigCh:
			var b [1]byte
			if _, err := unix.Write(p.sigPipe[1], b[:]); err != nil && err != unix.EAGAIN {
				logger.Warnf("Signal pipe write failed: %v", err)
			}
		}
	}
}

func (p *Poller) RegisterFD(fd int, cb FDCallback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for fd %d", fd)
	}
	if _, exists := p.fds[fd]; exists {
		return fmt.Errorf("fd %d already registered", fd)
	}
	p.fds[fd] = cb
	return nil
}

func (p *Poller) UnregisterFD(fd int) error {
	if _, exists := p.fds[fd]; !exists {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(p.fds, fd)
	return nil
}

func (p *Poller) RegisterSignal(sig os.Signal, cb SignalCallback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for signal %v", sig)
	}
	if _, exists := p.signals[sig]; exists {
		return fmt.Errorf("signal %v already registered", sig)
	}
	p.signals[sig] = cb
	signal.Notify(p.sigCh, sig)
	return nil
}

func (p *Poller) UnregisterSignal(sig os.Signal) error {
	if _, exists := p.signals[sig]; !exists {
		return fmt.Errorf("signal %v not registered", sig)
	}
	delete(p.signals, sig)
	signal.Reset(sig)
	return nil
}

func (p *Poller) AddTimer(d time.Duration, cb TimerCallback) TimerID {
	return p.addTimer(d, 0, cb)
}

func (p *Poller) AddPeriodic(interval time.Duration, cb TimerCallback) TimerID {
	return p.addTimer(interval, interval, cb)
}

func (p *Poller) addTimer(d, interval time.Duration, cb TimerCallback) TimerID {
	p.nextID++
	t := &timer{
		id:       p.nextID,
		deadline: time.Now().Add(d),
		interval: interval,
		cb:       cb,
	}
	heap.Push(&p.timers, t)
	p.cancels[t.id] = t
	return t.id
}

func (p *Poller) CancelTimer(id TimerID) {
	if t, ok := p.cancels[id]; ok {
		t.cancelled = true
		delete(p.cancels, id)
	}
}

// Run dispatches until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.Dispatch(maxPollWait); err != nil {
			return err
		}
	}
}

// Dispatch performs one poll pass: waits up to timeout (or the next timer
// deadline, whichever is sooner), then fires due timers and ready fd
// callbacks.
func (p *Poller) Dispatch(timeout time.Duration) error {
	wait := timeout
	if next, ok := p.nextDeadline(); ok {
		if until := time.Until(next); until < wait {
			wait = until
		}
	}
	if wait < 0 {
		wait = 0
	}

	pollfds := make([]unix.PollFd, 0, len(p.fds)+1)
	pollfds = append(pollfds, unix.PollFd{Fd: int32(p.sigPipe[0]), Events: unix.POLLIN})
	for fd := range p.fds {
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	ts := unix.NsecToTimespec(wait.Nanoseconds())
	n, err := unix.Ppoll(pollfds, &ts, nil)
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("ppoll: %w", err)
	}

	p.fireTimers()

	if n <= 0 {
		return nil
	}
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.sigPipe[0] {
			p.drainSignals()
			continue
		}
		var ev FDEvents
		if pfd.Revents&unix.POLLIN != 0 {
			ev |= Readable
		}
		if pfd.Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			ev |= Hangup
		}
		// The callback may have been unregistered by an earlier
		// callback in this same pass.
		if cb, ok := p.fds[int(pfd.Fd)]; ok && ev != 0 {
			cb(int(pfd.Fd), ev)
		}
	}
	return nil
}

// drainSignals empties the wakeup pipe and dispatches every queued signal
// to its registered callback.
func (p *Poller) drainSignals() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.sigPipe[0], buf[:]); err != nil {
			break
		}
	}
	for {
		select {
		case sig := <-p.sigCh:
			if cb, ok := p.signals[sig]; ok {
				cb(sig)
			}
		default:
			return
		}
	}
}

func (p *Poller) nextDeadline() (time.Time, bool) {
	for len(p.timers) > 0 {
		if p.timers[0].cancelled {
			heap.Pop(&p.timers)
			continue
		}
		return p.timers[0].deadline, true
	}
	return time.Time{}, false
}

func (p *Poller) fireTimers() {
	now := time.Now()
	for len(p.timers) > 0 {
		t := p.timers[0]
		if t.cancelled {
			heap.Pop(&p.timers)
			continue
		}
		if t.deadline.After(now) {
			return
		}
		heap.Pop(&p.timers)
		if t.interval > 0 {
			t.deadline = now.Add(t.interval)
			heap.Push(&p.timers, t)
		} else {
			delete(p.cancels, t.id)
		}
		t.cb()
	}
}

// timer is a heap entry. Cancellation is lazy: cancelled entries are
// skipped when they surface at the heap head.
type timer struct {
	id        TimerID
	deadline  time.Time
	interval  time.Duration
	cb        TimerCallback
	cancelled bool
}

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timer)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
