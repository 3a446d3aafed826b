// Package monitor discovers seats and their display and input devices,
// and reports hotplug as it happens. Discovery works from /dev and
// sysfs with inotify as the hotplug source; seats come from
// systemd-logind's seat registry when present, with a single seat0
// fallback otherwise.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/logger"
)

// EventType identifies a monitor notification.
type EventType int

const (
	NewSeat EventType = iota
	FreeSeat
	NewDev
	FreeDev
	HotplugDev
)

func (t EventType) String() string {
	switch t {
	case NewSeat:
		return "new-seat"
	case FreeSeat:
		return "free-seat"
	case NewDev:
		return "new-dev"
	case FreeDev:
		return "free-dev"
	case HotplugDev:
		return "hotplug-dev"
	}
	return "unknown"
}

// Event is delivered to the single registered subscriber. Seat is set
// on every event; Dev only on device events. Free events are delivered
// strictly before internal teardown: the handles are invalid once the
// callback returns.
type Event struct {
	Type EventType
	Seat *Seat
	Dev  *Device
}

// Callback receives monitor events on the event-loop goroutine.
type Callback func(mon *Monitor, ev *Event)

// SeatRule pins device nodes matching a glob pattern to a named seat.
type SeatRule struct {
	Seat    string
	Pattern string
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithSeatRules installs node-to-seat assignment rules.
func WithSeatRules(rules []SeatRule) Option {
	return func(m *Monitor) { m.rules = rules }
}

// WithRoots redirects the filesystem roots the monitor inspects. Used
// by tests and nested environments.
func WithRoots(devRoot, sysRoot, seatsDir string) Option {
	return func(m *Monitor) {
		m.devRoot = devRoot
		m.sysRoot = sysRoot
		m.seatsDir = seatsDir
	}
}

const defaultSeat = "seat0"

// Monitor owns the seat/device tree and the hotplug source.
type Monitor struct {
	loop eventloop.Loop
	cb   Callback
	refs int

	devRoot  string
	sysRoot  string
	seatsDir string
	rules    []SeatRule

	seats     map[string]*Seat
	seatOrder []*Seat

	ifd      int
	watchDir map[int]string // inotify wd -> directory
}

// New ties a monitor to the scheduler and starts the hotplug source.
// Failure to initialize inotify is fatal: an error is returned and no
// monitor exists. Missing watch directories are not fatal; devices
// under them simply never appear.
func New(loop eventloop.Loop, cb Callback, opts ...Option) (*Monitor, error) {
	if loop == nil || cb == nil {
		return nil, fmt.Errorf("monitor: loop and callback are required")
	}
	m := &Monitor{
		loop:     loop,
		cb:       cb,
		refs:     1,
		devRoot:  "/dev",
		sysRoot:  "/sys",
		seatsDir: "/run/systemd/seats",
		seats:    make(map[string]*Seat),
		watchDir: make(map[int]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	ifd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("monitor: inotify unavailable: %w", err)
	}
	m.ifd = ifd

	for _, dir := range m.watchDirs() {
		wd, err := unix.InotifyAddWatch(ifd, dir,
			unix.IN_CREATE|unix.IN_MOVED_TO|unix.IN_ATTRIB|unix.IN_DELETE|unix.IN_MOVED_FROM)
		if err != nil {
			logger.Debugf("Not watching %s: %v", dir, err)
			continue
		}
		m.watchDir[wd] = dir
	}

	if err := loop.RegisterFD(ifd, m.onHotplug); err != nil {
		_ = unix.Close(ifd)
		return nil, fmt.Errorf("monitor: %w", err)
	}
	logger.Debugf("Monitor watching %d directories", len(m.watchDir))
	return m, nil
}

func (m *Monitor) watchDirs() []string {
	return []string{
		filepath.Join(m.devRoot, "input"),
		filepath.Join(m.devRoot, "dri"),
		m.devRoot, // fb* nodes live directly under the dev root
	}
}

// Ref takes an additional reference.
func (m *Monitor) Ref() { m.refs++ }

// Unref drops a reference. The last release emits FreeDev and FreeSeat
// for everything still in the tree, then detaches from the scheduler,
// all before returning.
func (m *Monitor) Unref() {
	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs > 0 {
		return
	}
	for _, seat := range append([]*Seat(nil), m.seatOrder...) {
		m.freeSeat(seat)
	}
	if err := m.loop.UnregisterFD(m.ifd); err != nil {
		logger.Warnf("Monitor fd deregistration failed: %v", err)
	}
	_ = unix.Close(m.ifd)
	logger.Debug("Monitor destroyed")
}

// Scan synchronously re-enumerates present hardware. Seats are emitted
// before any of their devices; objects already reported are not
// re-announced. The same callback path as live hotplug is used, so
// ordering against concurrent hotplug events is total.
func (m *Monitor) Scan() {
	for _, name := range m.seatNames() {
		m.ensureSeat(name)
	}
	m.ensureSeat(defaultSeat)

	for _, node := range m.enumerate() {
		dir, name := filepath.Split(node)
		typ, ok := classify(strings.TrimSuffix(dir, "/"), name)
		if !ok {
			continue
		}
		m.addDevice(node, typ)
	}
}

// seatNames reads the logind seat registry. An unreadable registry
// yields no extra seats, not an error.
func (m *Monitor) seatNames() []string {
	entries, err := os.ReadDir(m.seatsDir)
	if err != nil {
		logger.Debugf("No seat registry at %s: %v", m.seatsDir, err)
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// enumerate globs all candidate device nodes, in stable order.
func (m *Monitor) enumerate() []string {
	var nodes []string
	for _, pattern := range []string{
		filepath.Join(m.devRoot, "dri", "card*"),
		filepath.Join(m.devRoot, "fb*"),
		filepath.Join(m.devRoot, "input", "event*"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		nodes = append(nodes, matches...)
	}
	return nodes
}

// ensureSeat creates and announces a seat on first sight.
func (m *Monitor) ensureSeat(name string) *Seat {
	if seat, ok := m.seats[name]; ok {
		return seat
	}
	seat := &Seat{name: name, devices: make(map[string]*Device)}
	m.seats[name] = seat
	m.seatOrder = append(m.seatOrder, seat)
	logger.Infof("New seat: %s", name)
	m.cb(m, &Event{Type: NewSeat, Seat: seat})
	return seat
}

// addDevice classifies, stats and announces a node. A node that cannot
// be inspected is skipped without an event; it may reappear on a later
// hotplug notification.
func (m *Monitor) addDevice(node string, typ DevType) {
	seat := m.seatFor(node)
	if _, known := seat.devices[node]; known {
		return
	}
	if _, err := os.Stat(node); err != nil {
		logger.Debugf("Skipping device %s: %v", node, err)
		return
	}

	var flags DevFlags
	name := filepath.Base(node)
	switch typ {
	case DevDRM:
		flags = m.drmFlags(name)
	case DevFbdev:
		flags = m.fbdevFlags(name)
	}

	dev := &Device{seat: seat, typ: typ, flags: flags, node: node}
	seat.devices[node] = dev
	seat.order = append(seat.order, dev)
	logger.Infof("New %s device on %s: %s", typ, seat.name, node)
	m.cb(m, &Event{Type: NewDev, Seat: seat, Dev: dev})
}

// seatFor resolves the owning seat for a node: first matching rule
// wins, default seat otherwise.
func (m *Monitor) seatFor(node string) *Seat {
	for _, rule := range m.rules {
		if ok, _ := filepath.Match(rule.Pattern, node); ok {
			return m.ensureSeat(rule.Seat)
		}
	}
	return m.ensureSeat(defaultSeat)
}

// freeDevice announces FreeDev and then drops the device. The handle
// dies when the callback returns.
func (m *Monitor) freeDevice(dev *Device) {
	m.cb(m, &Event{Type: FreeDev, Seat: dev.seat, Dev: dev})
	delete(dev.seat.devices, dev.node)
	for i, d := range dev.seat.order {
		if d == dev {
			dev.seat.order = append(dev.seat.order[:i], dev.seat.order[i+1:]...)
			break
		}
	}
	logger.Infof("Device removed: %s", dev.node)
}

// freeSeat frees every device on the seat, then the seat itself.
func (m *Monitor) freeSeat(seat *Seat) {
	for _, dev := range append([]*Device(nil), seat.order...) {
		m.freeDevice(dev)
	}
	m.cb(m, &Event{Type: FreeSeat, Seat: seat})
	delete(m.seats, seat.name)
	for i, s := range m.seatOrder {
		if s == seat {
			m.seatOrder = append(m.seatOrder[:i], m.seatOrder[i+1:]...)
			break
		}
	}
	logger.Infof("Seat removed: %s", seat.name)
}
