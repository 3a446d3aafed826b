// Package input aggregates physical input devices into one logical
// keyboard stream. Devices are added and removed in response to monitor
// events (or directly); raw key activity is decoded through the keymap
// and fanned out to subscribers in registration order.
//
// All methods must be called from the event-loop goroutine; nothing here
// spawns goroutines or blocks.
package input

import (
	"fmt"
	"time"

	evdev "github.com/gvalkov/golang-evdev"

	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/keymap"
	"github.com/bnema/uterm/internal/logger"
)

// Input multiplexes a set of input device nodes into one event stream.
type Input struct {
	loop   eventloop.Loop
	keymap *keymap.Keymap

	devices map[string]*device // keyed by node path
	subs    []*Subscription

	awake bool
	refs  int

	repeatDelay time.Duration
	repeatRate  time.Duration
	repeat      repeatState
}

// repeatState is the single software key-repeat slot: only the most
// recently pressed repeatable key repeats, matching kernel behavior.
type repeatState struct {
	active   bool
	code     int
	dev      *device
	delayID  eventloop.TimerID
	periodID eventloop.TimerID
}

// New creates a multiplexer. The keymap configuration is resolved
// immediately; a bad layout is a construction error and no object is
// produced. The multiplexer starts awake with no devices.
func New(loop eventloop.Loop, cfg keymap.Config, repeatDelay, repeatRate time.Duration) (*Input, error) {
	if loop == nil {
		return nil, fmt.Errorf("nil event loop")
	}
	km, err := keymap.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keymap: %w", err)
	}
	if repeatDelay <= 0 {
		repeatDelay = 250 * time.Millisecond
	}
	if repeatRate <= 0 {
		repeatRate = 50 * time.Millisecond
	}
	return &Input{
		loop:        loop,
		keymap:      km,
		devices:     make(map[string]*device),
		awake:       true,
		refs:        1,
		repeatDelay: repeatDelay,
		repeatRate:  repeatRate,
	}, nil
}

// Ref takes an additional reference.
func (in *Input) Ref() {
	in.refs++
}

// Unref drops a reference. The last release tears the multiplexer down
// synchronously: all devices are closed and deregistered before Unref
// returns.
func (in *Input) Unref() {
	if in.refs == 0 {
		return
	}
	in.refs--
	if in.refs > 0 {
		return
	}
	for node := range in.devices {
		in.RemoveDevice(node)
	}
	in.subs = nil
	logger.Debug("Input multiplexer destroyed")
}

// AddDevice opens node and adds it to the multiplexed set. Repeated
// calls for the same node are a no-op. Open failure is silent by
// contract: the device is simply absent and a later hotplug add retries.
func (in *Input) AddDevice(node string) {
	if _, exists := in.devices[node]; exists {
		return
	}
	dn, err := openNode(node)
	if err != nil {
		logger.Debugf("Cannot open input device %s: %v", node, err)
		return
	}
	d := &device{
		node:  node,
		dev:   dn,
		state: in.keymap.NewState(),
	}
	in.devices[node] = d
	if in.awake {
		in.startDevice(d)
	}
	logger.Infof("Added input device: %s (%s)", dn.Name(), node)
}

// RemoveDevice closes node and detaches it from the loop. Removing an
// unknown node is a no-op.
func (in *Input) RemoveDevice(node string) {
	d, exists := in.devices[node]
	if !exists {
		return
	}
	in.stopDevice(d)
	if err := d.dev.Close(); err != nil {
		logger.Warnf("Failed to close input device %s: %v", node, err)
	}
	delete(in.devices, node)
	logger.Infof("Removed input device: %s", node)
}

// RegisterCallback appends a subscriber. Delivery order follows
// registration order for every event.
func (in *Input) RegisterCallback(cb Callback) *Subscription {
	sub := &Subscription{input: in, cb: cb}
	in.subs = append(in.subs, sub)
	return sub
}

// Sleep suspends event production. Device handles stay open but their
// fds are dropped from the loop and exclusive grabs are released.
// Idempotent.
func (in *Input) Sleep() {
	if !in.awake {
		return
	}
	in.awake = false
	in.stopRepeat()
	for _, d := range in.devices {
		in.stopDevice(d)
	}
	logger.Debug("Input multiplexer asleep")
}

// WakeUp resumes polling on all owned devices and resets decode and
// repeat state. Idempotent.
func (in *Input) WakeUp() {
	if in.awake {
		return
	}
	in.awake = true
	for _, d := range in.devices {
		d.state.Reset()
		in.startDevice(d)
	}
	logger.Debug("Input multiplexer awake")
}

// IsAwake reports the suspend state.
func (in *Input) IsAwake() bool {
	return in.awake
}

// KeysymToString renders a keysym via the active resolution backend.
func (in *Input) KeysymToString(sym uint32) string {
	return keymap.KeysymToString(sym)
}

// StringToKeysym resolves a symbolic name to a keysym value.
func (in *Input) StringToKeysym(name string) (uint32, error) {
	return keymap.StringToKeysym(name)
}

// startDevice grabs the node and registers its fd. Grab failure is not
// fatal: the device still decodes, it just is not exclusive.
func (in *Input) startDevice(d *device) {
	if !d.grabbed {
		if err := d.dev.Grab(); err != nil {
			logger.Warnf("Failed to grab %s: %v", d.node, err)
		} else {
			d.grabbed = true
		}
	}
	if !d.registered {
		if err := in.loop.RegisterFD(d.dev.Fd(), func(fd int, events eventloop.FDEvents) {
			in.dispatchDevice(d, events)
		}); err != nil {
			logger.Errorf("Failed to register fd for %s: %v", d.node, err)
			return
		}
		d.registered = true
	}
}

func (in *Input) stopDevice(d *device) {
	if in.repeat.active && in.repeat.dev == d {
		in.stopRepeat()
	}
	if d.registered {
		if err := in.loop.UnregisterFD(d.dev.Fd()); err != nil {
			logger.Warnf("Failed to unregister fd for %s: %v", d.node, err)
		}
		d.registered = false
	}
	if d.grabbed {
		if err := d.dev.Release(); err != nil {
			logger.Warnf("Failed to release grab on %s: %v", d.node, err)
		}
		d.grabbed = false
	}
}

// dispatchDevice decodes everything pending on one ready device and
// delivers each event to every subscriber before the next ready device
// is serviced.
func (in *Input) dispatchDevice(d *device, events eventloop.FDEvents) {
	if events&eventloop.Hangup != 0 {
		logger.Infof("Input device %s hung up", d.node)
		in.RemoveDevice(d.node)
		return
	}
	raw, err := d.dev.ReadEvents()
	if err != nil {
		logger.Warnf("Read error on %s, dropping device: %v", d.node, err)
		in.RemoveDevice(d.node)
		return
	}
	for i := range raw {
		ev := &raw[i]
		if ev.Type != evdev.EV_KEY {
			continue
		}
		switch ev.Value {
		case 1:
			in.handleKey(d, int(ev.Code), true)
		case 0:
			in.handleKey(d, int(ev.Code), false)
		default:
			// Kernel autorepeat is ignored; repeat is emulated with
			// loop timers so repeat settings apply uniformly.
		}
	}
}

func (in *Input) handleKey(d *device, code int, pressed bool) {
	res := d.state.Handle(code, pressed)
	in.updateRepeat(d, code, pressed, res)
	// Releases update the decode and repeat state but are not
	// delivered; subscribers see presses and repeats only.
	if !pressed || len(res.Keysyms) == 0 {
		return
	}
	in.deliver(&Event{
		Keycode:    res.Keycode,
		ASCII:      res.ASCII,
		Mods:       res.Mods,
		Keysyms:    res.Keysyms,
		Codepoints: res.Codepoints,
	})
}

// deliver fans one event out to every subscriber in registration order.
// The snapshot keeps delivery stable if a callback unregisters itself;
// each entry is re-checked so an unregistered later subscriber is
// skipped.
func (in *Input) deliver(ev *Event) {
	snapshot := make([]*Subscription, len(in.subs))
	copy(snapshot, in.subs)
	for _, sub := range snapshot {
		if sub.input != in {
			continue
		}
		sub.cb(in, ev)
	}
}

// updateRepeat maintains the single software repeat slot.
func (in *Input) updateRepeat(d *device, code int, pressed bool, res keymap.Resolved) {
	if !pressed {
		if in.repeat.active && in.repeat.code == code {
			in.stopRepeat()
		}
		return
	}
	if len(res.Keysyms) == 0 || !repeatable(code) {
		return
	}
	in.stopRepeat()
	in.repeat = repeatState{active: true, code: code, dev: d}
	in.repeat.delayID = in.loop.AddTimer(in.repeatDelay, func() {
		in.fireRepeat()
		in.repeat.periodID = in.loop.AddPeriodic(in.repeatRate, in.fireRepeat)
	})
}

func (in *Input) fireRepeat() {
	if !in.repeat.active {
		return
	}
	d := in.repeat.dev
	res := d.state.Handle(in.repeat.code, true)
	if len(res.Keysyms) == 0 {
		return
	}
	in.deliver(&Event{
		Keycode:    res.Keycode,
		ASCII:      res.ASCII,
		Mods:       res.Mods,
		Keysyms:    res.Keysyms,
		Codepoints: res.Codepoints,
	})
}

func (in *Input) stopRepeat() {
	if !in.repeat.active {
		return
	}
	in.loop.CancelTimer(in.repeat.delayID)
	if in.repeat.periodID != 0 {
		in.loop.CancelTimer(in.repeat.periodID)
	}
	in.repeat = repeatState{}
}

// repeatable excludes modifiers and lock keys from software repeat.
func repeatable(code int) bool {
	switch code {
	case evdev.KEY_LEFTSHIFT, evdev.KEY_RIGHTSHIFT,
		evdev.KEY_LEFTCTRL, evdev.KEY_RIGHTCTRL,
		evdev.KEY_LEFTALT, evdev.KEY_RIGHTALT,
		evdev.KEY_LEFTMETA, evdev.KEY_RIGHTMETA,
		evdev.KEY_CAPSLOCK, evdev.KEY_NUMLOCK, evdev.KEY_SCROLLLOCK:
		return false
	}
	return true
}
