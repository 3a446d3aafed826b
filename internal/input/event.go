package input

import (
	"github.com/bnema/uterm/internal/keymap"
)

// Event is one decoded key press or repeat, delivered to every
// registered subscriber in registration order. Key releases are
// consumed internally for modifier and repeat tracking and never reach
// subscribers.
//
// Handled is caller-mutable and purely informational: a subscriber
// setting it does not stop delivery to later subscribers, it only lets
// them (and the application) see that someone already claimed the event.
type Event struct {
	Handled bool

	Keycode uint16     // raw linux keycode (KEY_*)
	ASCII   uint32     // ascii rendering of the resolved symbol, 0 if none
	Mods    keymap.Mod // active modifier mask

	Keysyms    []uint32 // resolved keysyms, in order
	Codepoints []uint32 // ucs4 values, keymap.InvalidCodepoint if none
}

// HasMods reports whether all modifiers in mask are held.
func (e *Event) HasMods(mask keymap.Mod) bool {
	return e.Mods.Has(mask)
}

// Callback receives decoded events. Callbacks run synchronously on the
// event-loop goroutine.
type Callback func(in *Input, ev *Event)

// Subscription identifies one registered callback for unregistration.
type Subscription struct {
	input *Input
	cb    Callback
}

// Unregister detaches the subscription. Safe to call more than once; an
// event already mid-dispatch keeps going to subscribers registered
// before this one.
func (s *Subscription) Unregister() {
	if s.input == nil {
		return
	}
	in := s.input
	s.input = nil
	for i, sub := range in.subs {
		if sub == s {
			in.subs = append(in.subs[:i], in.subs[i+1:]...)
			return
		}
	}
}
