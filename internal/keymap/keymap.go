// Package keymap resolves raw evdev keycodes into layout-aware keysyms,
// unicode codepoints and modifier masks. Layouts are table driven; the
// active table is selected once at construction and shared by every
// device state derived from it.
package keymap

import (
	"fmt"
	"strings"

	evdev "github.com/gvalkov/golang-evdev"

	"github.com/bnema/uterm/internal/logger"
)

// Mod is the modifier bit set carried on every resolved event.
type Mod uint32

const (
	ModShift Mod = 1 << iota
	ModLock
	ModControl
	ModAlt
	ModLogo
)

// Has reports whether all bits of mask are set.
func (m Mod) Has(mask Mod) bool { return m&mask == mask }

// Config selects the resolution backend the way an XKB rule set would:
// model is accepted for compatibility but has no effect on the built-in
// tables.
type Config struct {
	Model   string
	Layout  string
	Variant string
	Options string
}

// Keymap is an immutable resolution table. Mutable per-device modifier
// state lives in State values created from it.
type Keymap struct {
	layout *layout
	remap  map[int]int // keycode remaps from options
	name   string
}

// New builds a keymap for the configured layout. An unknown
// layout/variant combination is a construction error; unknown options
// are ignored with a debug log, matching how XKB treats unknown rules.
func New(cfg Config) (*Keymap, error) {
	name := cfg.Layout
	if name == "" {
		name = "us"
	}
	if cfg.Variant != "" {
		name = name + "/" + cfg.Variant
	}
	l, ok := layouts[name]
	if !ok {
		return nil, fmt.Errorf("unknown keyboard layout %q", name)
	}

	k := &Keymap{layout: l, remap: make(map[int]int), name: name}
	for _, opt := range strings.Split(cfg.Options, ",") {
		switch strings.TrimSpace(opt) {
		case "":
		case "ctrl:nocaps":
			k.remap[evdev.KEY_CAPSLOCK] = evdev.KEY_LEFTCTRL
		case "caps:swapescape":
			k.remap[evdev.KEY_CAPSLOCK] = evdev.KEY_ESC
			k.remap[evdev.KEY_ESC] = evdev.KEY_CAPSLOCK
		default:
			logger.Debugf("Ignoring unsupported keymap option %q", opt)
		}
	}
	logger.Debugf("Keymap ready: layout=%s model=%q options=%q", name, cfg.Model, cfg.Options)
	return k, nil
}

// Name returns the resolved layout name, including the variant.
func (k *Keymap) Name() string { return k.name }

// NewState creates fresh modifier-tracking state. Each physical device
// owns one so a held modifier on one keyboard does not leak into
// another device's resolution.
func (k *Keymap) NewState() *State {
	return &State{keymap: k}
}

// State tracks the live modifier set for one device.
type State struct {
	keymap *Keymap
	mods   Mod
	altgr  bool
}

// Mods returns the current modifier mask.
func (s *State) Mods() Mod { return s.mods }

// Reset clears all held modifiers. Lock state survives: caps lock is a
// latch, not a held key.
func (s *State) Reset() {
	s.mods &= ModLock
	s.altgr = false
}

// Resolved is the outcome of feeding one key transition through the
// keymap.
type Resolved struct {
	Keycode    uint16
	Pressed    bool
	Mods       Mod
	Keysyms    []uint32
	Codepoints []uint32
	ASCII      uint32
}

// Handle feeds one key transition through the state machine and returns
// the resolved symbols. Modifier presses update the mask and still
// resolve to their own keysym (Shift_L and friends are real events).
func (s *State) Handle(code int, pressed bool) Resolved {
	if mapped, ok := s.keymap.remap[code]; ok {
		code = mapped
	}
	s.updateMods(code, pressed)

	sym := s.keymap.lookup(code, s.mods, s.altgr)
	res := Resolved{
		Keycode: uint16(code),
		Pressed: pressed,
		Mods:    s.mods,
	}
	if sym == SymNoSymbol {
		return res
	}
	res.Keysyms = []uint32{sym}
	cp := KeysymToRune(sym)
	res.Codepoints = []uint32{cp}
	if cp != InvalidCodepoint && cp < 0x80 {
		res.ASCII = cp
	}
	return res
}

func (s *State) updateMods(code int, pressed bool) {
	set := func(bit Mod) {
		if pressed {
			s.mods |= bit
		} else {
			s.mods &^= bit
		}
	}
	switch code {
	case evdev.KEY_LEFTSHIFT, evdev.KEY_RIGHTSHIFT:
		set(ModShift)
	case evdev.KEY_LEFTCTRL, evdev.KEY_RIGHTCTRL:
		set(ModControl)
	case evdev.KEY_LEFTALT:
		set(ModAlt)
	case evdev.KEY_RIGHTALT:
		if s.keymap.layout.level3 {
			s.altgr = pressed
		} else {
			set(ModAlt)
		}
	case evdev.KEY_LEFTMETA, evdev.KEY_RIGHTMETA:
		set(ModLogo)
	case evdev.KEY_CAPSLOCK:
		if pressed {
			s.mods ^= ModLock
		}
	}
}

// lookup selects the keysym for code at the level implied by the
// modifier state. Caps lock upcases letters only; altgr takes the third
// level when the layout defines one.
func (k *Keymap) lookup(code int, mods Mod, altgr bool) uint32 {
	syms, ok := k.layout.table[code]
	if !ok {
		return SymNoSymbol
	}
	if altgr && syms[2] != SymNoSymbol {
		return syms[2]
	}
	shifted := mods.Has(ModShift)
	if mods.Has(ModLock) && isLetterSym(syms[0]) {
		shifted = !shifted
	}
	if shifted && syms[1] != SymNoSymbol {
		return syms[1]
	}
	return syms[0]
}

func isLetterSym(sym uint32) bool {
	return (sym >= 'a' && sym <= 'z') || (sym >= 0xe0 && sym <= 0xfe && sym != 0xf7)
}
