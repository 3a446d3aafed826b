package keymap

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidCodepoint marks a keysym with no unicode interpretation.
const InvalidCodepoint = 0xffffffff

// X11 keysym values for the non-printable keys the layouts reference.
// Printable latin-1 keysyms equal their codepoint and need no constants.
const (
	SymBackSpace = 0xff08
	SymTab       = 0xff09
	SymReturn    = 0xff0d
	SymEscape    = 0xff1b
	SymDelete    = 0xffff
	SymHome      = 0xff50
	SymLeft      = 0xff51
	SymUp        = 0xff52
	SymRight     = 0xff53
	SymDown      = 0xff54
	SymPageUp    = 0xff55
	SymPageDown  = 0xff56
	SymEnd       = 0xff57
	SymInsert    = 0xff63
	SymMenu      = 0xff67
	SymNumLock   = 0xff7f
	SymKPEnter   = 0xff8d
	SymF1        = 0xffbe
	SymF12       = 0xffc9
	SymShiftL    = 0xffe1
	SymShiftR    = 0xffe2
	SymControlL  = 0xffe3
	SymControlR  = 0xffe4
	SymCapsLock  = 0xffe5
	SymAltL      = 0xffe9
	SymAltR      = 0xffea
	SymSuperL    = 0xffeb
	SymSuperR    = 0xffec
	SymLevel3    = 0xfe03
	SymEuro      = 0x20ac
	SymNoSymbol  = 0x0
)

// keysymNames maps the symbolic names used in layout files and lookups.
// Printable single-character keysyms resolve without an entry here.
var keysymNames = map[string]uint32{
	"BackSpace":        SymBackSpace,
	"Tab":              SymTab,
	"Return":           SymReturn,
	"Escape":           SymEscape,
	"Delete":           SymDelete,
	"Home":             SymHome,
	"Left":             SymLeft,
	"Up":               SymUp,
	"Right":            SymRight,
	"Down":             SymDown,
	"Page_Up":          SymPageUp,
	"Page_Down":        SymPageDown,
	"End":              SymEnd,
	"Insert":           SymInsert,
	"Menu":             SymMenu,
	"Num_Lock":         SymNumLock,
	"KP_Enter":         SymKPEnter,
	"Shift_L":          SymShiftL,
	"Shift_R":          SymShiftR,
	"Control_L":        SymControlL,
	"Control_R":        SymControlR,
	"Caps_Lock":        SymCapsLock,
	"Alt_L":            SymAltL,
	"Alt_R":            SymAltR,
	"Super_L":          SymSuperL,
	"Super_R":          SymSuperR,
	"ISO_Level3_Shift": SymLevel3,
	"space":            ' ',
	"exclam":           '!',
	"quotedbl":         '"',
	"numbersign":       '#',
	"dollar":           '$',
	"percent":          '%',
	"ampersand":        '&',
	"apostrophe":       '\'',
	"parenleft":        '(',
	"parenright":       ')',
	"asterisk":         '*',
	"plus":             '+',
	"comma":            ',',
	"minus":            '-',
	"period":           '.',
	"slash":            '/',
	"colon":            ':',
	"semicolon":        ';',
	"less":             '<',
	"equal":            '=',
	"greater":          '>',
	"question":         '?',
	"at":               '@',
	"bracketleft":      '[',
	"backslash":        '\\',
	"bracketright":     ']',
	"asciicircum":      '^',
	"underscore":       '_',
	"grave":            '`',
	"braceleft":        '{',
	"bar":              '|',
	"braceright":       '}',
	"asciitilde":       '~',
	"section":          0xa7,
	"degree":           0xb0,
	"agrave":           0xe0,
	"adiaeresis":       0xe4,
	"ccedilla":         0xe7,
	"egrave":           0xe8,
	"eacute":           0xe9,
	"odiaeresis":       0xf6,
	"ugrave":           0xf9,
	"udiaeresis":       0xfc,
	"ssharp":           0xdf,
	"mu":               0xb5,
	"EuroSign":         SymEuro,
}

// keysymByValue is the reverse of keysymNames, built once at init. Where
// several names share a value the first registered wins; function keys
// are synthesized separately.
var keysymByValue = func() map[uint32]string {
	m := make(map[uint32]string, len(keysymNames)+12)
	for name, val := range keysymNames {
		if _, dup := m[val]; !dup {
			m[val] = name
		}
	}
	for i := uint32(0); i < 12; i++ {
		m[SymF1+i] = fmt.Sprintf("F%d", i+1)
	}
	return m
}()

// KeysymToString renders a keysym as its symbolic name. Printable
// latin-1 and unicode keysyms without a name render as the character
// itself; anything else as a hex literal.
func KeysymToString(sym uint32) string {
	if name, ok := keysymByValue[sym]; ok {
		return name
	}
	if r := KeysymToRune(sym); r != InvalidCodepoint && r >= 0x20 {
		return string(rune(r))
	}
	return fmt.Sprintf("0x%08x", sym)
}

// StringToKeysym resolves a symbolic name back to its keysym value.
func StringToKeysym(name string) (uint32, error) {
	if sym, ok := keysymNames[name]; ok {
		return sym, nil
	}
	if len(name) == 2 && name[0] == 'F' && name[1] >= '1' && name[1] <= '9' {
		return SymF1 + uint32(name[1]-'1'), nil
	}
	if (len(name) == 3) && name[0] == 'F' {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 10 && n <= 12 {
			return SymF1 + uint32(n-1), nil
		}
	}
	runes := []rune(name)
	if len(runes) == 1 {
		r := runes[0]
		if r >= 0x20 && r < 0x100 {
			return uint32(r), nil
		}
		return 0x01000000 | uint32(r), nil
	}
	if strings.HasPrefix(name, "0x") {
		v, err := strconv.ParseUint(name[2:], 16, 32)
		if err == nil {
			return uint32(v), nil
		}
	}
	return 0, fmt.Errorf("unknown keysym name %q", name)
}

// KeysymToRune maps a keysym to its unicode codepoint, or
// InvalidCodepoint when it has none. Mirrors the xkbcommon rules:
// latin-1 keysyms are their own codepoint, 0x01000000-offset keysyms
// carry the codepoint directly, and a handful of function-range keysyms
// map to ASCII control characters.
func KeysymToRune(sym uint32) uint32 {
	switch {
	case sym >= 0x20 && sym <= 0x7e, sym >= 0xa0 && sym <= 0xff:
		return sym
	case sym&0xff000000 == 0x01000000:
		return sym & 0x00ffffff
	case sym == SymEuro:
		return sym
	}
	switch sym {
	case SymBackSpace:
		return 0x08
	case SymTab:
		return 0x09
	case SymReturn, SymKPEnter:
		return 0x0d
	case SymEscape:
		return 0x1b
	case SymDelete:
		return 0x7f
	}
	return InvalidCodepoint
}
