package keymap

import (
	evdev "github.com/gvalkov/golang-evdev"
)

// levels holds the keysyms a keycode resolves to per shift level:
// plain, shifted, altgr.
type levels [3]uint32

type layout struct {
	table  map[int]levels
	level3 bool // right alt selects the third level instead of acting as Alt
}

// layouts is the registry the Config.Layout string selects from.
// Variants are registered as "layout/variant".
var layouts = map[string]*layout{
	"us":        {table: usTable},
	"us/dvorak": {table: overlay(usTable, dvorakOverrides)},
	"de":        {table: overlay(usTable, deOverrides), level3: true},
	"fr":        {table: overlay(usTable, frOverrides), level3: true},
}

// overlay copies base and applies the override entries on top.
func overlay(base, overrides map[int]levels) map[int]levels {
	t := make(map[int]levels, len(base))
	for code, syms := range base {
		t[code] = syms
	}
	for code, syms := range overrides {
		t[code] = syms
	}
	return t
}

func letter(lower, upper uint32) levels { return levels{lower, upper} }

// usTable is the base table every other layout overlays. Letters carry
// their case pair; the third level is unused on us.
var usTable = map[int]levels{
	evdev.KEY_1: {'1', '!'},
	evdev.KEY_2: {'2', '@'},
	evdev.KEY_3: {'3', '#'},
	evdev.KEY_4: {'4', '$'},
	evdev.KEY_5: {'5', '%'},
	evdev.KEY_6: {'6', '^'},
	evdev.KEY_7: {'7', '&'},
	evdev.KEY_8: {'8', '*'},
	evdev.KEY_9: {'9', '('},
	evdev.KEY_0: {'0', ')'},

	evdev.KEY_MINUS:      {'-', '_'},
	evdev.KEY_EQUAL:      {'=', '+'},
	evdev.KEY_LEFTBRACE:  {'[', '{'},
	evdev.KEY_RIGHTBRACE: {']', '}'},
	evdev.KEY_SEMICOLON:  {';', ':'},
	evdev.KEY_APOSTROPHE: {'\'', '"'},
	evdev.KEY_GRAVE:      {'`', '~'},
	evdev.KEY_BACKSLASH:  {'\\', '|'},
	evdev.KEY_COMMA:      {',', '<'},
	evdev.KEY_DOT:        {'.', '>'},
	evdev.KEY_SLASH:      {'/', '?'},

	evdev.KEY_A: letter('a', 'A'),
	evdev.KEY_B: letter('b', 'B'),
	evdev.KEY_C: letter('c', 'C'),
	evdev.KEY_D: letter('d', 'D'),
	evdev.KEY_E: letter('e', 'E'),
	evdev.KEY_F: letter('f', 'F'),
	evdev.KEY_G: letter('g', 'G'),
	evdev.KEY_H: letter('h', 'H'),
	evdev.KEY_I: letter('i', 'I'),
	evdev.KEY_J: letter('j', 'J'),
	evdev.KEY_K: letter('k', 'K'),
	evdev.KEY_L: letter('l', 'L'),
	evdev.KEY_M: letter('m', 'M'),
	evdev.KEY_N: letter('n', 'N'),
	evdev.KEY_O: letter('o', 'O'),
	evdev.KEY_P: letter('p', 'P'),
	evdev.KEY_Q: letter('q', 'Q'),
	evdev.KEY_R: letter('r', 'R'),
	evdev.KEY_S: letter('s', 'S'),
	evdev.KEY_T: letter('t', 'T'),
	evdev.KEY_U: letter('u', 'U'),
	evdev.KEY_V: letter('v', 'V'),
	evdev.KEY_W: letter('w', 'W'),
	evdev.KEY_X: letter('x', 'X'),
	evdev.KEY_Y: letter('y', 'Y'),
	evdev.KEY_Z: letter('z', 'Z'),

	evdev.KEY_SPACE:     {' ', ' '},
	evdev.KEY_TAB:       {SymTab, SymTab},
	evdev.KEY_ENTER:     {SymReturn, SymReturn},
	evdev.KEY_KPENTER:   {SymKPEnter, SymKPEnter},
	evdev.KEY_ESC:       {SymEscape, SymEscape},
	evdev.KEY_BACKSPACE: {SymBackSpace, SymBackSpace},
	evdev.KEY_DELETE:    {SymDelete, SymDelete},
	evdev.KEY_INSERT:    {SymInsert, SymInsert},
	evdev.KEY_HOME:      {SymHome, SymHome},
	evdev.KEY_END:       {SymEnd, SymEnd},
	evdev.KEY_PAGEUP:    {SymPageUp, SymPageUp},
	evdev.KEY_PAGEDOWN:  {SymPageDown, SymPageDown},
	evdev.KEY_LEFT:      {SymLeft, SymLeft},
	evdev.KEY_RIGHT:     {SymRight, SymRight},
	evdev.KEY_UP:        {SymUp, SymUp},
	evdev.KEY_DOWN:      {SymDown, SymDown},
	evdev.KEY_MENU:      {SymMenu, SymMenu},
	evdev.KEY_NUMLOCK:   {SymNumLock, SymNumLock},

	evdev.KEY_F1:  {SymF1, SymF1},
	evdev.KEY_F2:  {SymF1 + 1, SymF1 + 1},
	evdev.KEY_F3:  {SymF1 + 2, SymF1 + 2},
	evdev.KEY_F4:  {SymF1 + 3, SymF1 + 3},
	evdev.KEY_F5:  {SymF1 + 4, SymF1 + 4},
	evdev.KEY_F6:  {SymF1 + 5, SymF1 + 5},
	evdev.KEY_F7:  {SymF1 + 6, SymF1 + 6},
	evdev.KEY_F8:  {SymF1 + 7, SymF1 + 7},
	evdev.KEY_F9:  {SymF1 + 8, SymF1 + 8},
	evdev.KEY_F10: {SymF1 + 9, SymF1 + 9},
	evdev.KEY_F11: {SymF1 + 10, SymF1 + 10},
	evdev.KEY_F12: {SymF1 + 11, SymF1 + 11},

	evdev.KEY_LEFTSHIFT:  {SymShiftL, SymShiftL},
	evdev.KEY_RIGHTSHIFT: {SymShiftR, SymShiftR},
	evdev.KEY_LEFTCTRL:   {SymControlL, SymControlL},
	evdev.KEY_RIGHTCTRL:  {SymControlR, SymControlR},
	evdev.KEY_LEFTALT:    {SymAltL, SymAltL},
	evdev.KEY_RIGHTALT:   {SymAltR, SymAltR},
	evdev.KEY_LEFTMETA:   {SymSuperL, SymSuperL},
	evdev.KEY_RIGHTMETA:  {SymSuperR, SymSuperR},
	evdev.KEY_CAPSLOCK:   {SymCapsLock, SymCapsLock},
}

// dvorakOverrides remaps the us letter and punctuation positions to the
// dvorak arrangement.
var dvorakOverrides = map[int]levels{
	evdev.KEY_MINUS:      {'[', '{'},
	evdev.KEY_EQUAL:      {']', '}'},
	evdev.KEY_Q:          {'\'', '"'},
	evdev.KEY_W:          {',', '<'},
	evdev.KEY_E:          {'.', '>'},
	evdev.KEY_R:          letter('p', 'P'),
	evdev.KEY_T:          letter('y', 'Y'),
	evdev.KEY_Y:          letter('f', 'F'),
	evdev.KEY_U:          letter('g', 'G'),
	evdev.KEY_I:          letter('c', 'C'),
	evdev.KEY_O:          letter('r', 'R'),
	evdev.KEY_P:          letter('l', 'L'),
	evdev.KEY_LEFTBRACE:  {'/', '?'},
	evdev.KEY_RIGHTBRACE: {'=', '+'},
	evdev.KEY_S:          letter('o', 'O'),
	evdev.KEY_D:          letter('e', 'E'),
	evdev.KEY_F:          letter('u', 'U'),
	evdev.KEY_G:          letter('i', 'I'),
	evdev.KEY_H:          letter('d', 'D'),
	evdev.KEY_J:          letter('h', 'H'),
	evdev.KEY_K:          letter('t', 'T'),
	evdev.KEY_L:          letter('n', 'N'),
	evdev.KEY_SEMICOLON:  letter('s', 'S'),
	evdev.KEY_APOSTROPHE: {'-', '_'},
	evdev.KEY_Z:          {';', ':'},
	evdev.KEY_X:          letter('q', 'Q'),
	evdev.KEY_C:          letter('j', 'J'),
	evdev.KEY_V:          letter('k', 'K'),
	evdev.KEY_B:          letter('x', 'X'),
	evdev.KEY_N:          letter('b', 'B'),
	evdev.KEY_COMMA:      letter('w', 'W'),
	evdev.KEY_DOT:        letter('v', 'V'),
	evdev.KEY_SLASH:      letter('z', 'Z'),
}

// deOverrides: z/y swap, umlauts, ß, and the altgr symbols common on the
// German layout.
var deOverrides = map[int]levels{
	evdev.KEY_Y:          letter('z', 'Z'),
	evdev.KEY_Z:          letter('y', 'Y'),
	evdev.KEY_MINUS:      {0xdf, '?', '\\'}, // ssharp
	evdev.KEY_EQUAL:      {'\'', '`'},
	evdev.KEY_LEFTBRACE:  {0xfc, 0xdc}, // udiaeresis
	evdev.KEY_RIGHTBRACE: {'+', '*', '~'},
	evdev.KEY_SEMICOLON:  {0xf6, 0xd6}, // odiaeresis
	evdev.KEY_APOSTROPHE: {0xe4, 0xc4}, // adiaeresis
	evdev.KEY_GRAVE:      {'^', 0xb0},
	evdev.KEY_BACKSLASH:  {'#', '\''},
	evdev.KEY_SLASH:      {'-', '_'},
	evdev.KEY_2:          {'2', '"', 0xb2},
	evdev.KEY_3:          {'3', 0xa7, 0xb3},
	evdev.KEY_6:          {'6', '&'},
	evdev.KEY_7:          {'7', '/', '{'},
	evdev.KEY_8:          {'8', '(', '['},
	evdev.KEY_9:          {'9', ')', ']'},
	evdev.KEY_0:          {'0', '=', '}'},
	evdev.KEY_Q:          {'q', 'Q', '@'},
	evdev.KEY_E:          {'e', 'E', SymEuro},
	evdev.KEY_M:          {'m', 'M', 0xb5},
}

// frOverrides: the azerty arrangement, number row producing accented
// characters unshifted.
var frOverrides = map[int]levels{
	evdev.KEY_1:          {'&', '1'},
	evdev.KEY_2:          {0xe9, '2', '~'}, // eacute
	evdev.KEY_3:          {'"', '3', '#'},
	evdev.KEY_4:          {'\'', '4', '{'},
	evdev.KEY_5:          {'(', '5', '['},
	evdev.KEY_6:          {'-', '6', '|'},
	evdev.KEY_7:          {0xe8, '7', '`'}, // egrave
	evdev.KEY_8:          {'_', '8', '\\'},
	evdev.KEY_9:          {0xe7, '9', '^'}, // ccedilla
	evdev.KEY_0:          {0xe0, '0', '@'}, // agrave
	evdev.KEY_MINUS:      {')', 0xb0, ']'},
	evdev.KEY_EQUAL:      {'=', '+', '}'},
	evdev.KEY_Q:          letter('a', 'A'),
	evdev.KEY_A:          letter('q', 'Q'),
	evdev.KEY_W:          letter('z', 'Z'),
	evdev.KEY_Z:          letter('w', 'W'),
	evdev.KEY_E:          {'e', 'E', SymEuro},
	evdev.KEY_SEMICOLON:  letter('m', 'M'),
	evdev.KEY_M:          {',', '?'},
	evdev.KEY_COMMA:      {';', '.'},
	evdev.KEY_DOT:        {':', '/'},
	evdev.KEY_SLASH:      {'!', 0xa7},
	evdev.KEY_APOSTROPHE: {0xf9, '%'}, // ugrave
	evdev.KEY_LEFTBRACE:  {'^', 0xa8},
	evdev.KEY_RIGHTBRACE: {'$', 0xa3},
	evdev.KEY_GRAVE:      {0xb2, 0xb2},
	evdev.KEY_BACKSLASH:  {'*', 0xb5},
}
