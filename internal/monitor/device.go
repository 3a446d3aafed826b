package monitor

import (
	"os"
	"path/filepath"
	"strings"
)

// DevType classifies a discovered device node.
type DevType int

const (
	DevDRM DevType = iota
	DevFbdev
	DevInput
)

func (t DevType) String() string {
	switch t {
	case DevDRM:
		return "drm"
	case DevFbdev:
		return "fbdev"
	case DevInput:
		return "input"
	}
	return "unknown"
}

// DevFlags qualify a device.
type DevFlags uint32

const (
	// FlagDRMBacked marks an fbdev node served by a DRM driver.
	FlagDRMBacked DevFlags = 1 << iota
	// FlagPrimary marks the boot display device of its seat.
	FlagPrimary
	// FlagAux marks a secondary interface to a device already exposed
	// through another node.
	FlagAux
)

// Seat is a named grouping of devices. Owned by the monitor; handles
// are valid until the FreeSeat event callback returns.
type Seat struct {
	name    string
	devices map[string]*Device
	order   []*Device
	data    any
}

// Name returns the seat name.
func (s *Seat) Name() string { return s.name }

// SetData attaches an opaque application value to the seat. It is
// carried on every subsequent event referencing the seat; releasing it
// on FreeSeat is the application's responsibility.
func (s *Seat) SetData(data any) { s.data = data }

// Data returns the attached application value.
func (s *Seat) Data() any { return s.data }

// Device is one seat-scoped device node. Owned by the monitor; handles
// are valid until the FreeDev event callback returns.
type Device struct {
	seat  *Seat
	typ   DevType
	flags DevFlags
	node  string
	data  any
}

// Node returns the filesystem node path identifying the device.
func (d *Device) Node() string { return d.node }

// Type returns the device classification.
func (d *Device) Type() DevType { return d.typ }

// Flags returns the device flag set.
func (d *Device) Flags() DevFlags { return d.flags }

// Seat returns the owning seat.
func (d *Device) Seat() *Seat { return d.seat }

// SetData attaches an opaque application value to the device, with the
// same lifetime contract as Seat.SetData.
func (d *Device) SetData(data any) { d.data = data }

// Data returns the attached application value.
func (d *Device) Data() any { return d.data }

// classify maps a node name within a watched directory to its device
// type, or false for nodes the monitor does not track.
func classify(dir, name string) (DevType, bool) {
	switch {
	case strings.HasSuffix(dir, "/input") && strings.HasPrefix(name, "event"):
		return DevInput, true
	case strings.HasSuffix(dir, "/dri") && strings.HasPrefix(name, "card"):
		return DevDRM, true
	case isFbdevName(name):
		return DevFbdev, true
	}
	return 0, false
}

func isFbdevName(name string) bool {
	if !strings.HasPrefix(name, "fb") || len(name) == len("fb") {
		return false
	}
	for _, c := range name[2:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// drmFlags inspects sysfs for the boot display marker.
func (m *Monitor) drmFlags(name string) DevFlags {
	vga, err := os.ReadFile(filepath.Join(m.sysRoot, "class/drm", name, "device/boot_vga"))
	if err == nil && strings.TrimSpace(string(vga)) == "1" {
		return FlagPrimary
	}
	return 0
}

// fbdevFlags inspects sysfs to detect DRM-backed framebuffers; those
// are auxiliary interfaces to a card already reported as DevDRM.
func (m *Monitor) fbdevFlags(name string) DevFlags {
	if _, err := os.Stat(filepath.Join(m.sysRoot, "class/graphics", name, "device/drm")); err == nil {
		return FlagDRMBacked | FlagAux
	}
	return 0
}
