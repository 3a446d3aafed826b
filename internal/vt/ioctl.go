package vt

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// <linux/vt.h> and <linux/kd.h> request codes. x/sys/unix does not
// carry the VT subsystem ioctls, so they are defined here.
const (
	vtOpenQry    = 0x5600
	vtGetMode    = 0x5601
	vtSetMode    = 0x5602
	vtGetState   = 0x5603
	vtRelDisp    = 0x5605
	vtActivateRq = 0x5606
	vtWaitActive = 0x5607

	vtModeAuto    = 0x00
	vtModeProcess = 0x01
	vtAckAcq      = 0x02

	kdGetMode   = 0x4b3b
	kdSetMode   = 0x4b3a
	kdTextMode  = 0x00
	kdGraphics  = 0x01
	kdGKBMode   = 0x4b44
	kdSKBMode   = 0x4b45
	kbModeOff   = 0x04
	kbModeUnicd = 0x03
)

type vtMode struct {
	Mode   int8
	Waitv  int8
	Relsig int16
	Acqsig int16
	Frsig  int16
}

type vtStat struct {
	Active uint16
	Signal uint16
	State  uint16
}

// The ioctl layer is indirected through package vars so the switch state
// machine can be driven in tests without a kernel VT subsystem.
var (
	openTTY = func(path string) (*os.File, error) {
		return os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	}

	// ioctlOpenQry asks the VT subsystem for the first unused vt number.
	ioctlOpenQry = func(fd int) (int, error) {
		var vtnr int32
		if err := ioctl(fd, vtOpenQry, uintptr(unsafe.Pointer(&vtnr))); err != nil {
			return 0, fmt.Errorf("VT_OPENQRY: %w", err)
		}
		if vtnr <= 0 {
			return 0, fmt.Errorf("VT_OPENQRY: no free virtual terminal")
		}
		return int(vtnr), nil
	}

	// ioctlGetActive returns the currently active vt number.
	ioctlGetActive = func(fd int) (int, error) {
		var st vtStat
		if err := ioctl(fd, vtGetState, uintptr(unsafe.Pointer(&st))); err != nil {
			return 0, fmt.Errorf("VT_GETSTATE: %w", err)
		}
		return int(st.Active), nil
	}

	// ioctlSetMode installs process-controlled switching with the given
	// release/acquire signals.
	ioctlSetMode = func(fd int, process bool, relsig, acqsig int16) error {
		mode := vtMode{Mode: vtModeAuto}
		if process {
			mode = vtMode{Mode: vtModeProcess, Relsig: relsig, Acqsig: acqsig}
		}
		if err := ioctl(fd, vtSetMode, uintptr(unsafe.Pointer(&mode))); err != nil {
			return fmt.Errorf("VT_SETMODE: %w", err)
		}
		return nil
	}

	ioctlActivate = func(fd, vtnr int) error {
		if err := ioctl(fd, vtActivateRq, uintptr(vtnr)); err != nil {
			return fmt.Errorf("VT_ACTIVATE %d: %w", vtnr, err)
		}
		return nil
	}

	// ioctlRelDisp answers a pending switch request: 1 allows the
	// release, 0 refuses it, vtAckAcq acknowledges an acquisition.
	ioctlRelDisp = func(fd, arg int) error {
		if err := ioctl(fd, vtRelDisp, uintptr(arg)); err != nil {
			return fmt.Errorf("VT_RELDISP: %w", err)
		}
		return nil
	}

	ioctlKDSetMode = func(fd, mode int) error {
		if err := ioctl(fd, kdSetMode, uintptr(mode)); err != nil {
			return fmt.Errorf("KDSETMODE: %w", err)
		}
		return nil
	}

	ioctlKDGetKBMode = func(fd int) (int, error) {
		var mode int32
		if err := ioctl(fd, kdGKBMode, uintptr(unsafe.Pointer(&mode))); err != nil {
			return 0, fmt.Errorf("KDGKBMODE: %w", err)
		}
		return int(mode), nil
	}

	ioctlKDSetKBMode = func(fd, mode int) error {
		if err := ioctl(fd, kdSKBMode, uintptr(mode)); err != nil {
			return fmt.Errorf("KDSKBMODE: %w", err)
		}
		return nil
	}
)

func ioctl(fd int, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}
