package monitor

import (
	"bytes"
	"encoding/binary"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/logger"
)

// onHotplug drains the inotify fd and turns filesystem events under the
// watched directories into device notifications.
func (m *Monitor) onHotplug(fd int, events eventloop.FDEvents) {
	if events&eventloop.Hangup != 0 {
		logger.Warn("Hotplug source hung up")
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(m.ifd, buf)
		if err != nil || n <= 0 {
			return
		}
		m.parseInotify(buf[:n])
	}
}

// parseInotify walks the packed inotify_event records in buf. Each
// record is the fixed header followed by Len bytes of NUL-padded name.
func (m *Monitor) parseInotify(buf []byte) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		wd := int32(binary.LittleEndian.Uint32(buf[offset:]))
		mask := binary.LittleEndian.Uint32(buf[offset+4:])
		nameLen := binary.LittleEndian.Uint32(buf[offset+12:])
		offset += unix.SizeofInotifyEvent

		if int(nameLen) > len(buf)-offset {
			return
		}
		name := string(bytes.TrimRight(buf[offset:offset+int(nameLen)], "\x00"))
		offset += int(nameLen)

		dir, ok := m.watchDir[int(wd)]
		if !ok || name == "" {
			continue
		}
		m.handleNodeEvent(dir, name, mask)
	}
}

func (m *Monitor) handleNodeEvent(dir, name string, mask uint32) {
	typ, ok := classify(dir, name)
	if !ok {
		return
	}
	node := filepath.Join(dir, name)

	switch {
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO|unix.IN_ATTRIB) != 0:
		seat := m.seatFor(node)
		if dev, known := seat.devices[node]; known {
			logger.Debugf("Hotplug on known device %s", node)
			m.cb(m, &Event{Type: HotplugDev, Seat: seat, Dev: dev})
			return
		}
		m.addDevice(node, typ)
	case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		seat := m.seatFor(node)
		if dev, known := seat.devices[node]; known {
			m.freeDevice(dev)
		}
	}
}
