package input

import (
	"fmt"

	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/keymap"
	"github.com/bnema/uterm/internal/logger"
)

// devNode abstracts one opened input node so tests can stand in for real
// evdev devices.
type devNode interface {
	Fd() int
	Name() string
	// ReadEvents drains pending events; returns (nil, nil) when the fd
	// would block.
	ReadEvents() ([]evdev.InputEvent, error)
	Grab() error
	Release() error
	Close() error
}

// openNode is swapped out by tests.
var openNode = openEvdevNode

// device is one owned input node plus its per-device decode state.
type device struct {
	node  string
	dev   devNode
	state *keymap.State

	registered bool // fd currently registered with the loop
	grabbed    bool
}

// evdevNode is the production devNode over gvalkov/golang-evdev. The fd
// is switched to nonblocking so reads can be driven by loop readiness
// without ever stalling the dispatch goroutine.
type evdevNode struct {
	dev *evdev.InputDevice
}

func openEvdevNode(node string) (devNode, error) {
	dev, err := evdev.Open(node)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", node, err)
	}
	if err := unix.SetNonblock(int(dev.File.Fd()), true); err != nil {
		_ = dev.File.Close()
		return nil, fmt.Errorf("failed to set %s nonblocking: %w", node, err)
	}
	if !isKeyboard(dev) {
		logger.Debugf("Device %s (%s) has no key capabilities, keeping for completeness", node, dev.Name)
	}
	return &evdevNode{dev: dev}, nil
}

func (n *evdevNode) Fd() int      { return int(n.dev.File.Fd()) }
func (n *evdevNode) Name() string { return n.dev.Name }

func (n *evdevNode) ReadEvents() ([]evdev.InputEvent, error) {
	events, err := n.dev.Read()
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	return events, nil
}

func (n *evdevNode) Grab() error    { return n.dev.Grab() }
func (n *evdevNode) Release() error { return n.dev.Release() }
func (n *evdevNode) Close() error   { return n.dev.File.Close() }

// isKeyboard checks the EV_KEY capability set for anything resembling a
// keyboard. Devices without key capabilities (pure pointers, switches)
// still get decoded: they simply never produce key events.
func isKeyboard(dev *evdev.InputDevice) bool {
	for capType, caps := range dev.Capabilities {
		if capType.Type != evdev.EV_KEY {
			continue
		}
		for _, c := range caps {
			if c.Code >= evdev.KEY_ESC && c.Code <= evdev.KEY_KPDOT {
				return true
			}
		}
	}
	return false
}
