//go:build linux

package usbfs

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// =============================================================================
// UEvent Types
// =============================================================================

// Action is the kind of a hotplug event.
type Action uint8

// Hotplug actions.
const (
	ActionUnknown Action = iota
	ActionAdd
	ActionRemove
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event reports a USB device arriving or leaving.
type Event struct {
	Action Action
	Device usb.DeviceInfo
}

// uevent is a parsed netlink kobject uevent.
type uevent struct {
	action    Action
	devpath   string
	subsystem string
	devtype   string
	busnum    uint8
	devnum    uint8
	product   string // PRODUCT=vid/pid/bcd, hex without padding
}

// netlinkKObjectUEvent is NETLINK_KOBJECT_UEVENT.
const netlinkKObjectUEvent = 15

const ueventBufferSize = 8192

// =============================================================================
// Watcher
// =============================================================================

// Watcher reports USB hotplug events from the kernel uevent socket.
type Watcher struct {
	sysfsRoot string
	fd        int
}

// NewWatcher subscribes to kernel uevents. Device details for add events
// are read from sysfsRoot.
func NewWatcher(sysfsRoot string) (*Watcher, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, netlinkKObjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Watcher{sysfsRoot: sysfsRoot, fd: fd}, nil
}

// Close closes the uevent socket.
func (w *Watcher) Close() error {
	return unix.Close(w.fd)
}

// Next blocks until the next USB device add or remove event, or until ctx
// is done.
func (w *Watcher) Next(ctx context.Context) (Event, error) {
	buf := make([]byte, ueventBufferSize)
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		n, err := unix.Poll(fds, int(DefaultPollInterval.Milliseconds()))
		if errors.Is(err, unix.EINTR) || n == 0 {
			continue
		}
		if err != nil {
			return Event{}, err
		}

		n, err = unix.Read(w.fd, buf)
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return Event{}, err
		}
		if ev, ok := w.toEvent(parseUEvent(buf[:n])); ok {
			return ev, nil
		}
	}
}

// toEvent filters for whole-device add and remove events.
func (w *Watcher) toEvent(u uevent) (Event, bool) {
	if u.subsystem != "usb" || u.devtype != "usb_device" {
		return Event{}, false
	}
	path := filepath.Join(w.sysfsRoot, filepath.Base(u.devpath))
	switch u.action {
	case ActionAdd:
		info, err := parseDevice(path)
		if err != nil {
			pkg.LogDebug(pkg.ComponentUSB, "hotplug add without sysfs entry", "path", path, "error", err)
			info = usb.DeviceInfo{Path: path, Bus: u.busnum, Address: u.devnum}
			info.VendorID, info.ProductID = parseProduct(u.product)
		}
		return Event{Action: ActionAdd, Device: info}, true
	case ActionRemove:
		// The sysfs entry is already gone; identity comes from the event.
		info := usb.DeviceInfo{Path: path, Bus: u.busnum, Address: u.devnum}
		info.VendorID, info.ProductID = parseProduct(u.product)
		return Event{Action: ActionRemove, Device: info}, true
	}
	return Event{}, false
}

// =============================================================================
// UEvent Parsing
// =============================================================================

// parseUEvent parses a NUL-separated "action@devpath" header followed by
// KEY=value pairs.
func parseUEvent(data []byte) uevent {
	var u uevent
	for _, field := range bytes.Split(data, []byte{0}) {
		s := string(field)
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			if action, devpath, ok := strings.Cut(s, "@"); ok {
				u.action = parseAction(action)
				u.devpath = devpath
			}
			continue
		}
		switch key {
		case "ACTION":
			u.action = parseAction(value)
		case "DEVPATH":
			u.devpath = value
		case "SUBSYSTEM":
			u.subsystem = value
		case "DEVTYPE":
			u.devtype = value
		case "BUSNUM":
			v, _ := strconv.ParseUint(value, 10, 8)
			u.busnum = uint8(v)
		case "DEVNUM":
			v, _ := strconv.ParseUint(value, 10, 8)
			u.devnum = uint8(v)
		case "PRODUCT":
			u.product = value
		}
	}
	return u
}

func parseAction(s string) Action {
	switch s {
	case "add":
		return ActionAdd
	case "remove":
		return ActionRemove
	default:
		return ActionUnknown
	}
}

// parseProduct splits a PRODUCT value such as "1314/1521/100".
func parseProduct(s string) (vid, pid uint16) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return 0, 0
	}
	v, _ := strconv.ParseUint(parts[0], 16, 16)
	p, _ := strconv.ParseUint(parts[1], 16, 16)
	return uint16(v), uint16(p)
}
