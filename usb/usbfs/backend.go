//go:build linux

package usbfs

import (
	"context"
	"fmt"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// Backend discovers devices through sysfs and opens them through usbfs.
// It implements [usb.Backend].
type Backend struct {
	// SysfsRoot is the sysfs USB device directory.
	SysfsRoot string

	// DevfsRoot is the usbfs device node directory.
	DevfsRoot string
}

var _ usb.Backend = (*Backend)(nil)

// New returns a backend rooted at the standard system paths.
func New() *Backend {
	return &Backend{SysfsRoot: SysfsUSBPath, DevfsRoot: DevfsUSBPath}
}

// Devices lists attached devices.
func (b *Backend) Devices(ctx context.Context) ([]usb.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := scanDevices(b.SysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", b.SysfsRoot, err)
	}
	pkg.LogDebug(pkg.ComponentUSB, "sysfs scan complete", "devices", len(devices))
	return devices, nil
}

// Open opens the usbfs node for info.
func (b *Backend) Open(ctx context.Context, info usb.DeviceInfo) (usb.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if info.Bus == 0 || info.Address == 0 {
		return nil, fmt.Errorf("%w: device %s has no bus address", pkg.ErrNoDevice, info.ID())
	}
	return OpenPath(devfsPath(b.DevfsRoot, info.Bus, info.Address), info)
}

// Close is a no-op; usbfs holds no backend-wide resources.
func (b *Backend) Close() error {
	return nil
}
