package usb

import (
	"context"
	"fmt"

	"github.com/ardnew/carlink/pkg"
)

// Device is an opened USB device handle.
//
// Implementations must allow BulkIn and BulkOut to run concurrently with
// each other, and Close must cause a pending BulkIn to return promptly.
type Device interface {
	// IsOpen reports whether the handle is usable.
	IsOpen() bool

	// SelectConfiguration activates the configuration with the given
	// bConfigurationValue.
	SelectConfiguration(ctx context.Context, value uint8) error

	// Configuration returns the active configuration tree. It returns
	// (nil, nil) when the device exposes no configuration descriptor.
	Configuration() (*Configuration, error)

	// ClaimInterface claims exclusive access to an interface, detaching any
	// kernel driver bound to it.
	ClaimInterface(iface uint8) error

	// BulkOut writes data to an OUT endpoint. The status describes how the
	// device completed the transfer; err is set when the transfer could not
	// be issued at all.
	BulkOut(ctx context.Context, endpoint uint8, data []byte) (pkg.TransferStatus, error)

	// BulkIn reads up to length bytes from an IN endpoint.
	BulkIn(ctx context.Context, endpoint uint8, length int) ([]byte, error)

	// Close releases claimed interfaces and closes the handle. It is safe to
	// call more than once.
	Close() error
}

// Speed is the negotiated bus speed of a device.
type Speed uint8

// USB speeds.
const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	case SpeedSuper:
		return "super"
	default:
		return "unknown"
	}
}

// DeviceInfo identifies an attached device before it is opened.
type DeviceInfo struct {
	Bus          uint8
	Address      uint8
	VendorID     uint16
	ProductID    uint16
	Speed        Speed
	Path         string // backend-specific locator, e.g. a sysfs directory
	Manufacturer string
	Product      string
	Serial       string
}

// ID formats the vendor and product IDs as "vvvv:pppp".
func (d DeviceInfo) ID() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// String returns a one-line description of the device.
func (d DeviceInfo) String() string {
	s := fmt.Sprintf("bus %03d device %03d: ID %s", d.Bus, d.Address, d.ID())
	if d.Manufacturer != "" || d.Product != "" {
		s += fmt.Sprintf(" %s %s", d.Manufacturer, d.Product)
	}
	return s
}

// Backend enumerates and opens devices.
type Backend interface {
	// Devices lists attached devices.
	Devices(ctx context.Context) ([]DeviceInfo, error)

	// Open opens the device described by info.
	Open(ctx context.Context, info DeviceInfo) (Device, error)

	// Close releases backend resources. Devices opened from the backend
	// must be closed first.
	Close() error
}
