package dongle

import (
	"context"
	"fmt"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// DeviceID is a USB vendor and product ID pair.
type DeviceID struct {
	VendorID  uint16
	ProductID uint16
}

// String formats the pair as "vvvv:pppp".
func (id DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// KnownDevices lists the dongles this driver supports.
var KnownDevices = []DeviceID{
	{VendorID: 0x1314, ProductID: 0x1520},
	{VendorID: 0x1314, ProductID: 0x1521},
}

// IsKnown reports whether info describes a supported dongle.
func IsKnown(info usb.DeviceInfo) bool {
	for _, id := range KnownDevices {
		if info.VendorID == id.VendorID && info.ProductID == id.ProductID {
			return true
		}
	}
	return false
}

// Discover returns the supported dongles attached to backend, in the order
// the backend enumerates them. It returns an error wrapping
// [pkg.ErrNoDevice] when none is attached.
func Discover(ctx context.Context, backend usb.Backend) ([]usb.DeviceInfo, error) {
	all, err := backend.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	var found []usb.DeviceInfo
	for _, info := range all {
		if IsKnown(info) {
			found = append(found, info)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no dongle among %d devices", pkg.ErrNoDevice, len(all))
	}
	return found, nil
}

// OpenFirst opens the first supported dongle attached to backend.
func OpenFirst(ctx context.Context, backend usb.Backend) (usb.Device, usb.DeviceInfo, error) {
	found, err := Discover(ctx, backend)
	if err != nil {
		return nil, usb.DeviceInfo{}, err
	}
	info := found[0]
	dev, err := backend.Open(ctx, info)
	if err != nil {
		return nil, info, fmt.Errorf("open %s: %w", info.ID(), err)
	}
	pkg.LogInfo(pkg.ComponentDriver, "opened dongle", "device", info.String())
	return dev, info, nil
}
