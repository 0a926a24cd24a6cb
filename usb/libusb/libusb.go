//go:build cgo

package libusb

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/gousb"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// Backend enumerates and opens devices through libusb.
type Backend struct {
	ctx *gousb.Context
}

// New creates a libusb context.
func New() (usb.Backend, error) {
	return &Backend{ctx: gousb.NewContext()}, nil
}

// Devices lists attached devices without opening them.
func (b *Backend) Devices(ctx context.Context) ([]usb.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []usb.DeviceInfo
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		out = append(out, infoFromDesc(desc))
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("libusb enumerate: %w", err)
	}
	return out, nil
}

// Open opens the device at info's bus address, or the first device with
// info's vendor and product IDs when no address is given.
func (b *Backend) Open(ctx context.Context, info usb.DeviceInfo) (usb.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != info.VendorID || uint16(desc.Product) != info.ProductID {
			return false
		}
		if info.Bus == 0 {
			return true
		}
		return desc.Bus == int(info.Bus) && desc.Address == int(info.Address)
	})
	if len(devs) == 0 {
		if err == nil {
			err = pkg.ErrNoDevice
		}
		return nil, fmt.Errorf("libusb open %s: %w", info.ID(), err)
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev := devs[0]
	if err := dev.SetAutoDetach(true); err != nil {
		pkg.LogWarn(pkg.ComponentUSB, "auto-detach unavailable", "error", err)
	}
	full := infoFromDesc(dev.Desc)
	full.Manufacturer, _ = dev.Manufacturer()
	full.Product, _ = dev.Product()
	full.Serial, _ = dev.SerialNumber()
	pkg.LogDebug(pkg.ComponentUSB, "libusb device opened", "device", full.String())
	return &Device{dev: dev, info: full}, nil
}

// Close releases the libusb context.
func (b *Backend) Close() error {
	return b.ctx.Close()
}

// Device adapts a gousb device to [usb.Device].
type Device struct {
	info usb.DeviceInfo

	mu     sync.Mutex
	dev    *gousb.Device
	config *gousb.Config
	iface  *gousb.Interface
	in     map[uint8]*gousb.InEndpoint
	out    map[uint8]*gousb.OutEndpoint
	value  int
}

var _ usb.Device = (*Device)(nil)

// IsOpen reports whether the device has not been closed.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev != nil
}

// SelectConfiguration activates a configuration.
func (d *Device) SelectConfiguration(ctx context.Context, value uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return pkg.ErrDeviceClosed
	}
	if d.config != nil {
		if d.value == int(value) {
			return nil
		}
		d.closeConfigLocked()
	}
	cfg, err := d.dev.Config(int(value))
	if err != nil {
		return fmt.Errorf("set configuration %d: %w", value, err)
	}
	d.config = cfg
	d.value = int(value)
	return nil
}

// Configuration converts the cached libusb descriptor of the selected
// configuration.
func (d *Device) Configuration() (*usb.Configuration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil, pkg.ErrDeviceClosed
	}
	desc, ok := d.dev.Desc.Configs[d.value]
	if !ok {
		return nil, nil
	}
	return configFromDesc(desc), nil
}

// ClaimInterface claims alternate setting 0 of iface and resolves its
// endpoints.
func (d *Device) ClaimInterface(iface uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return pkg.ErrDeviceClosed
	}
	if d.config == nil {
		return fmt.Errorf("%w: no configuration selected", pkg.ErrInvalidState)
	}
	if d.iface != nil {
		return nil
	}
	intf, err := d.config.Interface(int(iface), 0)
	if err != nil {
		return fmt.Errorf("claim interface %d: %w", iface, err)
	}
	d.iface = intf
	d.in = make(map[uint8]*gousb.InEndpoint)
	d.out = make(map[uint8]*gousb.OutEndpoint)
	for addr, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionIn {
			if e, err := intf.InEndpoint(ep.Number); err == nil {
				d.in[uint8(addr)] = e
			}
		} else if e, err := intf.OutEndpoint(ep.Number); err == nil {
			d.out[uint8(addr)] = e
		}
	}
	return nil
}

// BulkOut writes data to the OUT endpoint address.
func (d *Device) BulkOut(ctx context.Context, endpoint uint8, data []byte) (pkg.TransferStatus, error) {
	d.mu.Lock()
	ep := d.out[endpoint]
	open := d.dev != nil
	d.mu.Unlock()
	if !open {
		return pkg.TransferStatusNoDevice, pkg.ErrDeviceClosed
	}
	if ep == nil {
		return pkg.TransferStatusError, fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidEndpoint, endpoint)
	}
	n, err := ep.WriteContext(ctx, data)
	if err != nil {
		return transferStatus(err), nil
	}
	if n != len(data) {
		return pkg.TransferStatusError, nil
	}
	return pkg.TransferStatusSuccess, nil
}

// BulkIn reads up to length bytes from the IN endpoint address.
func (d *Device) BulkIn(ctx context.Context, endpoint uint8, length int) ([]byte, error) {
	d.mu.Lock()
	ep := d.in[endpoint]
	open := d.dev != nil
	d.mu.Unlock()
	if !open {
		return nil, pkg.ErrDeviceClosed
	}
	if ep == nil {
		return nil, fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidEndpoint, endpoint)
	}
	buf := make([]byte, length)
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: bulk in 0x%02x: %v", transferStatus(err).Error(), endpoint, err)
	}
	return buf[:n], nil
}

// Close releases the interface and configuration and closes the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	d.closeConfigLocked()
	err := d.dev.Close()
	d.dev = nil
	return err
}

func (d *Device) closeConfigLocked() {
	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
	}
	d.in, d.out = nil, nil
	if d.config != nil {
		d.config.Close()
		d.config = nil
	}
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func infoFromDesc(desc *gousb.DeviceDesc) usb.DeviceInfo {
	return usb.DeviceInfo{
		Bus:       uint8(desc.Bus),
		Address:   uint8(desc.Address),
		VendorID:  uint16(desc.Vendor),
		ProductID: uint16(desc.Product),
		Speed:     speedFromLibusb(desc.Speed),
		Path:      fmt.Sprintf("libusb:%d.%d", desc.Bus, desc.Address),
	}
}

func speedFromLibusb(s gousb.Speed) usb.Speed {
	switch s {
	case gousb.SpeedLow:
		return usb.SpeedLow
	case gousb.SpeedFull:
		return usb.SpeedFull
	case gousb.SpeedHigh:
		return usb.SpeedHigh
	case gousb.SpeedSuper:
		return usb.SpeedSuper
	default:
		return usb.SpeedUnknown
	}
}

// configFromDesc rebuilds the descriptor tree from libusb's parsed form,
// keeping alternate setting 0 of each interface.
func configFromDesc(desc gousb.ConfigDesc) *usb.Configuration {
	cfg := &usb.Configuration{
		Descriptor: usb.ConfigurationDescriptor{
			Length:             usb.ConfigurationDescriptorSize,
			DescriptorType:     usb.DescriptorTypeConfiguration,
			NumInterfaces:      uint8(len(desc.Interfaces)),
			ConfigurationValue: uint8(desc.Number),
			MaxPower:           uint8(desc.MaxPower / 2),
		},
	}
	for _, id := range desc.Interfaces {
		if len(id.AltSettings) == 0 {
			continue
		}
		alt := id.AltSettings[0]
		iface := usb.Interface{Descriptor: usb.InterfaceDescriptor{
			Length:            usb.InterfaceDescriptorSize,
			DescriptorType:    usb.DescriptorTypeInterface,
			InterfaceNumber:   uint8(alt.Number),
			AlternateSetting:  uint8(alt.Alternate),
			NumEndpoints:      uint8(len(alt.Endpoints)),
			InterfaceClass:    uint8(alt.Class),
			InterfaceSubClass: uint8(alt.SubClass),
			InterfaceProtocol: uint8(alt.Protocol),
		}}
		for addr, ep := range alt.Endpoints {
			iface.Endpoints = append(iface.Endpoints, usb.EndpointDescriptor{
				Length:          usb.EndpointDescriptorSize,
				DescriptorType:  usb.DescriptorTypeEndpoint,
				EndpointAddress: uint8(addr),
				Attributes:      uint8(ep.TransferType),
				MaxPacketSize:   uint16(ep.MaxPacketSize),
			})
		}
		// Map iteration order must not leak into endpoint selection.
		slices.SortFunc(iface.Endpoints, func(a, b usb.EndpointDescriptor) int {
			return cmp.Compare(a.EndpointAddress, b.EndpointAddress)
		})
		cfg.Interfaces = append(cfg.Interfaces, iface)
	}
	return cfg
}

// transferStatus classifies a gousb transfer error.
func transferStatus(err error) pkg.TransferStatus {
	var ts gousb.TransferStatus
	if errors.As(err, &ts) {
		switch ts {
		case gousb.TransferCompleted:
			return pkg.TransferStatusSuccess
		case gousb.TransferTimedOut:
			return pkg.TransferStatusTimeout
		case gousb.TransferStall:
			return pkg.TransferStatusStall
		case gousb.TransferNoDevice:
			return pkg.TransferStatusNoDevice
		case gousb.TransferOverflow:
			return pkg.TransferStatusOverrun
		case gousb.TransferCancelled:
			return pkg.TransferStatusCancelled
		default:
			return pkg.TransferStatusError
		}
	}
	var e gousb.Error
	if errors.As(err, &e) {
		switch e {
		case gousb.ErrorTimeout:
			return pkg.TransferStatusTimeout
		case gousb.ErrorPipe:
			return pkg.TransferStatusStall
		case gousb.ErrorNoDevice:
			return pkg.TransferStatusNoDevice
		case gousb.ErrorOverflow:
			return pkg.TransferStatusOverrun
		case gousb.ErrorInterrupted:
			return pkg.TransferStatusCancelled
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pkg.TransferStatusCancelled
	}
	return pkg.TransferStatusError
}
