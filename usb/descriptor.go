package usb

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/carlink/pkg"
)

// Endpoint transfer types.
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Descriptor types.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// Descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
)

// DeviceDescriptor represents a USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// ParseDeviceDescriptor parses a device descriptor from data.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) bool {
	if len(data) < DeviceDescriptorSize || data[1] != DescriptorTypeDevice {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.USBVersion = binary.LittleEndian.Uint16(data[2:])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:])
	out.ProductID = binary.LittleEndian.Uint16(data[10:])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return true
}

// ConfigurationDescriptor is the header of a configuration descriptor tree.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ParseConfigurationDescriptor parses a configuration descriptor header.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) bool {
	if len(data) < ConfigurationDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.TotalLength = binary.LittleEndian.Uint16(data[2:])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return true
}

// InterfaceDescriptor represents a USB interface descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// ParseInterfaceDescriptor parses an interface descriptor.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) bool {
	if len(data) < InterfaceDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return true
}

// EndpointDescriptor represents a USB endpoint descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// ParseEndpointDescriptor parses an endpoint descriptor.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) bool {
	if len(data) < EndpointDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = binary.LittleEndian.Uint16(data[4:])
	out.Interval = data[6]
	return true
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.EndpointAddress & 0x0F
}

// IsIn returns true if this is an IN endpoint.
func (e *EndpointDescriptor) IsIn() bool {
	return e.EndpointAddress&0x80 == EndpointDirectionIn
}

// IsOut returns true if this is an OUT endpoint.
func (e *EndpointDescriptor) IsOut() bool {
	return e.EndpointAddress&0x80 == EndpointDirectionOut
}

// IsBulk returns true if this is a bulk endpoint.
func (e *EndpointDescriptor) IsBulk() bool {
	return e.Attributes&0x03 == EndpointTypeBulk
}

// String formats the endpoint as "ep 0x81 in bulk/512".
func (e *EndpointDescriptor) String() string {
	dir := "out"
	if e.IsIn() {
		dir = "in"
	}
	kind := [...]string{"control", "iso", "bulk", "interrupt"}[e.Attributes&0x03]
	return fmt.Sprintf("ep 0x%02x %s %s/%d", e.EndpointAddress, dir, kind, e.MaxPacketSize)
}

// Interface is one interface of a configuration with its endpoints.
type Interface struct {
	Descriptor InterfaceDescriptor
	Endpoints  []EndpointDescriptor
}

// Number returns the interface number.
func (i *Interface) Number() uint8 {
	return i.Descriptor.InterfaceNumber
}

// Configuration is a parsed configuration descriptor tree.
type Configuration struct {
	Descriptor ConfigurationDescriptor
	Interfaces []Interface
}

// ParseConfiguration parses a full configuration descriptor tree, nesting
// each endpoint under the interface descriptor that precedes it. Alternate
// settings other than 0 and class-specific descriptors are skipped.
func ParseConfiguration(data []byte) (*Configuration, error) {
	cfg := &Configuration{}
	if !ParseConfigurationDescriptor(data, &cfg.Descriptor) {
		return nil, fmt.Errorf("%w: configuration is %d bytes", pkg.ErrDescriptorTooShort, len(data))
	}
	if cfg.Descriptor.DescriptorType != DescriptorTypeConfiguration {
		return nil, fmt.Errorf("%w: descriptor type 0x%02x is not a configuration",
			pkg.ErrInvalidParameter, cfg.Descriptor.DescriptorType)
	}

	cfg.Interfaces = make([]Interface, 0, cfg.Descriptor.NumInterfaces)
	current := -1
	skipAlt := false

	offset := int(cfg.Descriptor.Length)
	if offset < ConfigurationDescriptorSize {
		offset = ConfigurationDescriptorSize
	}
	for offset+2 <= len(data) && offset < int(cfg.Descriptor.TotalLength) {
		length := int(data[offset])
		if length < 2 || offset+length > len(data) {
			break
		}

		switch data[offset+1] {
		case DescriptorTypeInterface:
			var iface InterfaceDescriptor
			if ParseInterfaceDescriptor(data[offset:offset+length], &iface) {
				skipAlt = iface.AlternateSetting != 0
				if !skipAlt {
					cfg.Interfaces = append(cfg.Interfaces, Interface{Descriptor: iface})
					current = len(cfg.Interfaces) - 1
				}
			}

		case DescriptorTypeEndpoint:
			var ep EndpointDescriptor
			if current >= 0 && !skipAlt && ParseEndpointDescriptor(data[offset:offset+length], &ep) {
				cfg.Interfaces[current].Endpoints = append(cfg.Interfaces[current].Endpoints, ep)
			}
		}

		offset += length
	}
	return cfg, nil
}

// BulkEndpoints returns the first bulk IN and the first bulk OUT endpoint of
// iface. Either result is nil when the interface lacks that direction.
func BulkEndpoints(iface *Interface) (in, out *EndpointDescriptor) {
	for i := range iface.Endpoints {
		ep := &iface.Endpoints[i]
		if !ep.IsBulk() {
			continue
		}
		if ep.IsIn() && in == nil {
			in = ep
		}
		if ep.IsOut() && out == nil {
			out = ep
		}
	}
	return in, out
}
