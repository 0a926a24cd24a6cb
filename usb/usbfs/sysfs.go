//go:build linux

package usbfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/carlink/usb"
)

// Default filesystem roots.
const (
	SysfsUSBPath = "/sys/bus/usb/devices"
	DevfsUSBPath = "/dev/bus/usb"
)

// =============================================================================
// Sysfs Scanning
// =============================================================================

// scanDevices lists the USB devices under root. Hub ports (usbN) and
// interface entries (1-1:1.0) are skipped, as are entries that cannot be
// parsed.
func scanDevices(root string) ([]usb.DeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []usb.DeviceInfo
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		info, err := parseDevice(filepath.Join(root, name))
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// parseDevice reads the attributes of one sysfs device directory.
func parseDevice(path string) (usb.DeviceInfo, error) {
	info := usb.DeviceInfo{Path: path}

	bus, err := readUint8(filepath.Join(path, "busnum"))
	if err != nil {
		return info, err
	}
	dev, err := readUint8(filepath.Join(path, "devnum"))
	if err != nil {
		return info, err
	}
	info.Bus, info.Address = bus, dev

	if v, err := readHexUint16(filepath.Join(path, "idVendor")); err == nil {
		info.VendorID = v
	}
	if v, err := readHexUint16(filepath.Join(path, "idProduct")); err == nil {
		info.ProductID = v
	}
	if s, err := readString(filepath.Join(path, "speed")); err == nil {
		info.Speed = parseSpeed(s)
	}
	info.Manufacturer, _ = readString(filepath.Join(path, "manufacturer"))
	info.Product, _ = readString(filepath.Join(path, "product"))
	info.Serial, _ = readString(filepath.Join(path, "serial"))
	return info, nil
}

// readDescriptors returns the raw descriptor blob the kernel caches for the
// device: the device descriptor followed by every configuration tree.
func readDescriptors(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(path, "descriptors"))
}

// activeConfiguration returns bConfigurationValue, or 0 if unconfigured.
func activeConfiguration(path string) uint8 {
	v, err := readUint8(filepath.Join(path, "bConfigurationValue"))
	if err != nil {
		return 0
	}
	return v
}

// =============================================================================
// Attribute Helpers
// =============================================================================

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

func readHexUint16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	return uint16(v), err
}

// devfsPath returns the character device node for bus/address under root.
func devfsPath(root string, bus, address uint8) string {
	return fmt.Sprintf("%s/%03d/%03d", root, bus, address)
}

func parseSpeed(s string) usb.Speed {
	switch s {
	case "1.5":
		return usb.SpeedLow
	case "12":
		return usb.SpeedFull
	case "480":
		return usb.SpeedHigh
	case "5000", "10000", "20000":
		return usb.SpeedSuper
	default:
		return usb.SpeedUnknown
	}
}
