//go:build linux

package usbfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardnew/carlink/usb"
)

// writeSysfsDevice creates a fake sysfs device directory.
func writeSysfsDevice(t *testing.T, root, name string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for k, v := range attrs {
		if err := os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestScanDevices(t *testing.T) {
	root := t.TempDir()
	writeSysfsDevice(t, root, "1-1", map[string]string{
		"busnum": "1", "devnum": "7",
		"idVendor": "1314", "idProduct": "1521",
		"speed": "480", "manufacturer": "Magic Communication Tec.", "product": "Auto Box",
		"bConfigurationValue": "1",
	})
	writeSysfsDevice(t, root, "usb1", map[string]string{"busnum": "1", "devnum": "1"})
	writeSysfsDevice(t, root, "1-1:1.0", map[string]string{"bInterfaceNumber": "00"})
	writeSysfsDevice(t, root, "1-2", map[string]string{"idVendor": "dead"}) // no busnum

	devices, err := scanDevices(root)
	if err != nil {
		t.Fatalf("scanDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1: %+v", len(devices), devices)
	}
	d := devices[0]
	if d.Bus != 1 || d.Address != 7 || d.VendorID != 0x1314 || d.ProductID != 0x1521 {
		t.Errorf("device = %+v", d)
	}
	if d.Speed != usb.SpeedHigh || d.Product != "Auto Box" {
		t.Errorf("speed/product = %v %q", d.Speed, d.Product)
	}
	if got := activeConfiguration(d.Path); got != 1 {
		t.Errorf("activeConfiguration() = %d", got)
	}

	b := &Backend{SysfsRoot: root, DevfsRoot: DevfsUSBPath}
	list, err := b.Devices(context.Background())
	if err != nil || len(list) != 1 {
		t.Errorf("Backend.Devices() = %v, %v", list, err)
	}
}

func TestScanDevices_MissingRoot(t *testing.T) {
	if _, err := scanDevices(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("scanDevices() on missing root should fail")
	}
}

func TestBackend_OpenWithoutAddress(t *testing.T) {
	b := New()
	if _, err := b.Open(context.Background(), usb.DeviceInfo{VendorID: 0x1314}); err == nil {
		t.Error("Open() without bus address should fail")
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestDevfsPath(t *testing.T) {
	tests := []struct {
		bus, dev uint8
		expected string
	}{
		{1, 1, "/dev/bus/usb/001/001"},
		{1, 123, "/dev/bus/usb/001/123"},
		{12, 34, "/dev/bus/usb/012/034"},
	}
	for _, tt := range tests {
		if got := devfsPath(DevfsUSBPath, tt.bus, tt.dev); got != tt.expected {
			t.Errorf("devfsPath(%d, %d) = %q, want %q", tt.bus, tt.dev, got, tt.expected)
		}
	}
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		input    string
		expected usb.Speed
	}{
		{"1.5", usb.SpeedLow},
		{"12", usb.SpeedFull},
		{"480", usb.SpeedHigh},
		{"5000", usb.SpeedSuper},
		{"", usb.SpeedUnknown},
		{"invalid", usb.SpeedUnknown},
	}
	for _, tt := range tests {
		if got := parseSpeed(tt.input); got != tt.expected {
			t.Errorf("parseSpeed(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
