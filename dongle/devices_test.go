package dongle

import (
	"context"
	"errors"
	"testing"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

type mockBackend struct {
	devices []usb.DeviceInfo
	listErr error
	openErr error
	opened  []usb.DeviceInfo
}

func (b *mockBackend) Devices(context.Context) ([]usb.DeviceInfo, error) {
	return b.devices, b.listErr
}

func (b *mockBackend) Open(_ context.Context, info usb.DeviceInfo) (usb.Device, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened = append(b.opened, info)
	return newMockDevice(), nil
}

func (b *mockBackend) Close() error { return nil }

func TestIsKnown(t *testing.T) {
	tests := []struct {
		vid, pid uint16
		want     bool
	}{
		{0x1314, 0x1520, true},
		{0x1314, 0x1521, true},
		{0x1314, 0x1522, false},
		{0x05ac, 0x1520, false},
	}
	for _, tt := range tests {
		info := usb.DeviceInfo{VendorID: tt.vid, ProductID: tt.pid}
		if got := IsKnown(info); got != tt.want {
			t.Errorf("IsKnown(%s) = %v, want %v", info.ID(), got, tt.want)
		}
	}
	if KnownDevices[0].String() != "1314:1520" {
		t.Errorf("String() = %q", KnownDevices[0].String())
	}
}

func TestDiscover(t *testing.T) {
	b := &mockBackend{devices: []usb.DeviceInfo{
		{Bus: 1, Address: 2, VendorID: 0x1d6b, ProductID: 0x0002},
		{Bus: 1, Address: 5, VendorID: 0x1314, ProductID: 0x1521},
		{Bus: 2, Address: 3, VendorID: 0x1314, ProductID: 0x1520},
	}}

	found, err := Discover(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].Address != 5 || found[1].Address != 3 {
		t.Errorf("Discover() = %v", found)
	}

	dev, info, err := OpenFirst(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if dev == nil || info.Address != 5 || len(b.opened) != 1 {
		t.Errorf("OpenFirst() = %v, %v", dev, info)
	}
}

func TestDiscover_Errors(t *testing.T) {
	b := &mockBackend{devices: []usb.DeviceInfo{{VendorID: 0x1d6b, ProductID: 1}}}
	if _, err := Discover(context.Background(), b); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("no dongle: error = %v", err)
	}

	b.listErr = pkg.ErrTimeout
	if _, err := Discover(context.Background(), b); !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("list failure: error = %v", err)
	}

	b = &mockBackend{
		devices: []usb.DeviceInfo{{VendorID: 0x1314, ProductID: 0x1520}},
		openErr: pkg.ErrDeviceState,
	}
	if _, _, err := OpenFirst(context.Background(), b); !errors.Is(err, pkg.ErrDeviceState) {
		t.Errorf("open failure: error = %v", err)
	}
}

func TestEvent_String(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: EventConnected}, "connected"},
		{Event{Kind: EventDisconnected}, "disconnected"},
		{Event{Kind: EventFailure, Err: pkg.ErrCircuitOpen}, "failure(error ceiling reached)"},
		{Event{Kind: EventMessage}, "message(nil)"},
		{Event{Kind: EventKind(9)}, "EventKind(9)"},
	}
	for _, tt := range tests {
		if got := tt.ev.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}

	var got Event
	HandlerFunc(func(ev Event) { got = ev }).HandleEvent(Event{Kind: EventConnected})
	if got.Kind != EventConnected {
		t.Error("HandlerFunc did not forward the event")
	}
}
