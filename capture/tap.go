package capture

import (
	"context"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// Tap is a usb.Device that records every bulk transfer of the device it
// wraps. A failed record write is logged and does not fail the transfer.
type Tap struct {
	usb.Device
	w *Writer
}

// NewTap wraps dev so that its transfers are written to w.
func NewTap(dev usb.Device, w *Writer) *Tap {
	return &Tap{Device: dev, w: w}
}

// BulkIn reads from the wrapped device and records the data returned.
func (t *Tap) BulkIn(ctx context.Context, endpoint uint8, length int) ([]byte, error) {
	data, err := t.Device.BulkIn(ctx, endpoint, length)
	if err == nil && len(data) > 0 {
		t.record(In, data)
	}
	return data, err
}

// BulkOut records data and writes it to the wrapped device.
func (t *Tap) BulkOut(ctx context.Context, endpoint uint8, data []byte) (pkg.TransferStatus, error) {
	t.record(Out, data)
	return t.Device.BulkOut(ctx, endpoint, data)
}

func (t *Tap) record(dir Direction, data []byte) {
	if err := t.w.Write(dir, data); err != nil {
		pkg.LogWarn(pkg.ComponentCapture, "record failed", "direction", dir, "error", err)
	}
}
