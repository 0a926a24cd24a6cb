//go:build !cgo

package libusb

import (
	"fmt"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// New reports that libusb is unavailable in builds without cgo.
func New() (usb.Backend, error) {
	return nil, fmt.Errorf("%w: libusb backend requires cgo", pkg.ErrNoDevice)
}
