//go:build !linux

package main

import (
	"context"
	"fmt"

	"github.com/ardnew/carlink/usb"
	"github.com/ardnew/carlink/usb/libusb"
)

const (
	defaultBackend = "libusb"
	backendNames   = "libusb"
)

func openBackend(name string) (usb.Backend, error) {
	if name != "libusb" {
		return nil, fmt.Errorf("unknown backend %q (want %s)", name, backendNames)
	}
	return libusb.New()
}

func waitForDongle(ctx context.Context, backend usb.Backend) error {
	return pollForDongle(ctx, backend)
}
