//go:build linux

package main

import (
	"context"
	"fmt"

	"github.com/ardnew/carlink/dongle"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
	"github.com/ardnew/carlink/usb/libusb"
	"github.com/ardnew/carlink/usb/usbfs"
)

const (
	defaultBackend = "usbfs"
	backendNames   = "usbfs, libusb"
)

func openBackend(name string) (usb.Backend, error) {
	switch name {
	case "usbfs":
		return usbfs.New(), nil
	case "libusb":
		return libusb.New()
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s)", name, backendNames)
	}
}

// waitForDongle blocks until a known dongle is attached. It listens for
// kernel hotplug events and falls back to polling when the uevent socket
// is unavailable.
func waitForDongle(ctx context.Context, backend usb.Backend) error {
	if _, err := dongle.Discover(ctx, backend); err == nil {
		return nil
	}

	w, err := usbfs.NewWatcher(usbfs.SysfsUSBPath)
	if err != nil {
		pkg.LogDebug(pkg.ComponentCLI, "hotplug unavailable, polling", "error", err)
		return pollForDongle(ctx, backend)
	}
	defer w.Close()

	pkg.LogInfo(pkg.ComponentCLI, "waiting for dongle")
	for {
		ev, err := w.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Action == usbfs.ActionAdd && dongle.IsKnown(ev.Device) {
			pkg.LogInfo(pkg.ComponentCLI, "dongle attached", "device", ev.Device.String())
			return nil
		}
	}
}
