// Package usbfs is a pure-Go Linux backend for the dongle driver.
//
// Devices are discovered by scanning sysfs and opened through their usbfs
// character nodes under /dev/bus/usb. Transfers use the synchronous
// USBDEVFS_BULK ioctl; reads are issued in bounded slices so that a pending
// read observes context cancellation and [Device.Close].
//
// A [Watcher] listens on the kernel uevent netlink socket and reports device
// arrival and removal, which the CLI uses to reconnect after the dongle is
// replugged.
//
// Opening a device node requires write permission on it, typically granted
// by a udev rule for the dongle's vendor ID.
package usbfs
