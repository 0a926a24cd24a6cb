// Package usb defines the device handle contract used by the dongle session
// and the descriptor model shared by its backends.
//
// Two backends implement [Backend] and [Device]:
//
//   - usb/usbfs talks to Linux usbfs directly through ioctls and discovers
//     devices through sysfs.
//   - usb/libusb wraps libusb through github.com/google/gousb.
//
// Descriptor parsing follows the USB 2.0 specification, chapter 9.
package usb
