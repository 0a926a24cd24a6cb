// Package libusb implements the usb device contract on top of libusb via
// github.com/google/gousb. It is the portable alternative to usb/usbfs and
// requires cgo.
package libusb
