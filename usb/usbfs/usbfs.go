//go:build linux

package usbfs

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/carlink/pkg"
)

// =============================================================================
// Kernel Structures
// =============================================================================

// bulkTransfer matches struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // milliseconds, 0 waits forever
	data     unsafe.Pointer
}

// disconnectClaim matches struct usbdevfs_disconnect_claim.
type disconnectClaim struct {
	iface  uint32
	flags  uint32
	driver [256]byte
}

// =============================================================================
// Syscall Wrappers
// =============================================================================

func openDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

func setConfiguration(fd int, value uint8) error {
	v := uint32(value)
	_, err := ioctlPtr(fd, ioctlSetConfiguration, unsafe.Pointer(&v))
	return err
}

// claimInterface detaches any kernel driver bound to iface and claims it in
// one step, falling back to a plain claim on kernels without
// USBDEVFS_DISCONNECT_CLAIM.
func claimInterface(fd int, iface uint8) error {
	dc := disconnectClaim{iface: uint32(iface)}
	_, err := ioctlPtr(fd, ioctlDisconnectClaim, unsafe.Pointer(&dc))
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		v := uint32(iface)
		_, err = ioctlPtr(fd, ioctlClaimInterface, unsafe.Pointer(&v))
	}
	return err
}

func releaseInterface(fd int, iface uint8) error {
	v := uint32(iface)
	_, err := ioctlPtr(fd, ioctlReleaseInterface, unsafe.Pointer(&v))
	return err
}

// bulk performs one synchronous bulk transfer and returns the number of
// bytes moved.
func bulk(fd int, endpoint uint8, data []byte, timeoutMs uint32) (int, error) {
	bt := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeoutMs,
	}
	if len(data) > 0 {
		bt.data = unsafe.Pointer(&data[0])
	}
	return ioctlPtr(fd, ioctlBulk, unsafe.Pointer(&bt))
}

// =============================================================================
// Error Mapping
// =============================================================================

// transferStatus classifies a bulk ioctl error.
func transferStatus(err error) pkg.TransferStatus {
	var errno unix.Errno
	if err == nil {
		return pkg.TransferStatusSuccess
	}
	if !errors.As(err, &errno) {
		return pkg.TransferStatusError
	}
	switch errno {
	case unix.ETIMEDOUT:
		return pkg.TransferStatusTimeout
	case unix.EPIPE:
		return pkg.TransferStatusStall
	case unix.EOVERFLOW:
		return pkg.TransferStatusOverrun
	case unix.ENODEV, unix.ESHUTDOWN, unix.ENOENT:
		return pkg.TransferStatusNoDevice
	case unix.EINTR, unix.ECONNRESET:
		return pkg.TransferStatusCancelled
	default:
		return pkg.TransferStatusError
	}
}
