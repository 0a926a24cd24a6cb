//go:build linux && (amd64 || arm64 || arm || 386 || riscv64 || loong64)

package usbfs

import "unsafe"

// ioctl request encoding shared by the asm-generic architectures:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type
//	bits 16-29: argument size
//	bits 30-31: direction
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func iocmd(typ, nr uintptr) uintptr      { return ioc(iocNone, typ, nr, 0) }
func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr  { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

const usbdevfsType = 'U'

// usbdevfs command numbers from linux/usbdevice_fs.h.
const (
	nrBulk             = 2
	nrSetConfiguration = 5
	nrSubmitURB        = 10
	nrDiscardURB       = 11
	nrReapURB          = 12
	nrReapURBNoDelay   = 13
	nrClaimInterface   = 15
	nrReleaseInterface = 16
	nrDisconnectClaim  = 27
)

// Argument sizes follow the native struct layouts, so pointer width is
// accounted for on 32-bit targets.
var (
	ioctlBulk             = iowr(usbdevfsType, nrBulk, unsafe.Sizeof(bulkTransfer{}))
	ioctlSetConfiguration = ior(usbdevfsType, nrSetConfiguration, unsafe.Sizeof(uint32(0)))
	ioctlSubmitURB        = ior(usbdevfsType, nrSubmitURB, unsafe.Sizeof(urb{}))
	ioctlDiscardURB       = iocmd(usbdevfsType, nrDiscardURB)
	ioctlReapURB          = iow(usbdevfsType, nrReapURB, unsafe.Sizeof(uintptr(0)))
	ioctlReapURBNoDelay   = iow(usbdevfsType, nrReapURBNoDelay, unsafe.Sizeof(uintptr(0)))
	ioctlClaimInterface   = ior(usbdevfsType, nrClaimInterface, unsafe.Sizeof(uint32(0)))
	ioctlReleaseInterface = ior(usbdevfsType, nrReleaseInterface, unsafe.Sizeof(uint32(0)))
	ioctlDisconnectClaim  = ior(usbdevfsType, nrDisconnectClaim, unsafe.Sizeof(disconnectClaim{}))
)
