//go:build linux

package usbfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/carlink/pkg"
)

// urbTypeBulk is USBDEVFS_URB_TYPE_BULK.
const urbTypeBulk = 3

// urb matches struct usbdevfs_urb without the trailing iso descriptors.
type urb struct {
	typ          uint8
	endpoint     uint8
	status       int32 // negative errno once reaped
	flags        uint32
	buffer       unsafe.Pointer
	bufferLength int32
	actualLength int32
	startFrame   int32
	streamID     uint32
	errorCount   int32
	signr        uint32
	usercontext  unsafe.Pointer
}

func newBulkURB(endpoint uint8, buf []byte) *urb {
	u := &urb{typ: urbTypeBulk, endpoint: endpoint, bufferLength: int32(len(buf))}
	if len(buf) > 0 {
		u.buffer = unsafe.Pointer(&buf[0])
	}
	return u
}

// urbIO issues the asynchronous usbfs requests.
type urbIO interface {
	submit(fd int, u *urb) error
	discard(fd int, u *urb) error
	// reap returns a completed URB. Without wait it fails with EAGAIN when
	// none has completed.
	reap(fd int, wait bool) (*urb, error)
}

// kernelURBs is the urbIO of a real device node.
type kernelURBs struct{}

func (kernelURBs) submit(fd int, u *urb) error {
	_, err := ioctlPtr(fd, ioctlSubmitURB, unsafe.Pointer(u))
	return err
}

func (kernelURBs) discard(fd int, u *urb) error {
	_, err := ioctlPtr(fd, ioctlDiscardURB, unsafe.Pointer(u))
	return err
}

func (kernelURBs) reap(fd int, wait bool) (*urb, error) {
	req := ioctlReapURBNoDelay
	if wait {
		req = ioctlReapURB
	}
	var done unsafe.Pointer
	if _, err := ioctlPtr(fd, req, unsafe.Pointer(&done)); err != nil {
		return nil, err
	}
	return (*urb)(done), nil
}

// =============================================================================
// Completion Wait
// =============================================================================

// await blocks until u completes. The URB stays queued across wakeups, so a
// slow transfer is never split. On cancellation, Close, or disconnect the
// URB is discarded and reaped before await returns, so the kernel no longer
// holds its buffer.
func (d *Device) await(ctx context.Context, u *urb) error {
	fds := []unix.PollFd{
		{Fd: int32(d.fd), Events: unix.POLLOUT},
		{Fd: int32(d.wakefd), Events: unix.POLLIN},
	}
	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return d.abandon(u, fmt.Errorf("%w: poll: %v", pkg.ErrTransfer, err))
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			d.drainWake()
			switch {
			case d.closed.Load():
				return d.abandon(u, pkg.ErrDeviceClosed)
			case ctx.Err() != nil:
				return d.abandon(u, fmt.Errorf("%w: %v", pkg.ErrCancelled, ctx.Err()))
			}
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return d.abandon(u, fmt.Errorf("%w: device disconnected", pkg.ErrNoDevice))
		}
		if fds[0].Revents&unix.POLLOUT == 0 {
			continue
		}

		done, err := d.urbs.reap(d.fd, false)
		switch {
		case errors.Is(err, unix.EAGAIN):
			continue
		case err != nil:
			return d.abandon(u, fmt.Errorf("%w: reap: %v", transferStatus(err).Error(), err))
		case done == u:
			return nil
		}
	}
}

// abandon discards u, waits for the kernel to return it, and reports cause.
func (d *Device) abandon(u *urb, cause error) error {
	if err := d.urbs.discard(d.fd, u); err != nil && !errors.Is(err, unix.EINVAL) {
		pkg.LogDebug(pkg.ComponentUSB, "discard urb", "endpoint", u.endpoint, "error", err)
	}
	for {
		done, err := d.urbs.reap(d.fd, true)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || done == u {
			return cause
		}
	}
}

// wake interrupts a pending await. It is a no-op once the device is closed.
func (d *Device) wake() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed.Load() {
		d.signalWake()
	}
}

func (d *Device) signalWake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(d.wakefd, one[:])
}

func (d *Device) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(d.wakefd, buf[:])
}
