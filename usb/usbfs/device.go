//go:build linux

package usbfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// Transfer timing defaults.
const (
	// DefaultPollInterval bounds each wait of the hotplug watcher so that
	// it notices cancellation.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultOutTimeout bounds each bulk OUT ioctl.
	DefaultOutTimeout = 5 * time.Second
)

// maxDescriptorSize bounds the descriptor blob read from the device node.
const maxDescriptorSize = 4096

// Device is a usbfs device handle. It implements [usb.Device].
type Device struct {
	info usb.DeviceInfo

	// mu is read-locked around every ioctl and write-locked by Close, so
	// the descriptor is never closed under an in-flight transfer.
	mu     sync.RWMutex
	fd     int
	wakefd int // eventfd that interrupts a pending bulk IN
	closed atomic.Bool

	// inMu allows one bulk IN URB in flight.
	inMu sync.Mutex
	urbs urbIO

	claimMu sync.Mutex
	claimed uint32 // bitmask of claimed interfaces

	configValue uint8
	outTimeout  time.Duration
}

var _ usb.Device = (*Device)(nil)

// OpenPath opens the usbfs node at devPath.
func OpenPath(devPath string, info usb.DeviceInfo) (*Device, error) {
	fd, err := openDevice(devPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	pkg.LogDebug(pkg.ComponentUSB, "usbfs device opened", "path", devPath, "id", info.ID())
	return &Device{
		info:       info,
		fd:         fd,
		wakefd:     wakefd,
		urbs:       kernelURBs{},
		outTimeout: DefaultOutTimeout,
	}, nil
}

// Info returns the identity the device was opened with.
func (d *Device) Info() usb.DeviceInfo {
	return d.info
}

// IsOpen reports whether the handle has not been closed.
func (d *Device) IsOpen() bool {
	return !d.closed.Load()
}

// SelectConfiguration activates a configuration. The ioctl is skipped when
// sysfs reports the configuration already active, since re-selecting it
// fails while kernel drivers are bound.
func (d *Device) SelectConfiguration(ctx context.Context, value uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.info.Path != "" && activeConfiguration(d.info.Path) == value {
		d.configValue = value
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return pkg.ErrDeviceClosed
	}
	if err := setConfiguration(d.fd, value); err != nil {
		return fmt.Errorf("set configuration %d: %w", value, err)
	}
	d.configValue = value
	return nil
}

// Configuration reads the descriptor blob from the device node and returns
// the tree matching the selected configuration, or the first one.
func (d *Device) Configuration() (*usb.Configuration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return nil, pkg.ErrDeviceClosed
	}

	buf := make([]byte, maxDescriptorSize)
	n, err := unix.Pread(d.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("read descriptors: %w", err)
	}
	return selectConfiguration(buf[:n], d.configValue)
}

// selectConfiguration walks a device descriptor followed by its
// configuration trees.
func selectConfiguration(data []byte, value uint8) (*usb.Configuration, error) {
	var dev usb.DeviceDescriptor
	if !usb.ParseDeviceDescriptor(data, &dev) {
		return nil, fmt.Errorf("%w: device descriptor", pkg.ErrDescriptorTooShort)
	}
	var first *usb.Configuration
	for off := int(dev.Length); off+usb.ConfigurationDescriptorSize <= len(data); {
		cfg, err := usb.ParseConfiguration(data[off:])
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = cfg
		}
		if cfg.Descriptor.ConfigurationValue == value {
			return cfg, nil
		}
		if cfg.Descriptor.TotalLength == 0 {
			break
		}
		off += int(cfg.Descriptor.TotalLength)
	}
	return first, nil
}

// ClaimInterface detaches any kernel driver and claims iface.
func (d *Device) ClaimInterface(iface uint8) error {
	if iface >= 32 {
		return pkg.ErrInvalidParameter
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return pkg.ErrDeviceClosed
	}

	d.claimMu.Lock()
	defer d.claimMu.Unlock()
	if d.claimed&(1<<iface) != 0 {
		return nil
	}
	if err := claimInterface(d.fd, iface); err != nil {
		return fmt.Errorf("claim interface %d: %w", iface, err)
	}
	d.claimed |= 1 << iface
	return nil
}

// BulkOut writes data to the OUT endpoint address.
func (d *Device) BulkOut(ctx context.Context, endpoint uint8, data []byte) (pkg.TransferStatus, error) {
	if err := ctx.Err(); err != nil {
		return pkg.TransferStatusCancelled, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return pkg.TransferStatusNoDevice, pkg.ErrDeviceClosed
	}

	n, err := bulk(d.fd, endpoint&^usb.EndpointDirectionIn, data, uint32(d.outTimeout.Milliseconds()))
	if err != nil {
		status := transferStatus(err)
		pkg.LogDebug(pkg.ComponentUSB, "bulk out failed", "endpoint", endpoint, "status", status, "error", err)
		return status, nil
	}
	if n != len(data) {
		return pkg.TransferStatusError, nil
	}
	return pkg.TransferStatusSuccess, nil
}

// BulkIn reads up to length bytes from the IN endpoint address. The read is
// submitted as a single URB that stays queued until it completes, ctx is
// done, or the device is closed.
func (d *Device) BulkIn(ctx context.Context, endpoint uint8, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrCancelled, err)
	}
	d.inMu.Lock()
	defer d.inMu.Unlock()
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return nil, pkg.ErrDeviceClosed
	}

	buf := make([]byte, length)
	u := newBulkURB(endpoint|usb.EndpointDirectionIn, buf)
	if err := d.urbs.submit(d.fd, u); err != nil {
		return nil, fmt.Errorf("%w: submit bulk in 0x%02x: %v", transferStatus(err).Error(), endpoint, err)
	}
	stop := context.AfterFunc(ctx, d.wake)
	defer stop()

	if err := d.await(ctx, u); err != nil {
		return nil, err
	}
	if u.status != 0 {
		err := unix.Errno(-u.status)
		return nil, fmt.Errorf("%w: bulk in 0x%02x: %v", transferStatus(err).Error(), endpoint, err)
	}
	return buf[:u.actualLength], nil
}

// Close releases claimed interfaces and closes the node.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	// A pending bulk IN holds the read lock until it is woken.
	d.signalWake()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.claimMu.Lock()
	for i := uint8(0); i < 32; i++ {
		if d.claimed&(1<<i) != 0 {
			_ = releaseInterface(d.fd, i)
		}
	}
	d.claimed = 0
	d.claimMu.Unlock()

	err := unix.Close(d.fd)
	unix.Close(d.wakefd)
	d.fd, d.wakefd = -1, -1
	pkg.LogDebug(pkg.ComponentUSB, "usbfs device closed", "id", d.info.ID())
	return err
}
