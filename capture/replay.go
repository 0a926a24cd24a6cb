package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/usb"
)

// Replay endpoint addresses.
const (
	ReplayEndpointIn  = 0x81
	ReplayEndpointOut = 0x01
)

// ReplayOption configures a [Replay].
type ReplayOption func(*Replay)

// WithRealtime paces IN transfers by the recorded timestamps, measured
// from the first BulkIn call.
func WithRealtime() ReplayOption {
	return func(r *Replay) {
		r.realtime = true
	}
}

// Replay is a usb.Device that serves the IN records of a capture in order
// and accepts every OUT transfer. Once the records are exhausted BulkIn
// reports the device as gone.
type Replay struct {
	records  []Record
	realtime bool

	mu    sync.Mutex
	next  int
	start time.Time

	open   atomic.Bool
	closed chan struct{}
	once   sync.Once
	writes atomic.Int64
}

// NewReplay creates a replay device over the IN records of recs.
func NewReplay(recs []Record, opts ...ReplayOption) *Replay {
	r := &Replay{closed: make(chan struct{})}
	for _, rec := range recs {
		if rec.Direction == In {
			r.records = append(r.records, rec)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.open.Store(true)
	return r
}

// IsOpen reports whether Close has not been called.
func (r *Replay) IsOpen() bool { return r.open.Load() }

// SelectConfiguration accepts any configuration.
func (r *Replay) SelectConfiguration(context.Context, uint8) error { return nil }

// Configuration returns a single interface with a bulk endpoint pair.
func (r *Replay) Configuration() (*usb.Configuration, error) {
	return &usb.Configuration{
		Descriptor: usb.ConfigurationDescriptor{
			DescriptorType:     usb.DescriptorTypeConfiguration,
			NumInterfaces:      1,
			ConfigurationValue: 1,
		},
		Interfaces: []usb.Interface{{
			Descriptor: usb.InterfaceDescriptor{DescriptorType: usb.DescriptorTypeInterface, NumEndpoints: 2},
			Endpoints: []usb.EndpointDescriptor{
				{DescriptorType: usb.DescriptorTypeEndpoint, EndpointAddress: ReplayEndpointIn, Attributes: usb.EndpointTypeBulk, MaxPacketSize: 512},
				{DescriptorType: usb.DescriptorTypeEndpoint, EndpointAddress: ReplayEndpointOut, Attributes: usb.EndpointTypeBulk, MaxPacketSize: 512},
			},
		}},
	}, nil
}

// ClaimInterface always succeeds.
func (r *Replay) ClaimInterface(uint8) error { return nil }

// BulkOut discards data.
func (r *Replay) BulkOut(_ context.Context, endpoint uint8, _ []byte) (pkg.TransferStatus, error) {
	if !r.IsOpen() {
		return pkg.TransferStatusNoDevice, pkg.ErrDeviceClosed
	}
	if endpoint != ReplayEndpointOut {
		return pkg.TransferStatusError, fmt.Errorf("%w: 0x%02x", pkg.ErrInvalidEndpoint, endpoint)
	}
	r.writes.Add(1)
	return pkg.TransferStatusSuccess, nil
}

// BulkIn returns the next IN record. The length argument is ignored; the
// record is returned as captured.
func (r *Replay) BulkIn(ctx context.Context, _ uint8, _ int) ([]byte, error) {
	if !r.IsOpen() {
		return nil, pkg.ErrDeviceClosed
	}

	r.mu.Lock()
	if r.next >= len(r.records) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: end of capture", pkg.ErrNoDevice)
	}
	rec := r.records[r.next]
	r.next++
	if r.start.IsZero() {
		r.start = time.Now().Add(-rec.Elapsed)
	}
	start := r.start
	r.mu.Unlock()

	if r.realtime {
		if wait := time.Until(start.Add(rec.Elapsed)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", pkg.ErrCancelled, ctx.Err())
			case <-r.closed:
				return nil, pkg.ErrDeviceClosed
			}
		}
	}
	return rec.Data, nil
}

// Close marks the device closed and wakes a paced BulkIn.
func (r *Replay) Close() error {
	r.open.Store(false)
	r.once.Do(func() { close(r.closed) })
	return nil
}

// Remaining returns the number of IN records not yet served.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) - r.next
}

// Writes returns the number of OUT transfers accepted.
func (r *Replay) Writes() int {
	return int(r.writes.Load())
}
