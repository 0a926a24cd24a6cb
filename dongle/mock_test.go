package dongle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
	"github.com/ardnew/carlink/usb"
)

// =============================================================================
// Mock Device
// =============================================================================

// write is one captured OUT transfer.
type write struct {
	at       time.Time
	endpoint uint8
	header   protocol.Header
	body     []byte
}

// mockDevice is an in-memory usb.Device. IN transfers are served from a
// queue of chunks, one chunk per BulkIn call.
type mockDevice struct {
	open    atomic.Bool
	config  *usb.Configuration
	noDesc  bool
	selErr  error
	cfgErr  error
	claimEr error

	claims  atomic.Int32
	closes  atomic.Int32
	selects atomic.Int32

	in     chan []byte
	inErr  chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	writes  []write
	outFn   func(data []byte) (pkg.TransferStatus, error)
	onWrite chan struct{}
}

// dongleConfiguration has IN endpoint 1 and OUT endpoint 2.
func dongleConfiguration() *usb.Configuration {
	return &usb.Configuration{
		Descriptor: usb.ConfigurationDescriptor{ConfigurationValue: 1, NumInterfaces: 1},
		Interfaces: []usb.Interface{{
			Descriptor: usb.InterfaceDescriptor{InterfaceNumber: 0, NumEndpoints: 2},
			Endpoints: []usb.EndpointDescriptor{
				{EndpointAddress: 0x81, Attributes: usb.EndpointTypeBulk, MaxPacketSize: 512},
				{EndpointAddress: 0x02, Attributes: usb.EndpointTypeBulk, MaxPacketSize: 512},
			},
		}},
	}
}

func newMockDevice() *mockDevice {
	d := &mockDevice{
		config:  dongleConfiguration(),
		in:      make(chan []byte, 64),
		inErr:   make(chan error, 16),
		closed:  make(chan struct{}),
		onWrite: make(chan struct{}, 256),
	}
	d.open.Store(true)
	return d
}

func (d *mockDevice) IsOpen() bool { return d.open.Load() }

func (d *mockDevice) SelectConfiguration(_ context.Context, _ uint8) error {
	d.selects.Add(1)
	return d.selErr
}

func (d *mockDevice) Configuration() (*usb.Configuration, error) {
	if d.cfgErr != nil {
		return nil, d.cfgErr
	}
	if d.noDesc {
		return nil, nil
	}
	return d.config, nil
}

func (d *mockDevice) ClaimInterface(_ uint8) error {
	d.claims.Add(1)
	return d.claimEr
}

func (d *mockDevice) BulkOut(ctx context.Context, endpoint uint8, data []byte) (pkg.TransferStatus, error) {
	if !d.IsOpen() {
		return pkg.TransferStatusNoDevice, pkg.ErrDeviceClosed
	}
	h, err := protocol.ParseHeader(data[:protocol.HeaderSize])
	if err != nil {
		return pkg.TransferStatusError, err
	}
	d.mu.Lock()
	d.writes = append(d.writes, write{
		at:       time.Now(),
		endpoint: endpoint,
		header:   h,
		body:     append([]byte(nil), data[protocol.HeaderSize:]...),
	})
	fn := d.outFn
	d.mu.Unlock()

	select {
	case d.onWrite <- struct{}{}:
	default:
	}
	if fn != nil {
		return fn(data)
	}
	return pkg.TransferStatusSuccess, nil
}

func (d *mockDevice) BulkIn(ctx context.Context, _ uint8, _ int) ([]byte, error) {
	select {
	case b := <-d.in:
		return b, nil
	case err := <-d.inErr:
		return nil, err
	case <-d.closed:
		return nil, pkg.ErrDeviceClosed
	case <-ctx.Done():
		return nil, pkg.ErrCancelled
	}
}

func (d *mockDevice) Close() error {
	d.closes.Add(1)
	d.open.Store(false)
	d.once.Do(func() { close(d.closed) })
	return nil
}

// push queues msg as a header chunk and, if present, a body chunk.
func (d *mockDevice) push(msg []byte) {
	d.in <- msg[:protocol.HeaderSize]
	if len(msg) > protocol.HeaderSize {
		d.in <- msg[protocol.HeaderSize:]
	}
}

// pushFrame queues a frame with the given type and body.
func (d *mockDevice) pushFrame(t protocol.MessageType, body []byte) {
	d.push(append(protocol.BuildHeader(t, len(body)), body...))
}

func (d *mockDevice) written() []write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]write(nil), d.writes...)
}

// count returns the number of writes matching fn.
func (d *mockDevice) count(fn func(write) bool) int {
	n := 0
	for _, w := range d.written() {
		if fn(w) {
			n++
		}
	}
	return n
}

func isType(t protocol.MessageType) func(write) bool {
	return func(w write) bool { return w.header.Type == t }
}

func isCommand(c protocol.CommandMapping) func(write) bool {
	want := protocol.Payload(protocol.SendCommand{Value: c})
	return func(w write) bool {
		return w.header.Type == protocol.TypeCommand && string(w.body) == string(want)
	}
}

// =============================================================================
// Event Recorder
// =============================================================================

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) HandleEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev:
	default:
	}
}

// wait returns the next event of kind k, or false after timeout.
func (r *recorder) wait(k EventKind, timeout time.Duration) (Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == k {
				return ev, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

func (r *recorder) kinds(k EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

// withTiming shortens the handshake settle delay and heartbeat period.
func withTiming(settle, heartbeat time.Duration) SessionOption {
	return func(s *Session) {
		s.settleDelay = settle
		s.heartbeatInterval = heartbeat
	}
}

// eventually polls cond until it holds or timeout elapses.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
