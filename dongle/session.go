package dongle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/carlink/config"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
	"github.com/ardnew/carlink/usb"
)

// Session timing and limits.
const (
	// MaxErrorCount is the number of receive errors that force-closes a
	// session.
	MaxErrorCount = 5

	// SettleDelay separates the configuration burst from the connect
	// command.
	SettleDelay = 1000 * time.Millisecond

	// HeartbeatInterval is the keep-alive period while streaming.
	HeartbeatInterval = 2000 * time.Millisecond

	// ConfigurationValue is the configuration selected on the dongle.
	ConfigurationValue = 1

	// MaxBodyLength bounds the body length a header may declare.
	MaxBodyLength = 16 << 20
)

// State is the lifecycle state of a [Session].
type State int32

// Session states.
const (
	StateUnattached State = iota
	StateInitialising
	StateReady
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnattached:
		return "Unattached"
	case StateInitialising:
		return "Initialising"
	case StateReady:
		return "Ready"
	case StateStreaming:
		return "Streaming"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Result is the outcome of [Session.Send].
type Result int8

// Send results.
const (
	// ResultDropped means the device was not open and nothing was sent.
	// It is not an error.
	ResultDropped Result = iota

	// ResultAcked means the device completed the transfer.
	ResultAcked

	// ResultRejected means the transfer failed or completed with a non-ok
	// status.
	ResultRejected
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultDropped:
		return "dropped"
	case ResultAcked:
		return "acked"
	case ResultRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Result(%d)", int8(r))
	}
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithHandler sets the handler that receives session events.
func WithHandler(h Handler) SessionOption {
	return func(s *Session) {
		s.handler = h
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is one USB session with a dongle: it claims the bulk endpoint
// pair, performs the start handshake, and runs the receive loop and the
// heartbeat until closed.
//
// Send may be called from any goroutine. Events are delivered to the
// handler from the receive goroutine, except the terminal event which is
// delivered from whichever goroutine ends the session.
type Session struct {
	state  atomic.Int32
	errors atomic.Int32

	mu    sync.RWMutex
	dev   usb.Device
	iface uint8
	in    *usb.EndpointDescriptor
	out   *usb.EndpointDescriptor

	// writeMu serializes OUT transfers.
	writeMu sync.Mutex

	handler Handler
	metrics *Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	ending  atomic.Bool
	started atomic.Bool

	settleDelay       time.Duration
	heartbeatInterval time.Duration
	now               func() time.Time
}

// NewSession creates an unattached session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		done:              make(chan struct{}),
		settleDelay:       SettleDelay,
		heartbeatInterval: HeartbeatInterval,
		now:               time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.observeState(StateUnattached)
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ErrorCount returns the receive errors counted since the last Start.
func (s *Session) ErrorCount() int {
	return int(s.errors.Load())
}

// Endpoints returns the claimed bulk IN and OUT endpoints. Both are nil
// unless the session is attached.
func (s *Session) Endpoints() (in, out *usb.EndpointDescriptor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.in, s.out
}

// Done is closed once the session has ended and its goroutines have
// exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.observeState(st)
}

// Initialise attaches the session to an opened device: it selects the
// configuration, locates the bulk endpoint pair of the first interface and
// claims that interface.
//
// Calling Initialise on an attached session does nothing. On failure the
// device is closed, the session ends in [StateFailed], and the returned
// error wraps [pkg.ErrDeviceState].
func (s *Session) Initialise(ctx context.Context, dev usb.Device) error {
	if dev == nil {
		return fmt.Errorf("%w: nil device", pkg.ErrInvalidParameter)
	}
	if !s.state.CompareAndSwap(int32(StateUnattached), int32(StateInitialising)) {
		switch st := s.State(); st {
		case StateReady, StateStreaming:
			pkg.LogDebug(pkg.ComponentSession, "already attached", "state", st)
			return nil
		default:
			return fmt.Errorf("%w: initialise in state %s", pkg.ErrInvalidState, st)
		}
	}
	s.metrics.observeState(StateInitialising)

	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()

	if err := s.attach(ctx, dev); err != nil {
		pkg.LogWarn(pkg.ComponentSession, "initialise failed", "error", err)
		s.shutdown(StateFailed, nil)
		return err
	}
	if !s.state.CompareAndSwap(int32(StateInitialising), int32(StateReady)) {
		return fmt.Errorf("%w: closed during initialise", pkg.ErrDeviceClosed)
	}
	s.metrics.observeState(StateReady)

	in, out := s.Endpoints()
	pkg.LogInfo(pkg.ComponentSession, "attached", "in", in.String(), "out", out.String())
	return nil
}

func (s *Session) attach(ctx context.Context, dev usb.Device) error {
	if !dev.IsOpen() {
		return fmt.Errorf("%w: device is not open", pkg.ErrDeviceState)
	}
	if err := dev.SelectConfiguration(ctx, ConfigurationValue); err != nil {
		return fmt.Errorf("%w: select configuration %d: %w", pkg.ErrDeviceState, ConfigurationValue, err)
	}
	cfg, err := dev.Configuration()
	if err != nil {
		return fmt.Errorf("%w: read configuration: %w", pkg.ErrDeviceState, err)
	}
	if cfg == nil {
		return fmt.Errorf("%w: no configuration descriptor", pkg.ErrDeviceState)
	}
	if len(cfg.Interfaces) == 0 {
		return fmt.Errorf("%w: configuration %d has no interfaces",
			pkg.ErrDeviceState, cfg.Descriptor.ConfigurationValue)
	}

	iface := &cfg.Interfaces[0]
	in, out := usb.BulkEndpoints(iface)
	if in == nil {
		return fmt.Errorf("%w: %w: interface %d has no bulk IN endpoint",
			pkg.ErrDeviceState, pkg.ErrInvalidEndpoint, iface.Number())
	}
	if out == nil {
		return fmt.Errorf("%w: %w: interface %d has no bulk OUT endpoint",
			pkg.ErrDeviceState, pkg.ErrInvalidEndpoint, iface.Number())
	}
	if err := dev.ClaimInterface(iface.Number()); err != nil {
		return fmt.Errorf("%w: claim interface %d: %w", pkg.ErrDeviceState, iface.Number(), err)
	}

	inCopy, outCopy := *in, *out
	s.mu.Lock()
	s.iface = iface.Number()
	s.in = &inCopy
	s.out = &outCopy
	s.mu.Unlock()
	return nil
}

// Send serialises msg and writes it to the OUT endpoint.
//
// Send returns [ResultDropped] when the session holds no open device,
// [ResultRejected] when the transfer fails, and [ResultAcked] otherwise.
// Transfer errors are logged, never returned.
func (s *Session) Send(ctx context.Context, msg protocol.Sendable) Result {
	s.mu.RLock()
	dev, out := s.dev, s.out
	s.mu.RUnlock()

	if dev == nil || out == nil || !dev.IsOpen() {
		s.metrics.observeSent(msg.MessageType(), ResultDropped, 0, 0)
		return ResultDropped
	}

	data := protocol.Marshal(msg)

	s.writeMu.Lock()
	start := time.Now()
	status, err := dev.BulkOut(ctx, out.EndpointAddress, data)
	elapsed := time.Since(start)
	s.writeMu.Unlock()

	result := ResultAcked
	switch {
	case err != nil:
		result = ResultRejected
		pkg.LogWarn(pkg.ComponentSession, "send failed", "type", msg.MessageType(), "error", err)
	case status != pkg.TransferStatusSuccess:
		result = ResultRejected
		pkg.LogWarn(pkg.ComponentSession, "send rejected", "type", msg.MessageType(), "status", status)
	default:
		pkg.LogDebug(pkg.ComponentSession, "sent", "type", msg.MessageType(), "bytes", len(data))
	}
	s.metrics.observeSent(msg.MessageType(), result, len(data), elapsed)
	return result
}

// Start resets the error counter and performs the handshake: the
// configuration burst from cfg, the settle delay, then the connect command.
// It then starts the receive loop and the heartbeat and moves the session
// to [StateStreaming]. Start blocks until the handshake completes.
//
// If the device goes away during the handshake the session is closed and
// the returned error wraps [pkg.ErrDeviceClosed].
func (s *Session) Start(ctx context.Context, cfg config.Device) error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("%w: start in state %s", pkg.ErrInvalidState, st)
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already started", pkg.ErrInvalidState)
	}
	s.errors.Store(0)

	// Cancelled by either the caller or Close.
	hctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.ctx.Done():
			stop()
		case <-hctx.Done():
		}
	}()

	if err := s.handshake(hctx, cfg); err != nil {
		s.shutdown(StateFailed, nil)
		return err
	}

	s.mu.RLock()
	dev, in := s.dev, s.in
	s.mu.RUnlock()
	if dev == nil || in == nil {
		return fmt.Errorf("%w: closed during start", pkg.ErrDeviceClosed)
	}

	// The loops are counted before the transition so a concurrent shutdown
	// always waits for them.
	s.wg.Add(2)
	if !s.state.CompareAndSwap(int32(StateReady), int32(StateStreaming)) {
		s.wg.Add(-2)
		return fmt.Errorf("%w: closed during start", pkg.ErrDeviceClosed)
	}
	s.metrics.observeState(StateStreaming)
	pkg.LogInfo(pkg.ComponentSession, "streaming")
	s.emit(Event{Kind: EventConnected})

	go s.readLoop(dev, in.EndpointAddress)
	go s.heartbeat()
	return nil
}

func (s *Session) handshake(ctx context.Context, cfg config.Device) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, msg := range Handshake(cfg, s.now()) {
		g.Go(func() error {
			switch s.Send(gctx, msg) {
			case ResultDropped:
				return fmt.Errorf("%w: %s dropped during handshake", pkg.ErrDeviceClosed, msg.MessageType())
			case ResultRejected:
				// The dongle rewrites these files on the next start.
				pkg.LogWarn(pkg.ComponentSession, "handshake message rejected", "type", msg.MessageType())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	timer := time.NewTimer(s.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: handshake: %w", pkg.ErrCancelled, ctx.Err())
	case <-timer.C:
	}

	if s.Send(ctx, protocol.SendCommand{Value: protocol.CommandWifiConnect}) == ResultDropped {
		return fmt.Errorf("%w: connect command dropped", pkg.ErrDeviceClosed)
	}
	return nil
}

func (s *Session) heartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Send(s.ctx, protocol.SendHeartBeat{})
		}
	}
}

// readLoop reads one frame at a time until the session is closed, the
// device goes away, or the error ceiling is reached.
func (s *Session) readLoop(dev usb.Device, in uint8) {
	defer s.wg.Done()
	for {
		msg, n, err := s.readFrame(dev, in)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, pkg.ErrNoDevice) || errors.Is(err, pkg.ErrDeviceClosed) || !dev.IsOpen() {
				pkg.LogInfo(pkg.ComponentSession, "device gone", "error", err)
				s.shutdown(StateClosed, &Event{Kind: EventDisconnected})
				return
			}
			if s.countError(err) {
				s.shutdown(StateFailed, &Event{Kind: EventFailure,
					Err: fmt.Errorf("%w: %d receive errors, last: %w", pkg.ErrCircuitOpen, MaxErrorCount, err)})
				return
			}
			continue
		}

		s.metrics.observeReceived(msg, n)
		if msg == nil {
			continue
		}
		pkg.LogDebug(pkg.ComponentSession, "received", "type", msg.MessageType(), "bytes", n)
		s.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// readFrame reads a header and its body. A nil message with a nil error
// means the frame had an unknown type and was discarded.
func (s *Session) readFrame(dev usb.Device, in uint8) (protocol.Readable, int, error) {
	head, err := dev.BulkIn(s.ctx, in, protocol.HeaderSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: header: %w", pkg.ErrTransfer, err)
	}
	h, err := protocol.ParseHeader(head)
	if err != nil {
		return nil, len(head), err
	}
	if h.Length > MaxBodyLength {
		return nil, len(head), fmt.Errorf("%w: %s exceeds %d bytes", pkg.ErrFraming, h, MaxBodyLength)
	}

	var body []byte
	if h.Length > 0 {
		body, err = dev.BulkIn(s.ctx, in, int(h.Length))
		if err != nil {
			return nil, len(head), fmt.Errorf("%w: body of %s: %w", pkg.ErrTransfer, h, err)
		}
		if len(body) < int(h.Length) {
			return nil, len(head) + len(body),
				fmt.Errorf("%w: %s body is %d bytes", pkg.ErrShortTransfer, h, len(body))
		}
	}

	msg, err := protocol.Decode(h, body)
	if err == nil && msg == nil {
		pkg.LogDebug(pkg.ComponentSession, "discarded unknown message", "header", h)
	}
	return msg, len(head) + len(body), err
}

// countError records a receive error and reports whether the ceiling has
// been reached.
func (s *Session) countError(err error) bool {
	s.metrics.observeError(err)
	n := s.errors.Add(1)
	pkg.LogWarn(pkg.ComponentSession, "receive error", "count", n, "error", err)
	return n == MaxErrorCount
}

// Close ends the session. It is safe to call from any state and more than
// once. A streaming session emits [EventDisconnected].
func (s *Session) Close() error {
	s.shutdown(StateClosed, &Event{Kind: EventDisconnected})
	return nil
}

// shutdown moves the session to final exactly once: it stops the loops,
// closes the device, and drops the endpoint references. ev is emitted if
// it is a failure or if the session was streaming. The event is delivered
// after the session has ended, so a handler may call Close.
func (s *Session) shutdown(final State, ev *Event) {
	if !s.ending.CompareAndSwap(false, true) {
		return
	}
	prev := State(s.state.Swap(int32(StateClosing)))
	s.metrics.observeState(StateClosing)
	s.cancel()

	s.mu.Lock()
	dev := s.dev
	s.dev, s.in, s.out = nil, nil, nil
	s.mu.Unlock()

	if dev != nil {
		if err := dev.Close(); err != nil {
			pkg.LogDebug(pkg.ComponentSession, "device close", "error", err)
		}
	}

	s.setState(final)
	if final == StateFailed && ev != nil {
		s.metrics.observeTrip()
	}
	pkg.LogInfo(pkg.ComponentSession, "session ended", "from", prev, "state", final)

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	if ev != nil && (ev.Kind == EventFailure || prev == StateStreaming) {
		s.emit(*ev)
	}
}

func (s *Session) emit(ev Event) {
	if s.handler != nil {
		s.handler.HandleEvent(ev)
	}
}
