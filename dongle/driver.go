package dongle

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ardnew/carlink/config"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
	"github.com/ardnew/carlink/usb"
)

// TracerName is the default OpenTelemetry tracer name.
const TracerName = "github.com/ardnew/carlink/dongle"

// DriverOption configures a [Driver].
type DriverOption func(*Driver)

// WithDriverMetrics sets the metrics recorder shared by every session of
// the driver.
func WithDriverMetrics(m *Metrics) DriverOption {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithTracer sets the tracer used for connect spans. The default is the
// global tracer provider's [TracerName] tracer.
func WithTracer(t trace.Tracer) DriverOption {
	return func(d *Driver) {
		d.tracer = t
	}
}

// Driver sequences sessions with a dongle and fans their events out to
// subscribers. It also requests keyframes periodically while a phone whose
// type has a frame interval configured is plugged.
type Driver struct {
	cfg     config.Device
	metrics *Metrics
	tracer  trace.Tracer

	mu       sync.RWMutex
	session  *Session
	handlers map[int]Handler
	nextID   int

	frameMu   sync.Mutex
	frameStop context.CancelFunc

	sessionOpts []SessionOption
}

// NewDriver creates a driver that starts sessions with cfg. Later changes
// to cfg.PhoneConfig by the caller do not reach the driver.
func NewDriver(cfg config.Device, opts ...DriverOption) *Driver {
	cfg.PhoneConfig = maps.Clone(cfg.PhoneConfig)
	d := &Driver{
		cfg:      cfg,
		handlers: make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(TracerName)
	}
	return d
}

// Config returns the configuration sessions are started with.
func (d *Driver) Config() config.Device {
	cfg := d.cfg
	cfg.PhoneConfig = maps.Clone(cfg.PhoneConfig)
	return cfg
}

// Subscribe registers h for events of every session. The returned function
// removes it.
func (d *Driver) Subscribe(h Handler) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = h
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			d.mu.Unlock()
		})
	}
}

// Session returns the current session, or nil before the first Connect.
func (d *Driver) Session() *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// Connect starts a session on an opened device: it initialises the
// session, performs the handshake, and returns once the session is
// streaming. A failed connect emits [EventFailure].
//
// Connect fails with [pkg.ErrInvalidState] while a previous session is
// still live.
func (d *Driver) Connect(ctx context.Context, dev usb.Device) (err error) {
	ctx, span := d.tracer.Start(ctx, "dongle.Connect", trace.WithAttributes(
		attribute.Int("dongle.width", d.cfg.Width),
		attribute.Int("dongle.height", d.cfg.Height),
		attribute.Int("dongle.fps", d.cfg.FPS),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	opts := append([]SessionOption{
		WithHandler(HandlerFunc(d.dispatch)),
		WithMetrics(d.metrics),
	}, d.sessionOpts...)
	sess := NewSession(opts...)

	d.mu.Lock()
	if d.session != nil && !d.session.State().Terminal() {
		d.mu.Unlock()
		return fmt.Errorf("%w: session is %s", pkg.ErrInvalidState, d.session.State())
	}
	d.session = sess
	d.mu.Unlock()

	if err := d.step(ctx, "dongle.Initialise", func(ctx context.Context) error {
		return sess.Initialise(ctx, dev)
	}); err != nil {
		d.broadcast(Event{Kind: EventFailure, Err: err})
		return err
	}
	if in, out := sess.Endpoints(); in != nil && out != nil {
		span.SetAttributes(
			attribute.Int("usb.endpoint.in", int(in.EndpointAddress)),
			attribute.Int("usb.endpoint.out", int(out.EndpointAddress)),
		)
	}

	if err := d.step(ctx, "dongle.Start", func(ctx context.Context) error {
		return sess.Start(ctx, d.cfg)
	}); err != nil {
		d.broadcast(Event{Kind: EventFailure, Err: err})
		return err
	}
	return nil
}

func (d *Driver) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Send writes msg through the current session. It returns [ResultDropped]
// when there is no live session.
func (d *Driver) Send(ctx context.Context, msg protocol.Sendable) Result {
	sess := d.Session()
	if sess == nil {
		return ResultDropped
	}
	return sess.Send(ctx, msg)
}

// Close stops keyframe requests and closes the current session.
func (d *Driver) Close() error {
	d.stopFrames()
	if sess := d.Session(); sess != nil {
		return sess.Close()
	}
	return nil
}

func (d *Driver) dispatch(ev Event) {
	switch ev.Kind {
	case EventMessage:
		switch m := ev.Message.(type) {
		case *protocol.Plugged:
			pkg.LogInfo(pkg.ComponentDriver, "phone plugged", "phone", m.Phone, "wifi", m.HasWifi)
			d.startFrames(m.Phone)
		case *protocol.Unplugged:
			pkg.LogInfo(pkg.ComponentDriver, "phone unplugged")
			d.stopFrames()
		}
	case EventDisconnected, EventFailure:
		d.stopFrames()
	}
	d.broadcast(ev)
}

func (d *Driver) broadcast(ev Event) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h.HandleEvent(ev)
	}
}

// startFrames replaces any running keyframe ticker with one for phone.
func (d *Driver) startFrames(phone protocol.PhoneType) {
	d.stopFrames()
	interval, ok := d.cfg.FrameInterval(phone)
	if !ok {
		return
	}
	sess := d.Session()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithCancel(sess.ctx)
	d.frameMu.Lock()
	d.frameStop = cancel
	d.frameMu.Unlock()

	pkg.LogDebug(pkg.ComponentDriver, "requesting frames", "phone", phone, "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sess.Send(ctx, protocol.SendCommand{Value: protocol.CommandFrame})
			}
		}
	}()
}

func (d *Driver) stopFrames() {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if d.frameStop != nil {
		d.frameStop()
		d.frameStop = nil
	}
}
