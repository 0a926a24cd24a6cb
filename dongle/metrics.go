package dongle

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
)

// MetricsConfig configures the Prometheus collectors of a [Metrics].
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "carlink").
	Namespace string

	// Subsystem is the metrics subsystem (default: "dongle").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for OUT transfer duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures a [Metrics].
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "carlink",
		Subsystem: "dongle",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Error classes used as the "class" label of frame errors.
const (
	errorClassFraming  = "framing"
	errorClassDecode   = "decode"
	errorClassShort    = "short"
	errorClassTransfer = "transfer"
)

func errorClass(err error) string {
	switch {
	case errors.Is(err, pkg.ErrFraming):
		return errorClassFraming
	case errors.Is(err, pkg.ErrDecode):
		return errorClassDecode
	case errors.Is(err, pkg.ErrShortTransfer):
		return errorClassShort
	default:
		return errorClassTransfer
	}
}

// Metrics records session traffic. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	received     *prometheus.CounterVec
	sent         *prometheus.CounterVec
	frameErrors  *prometheus.CounterVec
	breakerTrips prometheus.Counter
	bytesIn      prometheus.Counter
	bytesOut     prometheus.Counter
	videoFrames  prometheus.Counter
	keyframes    prometheus.Counter
	resolution   *prometheus.GaugeVec
	state        prometheus.Gauge
	sendDuration prometheus.Histogram
}

// NewMetrics creates and registers the session collectors. Registering
// twice on the same registry panics, as with promauto.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		received:     counterVec("messages_received_total", "Decoded inbound messages by type", "type"),
		sent:         counterVec("messages_sent_total", "Outbound messages by type and result", "type", "result"),
		frameErrors:  counterVec("frame_errors_total", "Receive loop errors by class", "class"),
		breakerTrips: counter("circuit_breaker_trips_total", "Sessions force-closed by the error ceiling"),
		bytesIn:      counter("received_bytes_total", "Bytes read from the IN endpoint"),
		bytesOut:     counter("sent_bytes_total", "Bytes written to the OUT endpoint"),
		videoFrames:  counter("video_frames_total", "Video frames received"),
		keyframes:    counter("video_keyframes_total", "Video keyframes received"),
		resolution: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "video_resolution_pixels",
			Help:        "Resolution of the last video frame",
			ConstLabels: config.ConstLabels,
		}, []string{"dimension"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_state",
			Help:        "Current session state (see State)",
			ConstLabels: config.ConstLabels,
		}),
		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "send_duration_seconds",
			Help:        "OUT transfer duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
	}
}

func (m *Metrics) observeReceived(msg protocol.Readable, n int) {
	if m == nil {
		return
	}
	m.bytesIn.Add(float64(n))
	if msg == nil {
		return
	}
	m.received.WithLabelValues(msg.MessageType().String()).Inc()
	if v, ok := msg.(*protocol.VideoData); ok {
		m.videoFrames.Inc()
		if v.Keyframe() {
			m.keyframes.Inc()
		}
		m.resolution.WithLabelValues("width").Set(float64(v.Width))
		m.resolution.WithLabelValues("height").Set(float64(v.Height))
	}
}

func (m *Metrics) observeSent(typ protocol.MessageType, r Result, n int, d time.Duration) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(typ.String(), r.String()).Inc()
	if r == ResultAcked {
		m.bytesOut.Add(float64(n))
	}
	if r != ResultDropped {
		m.sendDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeError(err error) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(errorClass(err)).Inc()
}

func (m *Metrics) observeTrip() {
	if m == nil {
		return
	}
	m.breakerTrips.Inc()
}

func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
