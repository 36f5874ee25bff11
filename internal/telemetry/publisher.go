package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/metrics"
	"github.com/skypro1111/audio-feature-streamer/internal/segment"
)

// DefaultTopic is used when no topic is configured
const DefaultTopic = "data"

// DefaultPublishTimeout bounds one remote publish attempt
const DefaultPublishTimeout = 5 * time.Second

var (
	// ErrNoEndpoint means no remote endpoint is configured
	ErrNoEndpoint = errors.New("no remote endpoint configured")
	// ErrNotConnected means the endpoint is configured but the connection is down
	ErrNotConnected = errors.New("remote endpoint not connected")
)

// Transport delivers an encoded payload to the remote endpoint
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// Fallback stores payloads that could not be published
type Fallback interface {
	Ingest(ctx context.Context, p Payload) error
}

// Outcome tells where a payload ended up
type Outcome int

const (
	Published Outcome = iota
	FallbackStored
)

func (o Outcome) String() string {
	if o == Published {
		return "published"
	}
	return "fallback_stored"
}

// Result of one publish call. Reason explains a fallback; StoreErr is set when
// the fallback itself failed to record the payload.
type Result struct {
	Outcome  Outcome
	Reason   error
	StoreErr error
}

// Config holds publisher configuration
type Config struct {
	Topic    string
	Timeout  time.Duration
	DeviceID string
	Meta     map[string]any
}

// Publisher sends feature payloads to the transport and falls back to local storage
type Publisher struct {
	config    Config
	transport Transport
	fallback  Fallback

	// Statistics
	published uint64
	fallbacks uint64
	reasons   map[string]uint64
	lastError string
	mu        sync.Mutex

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Stats represents publisher statistics for monitoring
type Stats struct {
	Topic           string            `json:"topic"`
	EndpointEnabled bool              `json:"endpoint_enabled"`
	Connected       bool              `json:"connected"`
	Published       uint64            `json:"published"`
	FallbackStored  uint64            `json:"fallback_stored"`
	FallbackReasons map[string]uint64 `json:"fallback_reasons"`
	LastError       string            `json:"last_error,omitempty"`
}

// NewPublisher creates a publisher. A nil transport runs in fallback-only mode.
func NewPublisher(config Config, transport Transport, fallback Fallback, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultPublishTimeout
	}
	if config.DeviceID == "" {
		config.DeviceID = DefaultDeviceID
	}

	return &Publisher{
		config:    config,
		transport: transport,
		fallback:  fallback,
		reasons:   make(map[string]uint64),
		logger:    logger,
		metrics:   m,
	}
}

// Publish builds a payload for readings under segment id and delivers it.
// It never returns an error: every failure becomes a FallbackStored result.
func (p *Publisher) Publish(ctx context.Context, readings []FeatureReading, id segment.ID, ts time.Time) Result {
	payload := NewPayload(readings, id, ts, p.config.DeviceID, p.config.Meta)

	reason := p.send(ctx, payload)
	if reason == nil {
		p.mu.Lock()
		p.published++
		p.mu.Unlock()
		return Result{Outcome: Published}
	}

	label := reasonLabel(reason)
	p.metrics.RecordFallback(label)

	p.mu.Lock()
	p.fallbacks++
	p.reasons[label]++
	if label != "no_endpoint" {
		p.lastError = reason.Error()
	}
	p.mu.Unlock()

	if faults.Is(reason, faults.KindTransport) {
		p.logger.Warn("Publish failed, storing locally",
			slog.String("kind", faults.KindTransport.String()),
			slog.String("operation", faults.OpOf(reason)),
			slog.String("segment_id", id.String()),
			slog.String("error", reason.Error()),
		)
	}

	result := Result{Outcome: FallbackStored, Reason: reason}

	if err := p.fallback.Ingest(ctx, payload); err != nil {
		result.StoreErr = err
		p.logger.Error("Failed to store payload locally",
			slog.String("kind", faults.KindOf(err).String()),
			slog.String("segment_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	return result
}

func (p *Publisher) send(ctx context.Context, payload Payload) error {
	if p.transport == nil {
		return ErrNoEndpoint
	}

	if !p.transport.IsConnected() {
		return faults.New(faults.KindTransport, "publish "+p.config.Topic, ErrNotConnected)
	}

	data, err := payload.Marshal()
	if err != nil {
		return faults.New(faults.KindTransport, "encode payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	err = p.transport.Publish(ctx, p.config.Topic, data)
	p.metrics.RecordPublish(err == nil, time.Since(start).Seconds())

	if err != nil {
		return faults.New(faults.KindTransport, "publish "+p.config.Topic, err)
	}

	p.logger.Debug("Payload published",
		slog.String("topic", p.config.Topic),
		slog.String("segment_id", payload.SegmentID.String()),
		slog.Int("bytes", len(data)),
	)

	return nil
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrNoEndpoint):
		return "no_endpoint"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "publish_failed"
	}
}

// GetStats returns publisher statistics
func (p *Publisher) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	reasons := make(map[string]uint64, len(p.reasons))
	for k, v := range p.reasons {
		reasons[k] = v
	}

	return Stats{
		Topic:           p.config.Topic,
		EndpointEnabled: p.transport != nil,
		Connected:       p.transport != nil && p.transport.IsConnected(),
		Published:       p.published,
		FallbackStored:  p.fallbacks,
		FallbackReasons: reasons,
		LastError:       p.lastError,
	}
}
