package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/audio"
	"github.com/skypro1111/audio-feature-streamer/internal/capture"
	"github.com/skypro1111/audio-feature-streamer/internal/clock"
	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/features"
	"github.com/skypro1111/audio-feature-streamer/internal/metrics"
	"github.com/skypro1111/audio-feature-streamer/internal/segment"
	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

// DefaultQueueSize is the worker queue capacity when none is configured
const DefaultQueueSize = 64

var (
	ErrNotStarted = errors.New("streamer not started")
	ErrClosed     = errors.New("streamer closed")
)

// Publisher delivers feature readings for a segment
type Publisher interface {
	Publish(ctx context.Context, readings []telemetry.FeatureReading, id segment.ID, ts time.Time) telemetry.Result
}

// Flusher writes out everything held for later persistence
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// Config holds streamer configuration
type Config struct {
	SampleRate  int
	Channels    int
	AudioTime   time.Duration // buffer length and flush cadence
	FeatureTime time.Duration // feature window and cadence
	QueueSize   int
}

// Validate checks the cadence and format settings
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	// segment ids have one second resolution
	if c.AudioTime < time.Second {
		return fmt.Errorf("audio time must be at least 1s, got %v", c.AudioTime)
	}
	if c.FeatureTime <= 0 {
		return fmt.Errorf("feature time must be positive, got %v", c.FeatureTime)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size cannot be negative, got %d", c.QueueSize)
	}
	return nil
}

// Deps are the collaborators the worker drives
type Deps struct {
	Clock      clock.Clock
	Extractor  *features.Extractor
	Persister  *audio.Persister
	Publisher  Publisher
	Aggregator Flusher
}

type eventKind int

const (
	featureEvent eventKind = iota
	flushEvent
)

func (k eventKind) String() string {
	if k == featureEvent {
		return "feature"
	}
	return "flush"
}

// event carries a private copy of the samples it needs
type event struct {
	kind    eventKind
	at      time.Time
	samples []float32
}

// Streamer owns the rolling buffer on the ingest path and hands cadence events
// to a single worker that extracts, publishes and writes files
type Streamer struct {
	config Config
	deps   Deps
	buffer *audio.RollingBuffer
	events chan event

	// Ingest state, guarded by mu
	startTime   time.Time
	lastFeature time.Time
	lastFlush   time.Time
	started     bool
	closed      bool
	mu          sync.Mutex

	// Statistics
	batches       atomic.Uint64
	frames        atomic.Uint64
	featureEvents atomic.Uint64
	flushEvents   atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	fallbacks     atomic.Uint64

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Stats represents streamer statistics for monitoring
type Stats struct {
	StartTime      time.Time         `json:"start_time"`
	Running        bool              `json:"running"`
	CurrentSegment string            `json:"current_segment"`
	Batches        uint64            `json:"batches"`
	Frames         uint64            `json:"frames"`
	FeatureEvents  uint64            `json:"feature_events"`
	FlushEvents    uint64            `json:"flush_events"`
	DroppedEvents  uint64            `json:"dropped_events"`
	Published      uint64            `json:"published"`
	FallbackStored uint64            `json:"fallback_stored"`
	QueueDepth     int               `json:"queue_depth"`
	QueueCapacity  int               `json:"queue_capacity"`
	LastFeature    time.Time         `json:"last_feature"`
	LastFlush      time.Time         `json:"last_flush"`
	Buffer         audio.BufferStats `json:"buffer"`
}

// New creates a streamer and its rolling buffer
func New(config Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) (*Streamer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	if config.QueueSize == 0 {
		config.QueueSize = DefaultQueueSize
	}
	if deps.Clock == nil || deps.Extractor == nil || deps.Persister == nil || deps.Publisher == nil || deps.Aggregator == nil {
		return nil, fmt.Errorf("streamer requires clock, extractor, persister, publisher and aggregator")
	}

	buffer, err := audio.NewRollingBuffer(config.Channels, config.SampleRate, config.AudioTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create rolling buffer: %w", err)
	}

	return &Streamer{
		config:  config,
		deps:    deps,
		buffer:  buffer,
		events:  make(chan event, config.QueueSize),
		logger:  logger,
		metrics: m,
	}, nil
}

// Start records the stream start time, opens the first segment and launches the
// worker. The worker keeps draining after ctx ends; Close stops it.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return fmt.Errorf("streamer already started")
	}

	now := s.deps.Clock.Now()
	s.startTime = now
	s.lastFeature = now
	s.lastFlush = now
	s.started = true

	id := s.deps.Persister.Begin(now)

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx))

	s.logger.Info("Stream started",
		slog.String("segment_id", id.String()),
		slog.Time("start_time", now),
		slog.Int("sample_rate", s.config.SampleRate),
		slog.Int("channels", s.config.Channels),
		slog.Duration("audio_time", s.config.AudioTime),
		slog.Duration("feature_time", s.config.FeatureTime),
	)

	return nil
}

// HandleBatch is the capture callback. It appends the batch, evaluates both
// cadences against the stream clock and enqueues fired events without blocking.
// At most one event per cadence fires per batch; the feature check runs first.
func (s *Streamer) HandleBatch(batch capture.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.started {
		return ErrNotStarted
	}

	t := s.deps.Clock.Now()

	if err := s.buffer.Append(batch.Samples); err != nil {
		s.metrics.RecordCaptureError()
		return faults.New(faults.KindCapture, "append batch", err)
	}

	frames := len(batch.Samples) / s.config.Channels
	s.batches.Add(1)
	s.frames.Add(uint64(frames))
	s.metrics.RecordBatch(frames, s.buffer.Len())

	if t.Sub(s.lastFeature) >= s.config.FeatureTime {
		s.enqueue(event{kind: featureEvent, at: t, samples: s.buffer.Window(s.config.FeatureTime)})
		s.lastFeature = t
	}

	if t.Sub(s.lastFlush) >= s.config.AudioTime {
		s.enqueue(event{kind: flushEvent, at: t, samples: s.buffer.Snapshot()})
		s.lastFlush = t
	}

	return nil
}

// enqueue never blocks; a full queue drops the event
func (s *Streamer) enqueue(ev event) {
	select {
	case s.events <- ev:
		s.metrics.RecordCadence(ev.kind.String(), true)
	default:
		s.dropped.Add(1)
		s.metrics.RecordCadence(ev.kind.String(), false)
		s.logger.Warn("Worker queue full, dropping event",
			slog.String("event", ev.kind.String()),
			slog.Time("fired_at", ev.at),
			slog.Int("queue_capacity", cap(s.events)),
		)
	}
	s.metrics.SetQueueDepth(len(s.events))
}

func (s *Streamer) run(ctx context.Context) {
	defer s.wg.Done()

	for ev := range s.events {
		s.metrics.SetQueueDepth(len(s.events))

		switch ev.kind {
		case featureEvent:
			s.featureEvents.Add(1)
			s.processFeature(ctx, ev)
		case flushEvent:
			s.flushEvents.Add(1)
			s.processFlush(ctx, ev)
		}
	}

	s.logger.Debug("Stream worker stopped")
}

func (s *Streamer) processFeature(ctx context.Context, ev event) {
	start := time.Now()
	readings := s.deps.Extractor.Extract(ev.samples, ev.at)
	s.metrics.RecordExtraction(time.Since(start).Seconds())

	for _, r := range readings {
		s.metrics.RecordFeature(r.Feature, r.Value)
	}

	id := s.deps.Persister.Current()
	result := s.deps.Publisher.Publish(ctx, readings, id, ev.at)

	switch result.Outcome {
	case telemetry.Published:
		s.published.Add(1)
	case telemetry.FallbackStored:
		s.fallbacks.Add(1)
	}

	s.logger.Debug("Features processed",
		slog.String("segment_id", id.String()),
		slog.String("outcome", result.Outcome.String()),
		slog.Int("readings", len(readings)),
	)
}

func (s *Streamer) processFlush(ctx context.Context, ev event) {
	// Failures are logged and counted by the persister; the segment rolls regardless
	next, _ := s.deps.Persister.Flush(ctx, ev.samples, ev.at)

	s.logger.Debug("Audio flush processed",
		slog.String("next_segment", next.String()),
		slog.Time("flushed_at", ev.at),
	)
}

// Close is the single cleanup path for interruption and capture faults. It stops
// ingestion, drains the worker, writes the buffered audio, clears the buffer and
// flushes every aggregated segment. Later calls return the first result.
func (s *Streamer) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

func (s *Streamer) shutdown() error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	close(s.events)
	s.wg.Wait()

	ctx := context.Background()
	var errs []error

	s.mu.Lock()
	samples := s.buffer.Snapshot()
	s.buffer.Clear()
	s.mu.Unlock()

	if len(samples) > 0 {
		if _, err := s.deps.Persister.Flush(ctx, samples, s.deps.Clock.Now()); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.deps.Aggregator.FlushAll(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("Stream closed",
		slog.Uint64("batches", s.batches.Load()),
		slog.Uint64("feature_events", s.featureEvents.Load()),
		slog.Uint64("flush_events", s.flushEvents.Load()),
		slog.Uint64("dropped_events", s.dropped.Load()),
	)

	return errors.Join(errs...)
}

// Stats returns streamer statistics
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		StartTime:   s.startTime,
		Running:     s.started && !s.closed,
		LastFeature: s.lastFeature,
		LastFlush:   s.lastFlush,
	}
	s.mu.Unlock()

	stats.CurrentSegment = s.deps.Persister.Current().String()
	stats.Batches = s.batches.Load()
	stats.Frames = s.frames.Load()
	stats.FeatureEvents = s.featureEvents.Load()
	stats.FlushEvents = s.flushEvents.Load()
	stats.DroppedEvents = s.dropped.Load()
	stats.Published = s.published.Load()
	stats.FallbackStored = s.fallbacks.Load()
	stats.QueueDepth = len(s.events)
	stats.QueueCapacity = cap(s.events)
	stats.Buffer = s.buffer.GetStats()

	return stats
}
