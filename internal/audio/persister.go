package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/metrics"
	"github.com/skypro1111/audio-feature-streamer/internal/segment"
	"github.com/skypro1111/audio-feature-streamer/internal/storage"
)

// Persister writes buffer snapshots to durable storage and tracks the active segment
type Persister struct {
	store      storage.Writer
	encoder    Encoder
	channels   int
	sampleRate int
	timeout    time.Duration

	current segment.ID

	// Statistics
	filesWritten uint64
	failures     uint64

	logger  *slog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// PersisterStats represents persister statistics for monitoring
type PersisterStats struct {
	CurrentSegment string `json:"current_segment"`
	Extension      string `json:"extension"`
	FilesWritten   uint64 `json:"files_written"`
	WriteFailures  uint64 `json:"write_failures"`
}

// NewPersister creates a persister. timeout bounds a single encode, zero means no bound.
func NewPersister(store storage.Writer, encoder Encoder, channels, sampleRate int, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Persister {
	return &Persister{
		store:      store,
		encoder:    encoder,
		channels:   channels,
		sampleRate: sampleRate,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

// Begin opens the first segment at ts
func (p *Persister) Begin(ts time.Time) segment.ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = segment.New(ts)
	return p.current
}

// Current returns the active segment
func (p *Persister) Current() segment.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Flush writes samples as <active segment>.<ext>, then opens a new segment minted
// from ts and returns it. Empty input writes nothing and keeps the active segment.
// A failed write is logged and returned but the segment still rolls over.
// The lock covers only the rollover; encoding and writing run outside it.
func (p *Persister) Flush(ctx context.Context, samples []float32, ts time.Time) (segment.ID, error) {
	p.mu.Lock()
	if len(samples) == 0 {
		current := p.current
		p.mu.Unlock()
		return current, nil
	}

	closing := p.current
	next := segment.New(ts)
	p.current = next
	p.mu.Unlock()

	name := closing.FileName(p.encoder.Extension())

	size, err := p.write(ctx, name, samples)

	p.mu.Lock()
	if err != nil {
		p.failures++
	} else {
		p.filesWritten++
	}
	p.mu.Unlock()

	if err != nil {
		p.metrics.RecordAudioWriteFailure()
		p.logger.Error("Failed to persist audio segment",
			slog.String("kind", faults.KindOf(err).String()),
			slog.String("operation", faults.OpOf(err)),
			slog.String("segment_id", closing.String()),
			slog.String("error", err.Error()),
		)
	} else {
		p.metrics.RecordAudioFile(size)
		p.logger.Info("Audio segment persisted",
			slog.String("file", name),
			slog.Int("bytes", size),
		)
	}

	p.logger.Debug("Audio segment rolled over",
		slog.String("closed", closing.String()),
		slog.String("opened", next.String()),
		slog.Int("frames", len(samples)/p.channels),
	)

	return next, err
}

func (p *Persister) write(ctx context.Context, name string, samples []float32) (int, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data, err := p.encoder.Encode(ctx, samples, p.channels, p.sampleRate)
	if err != nil {
		return 0, faults.New(faults.KindPersistence, "encode "+name, err)
	}

	if err := p.store.WriteFile(name, data); err != nil {
		return 0, faults.New(faults.KindPersistence, "write "+name, err)
	}

	return len(data), nil
}

// GetStats returns persister statistics
func (p *Persister) GetStats() PersisterStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PersisterStats{
		CurrentSegment: p.current.String(),
		Extension:      p.encoder.Extension(),
		FilesWritten:   p.filesWritten,
		WriteFailures:  p.failures,
	}
}
