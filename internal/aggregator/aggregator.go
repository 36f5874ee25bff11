// Package aggregator buffers telemetry that could not be published, grouped by
// segment, and flushes each segment exactly once when it closes or at shutdown.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/metrics"
	"github.com/skypro1111/audio-feature-streamer/internal/segment"
	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

// Aggregator owns the in-memory segment map
type Aggregator struct {
	sinks    []Sink
	segments map[segment.ID]*Segment
	order    []segment.ID // creation order, flushed oldest first

	// Statistics
	ingested uint64
	flushed  uint64
	failed   uint64

	logger  *slog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// Stats represents aggregator statistics for monitoring
type Stats struct {
	Pending       int      `json:"pending_segments"`
	PendingIDs    []string `json:"pending_ids"`
	Ingested      uint64   `json:"ingested_payloads"`
	Flushed       uint64   `json:"flushed_segments"`
	FlushFailures uint64   `json:"flush_failures"`
	Sinks         []string `json:"sinks"`
}

// New creates an aggregator that writes every flushed segment to all sinks
func New(logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Aggregator {
	return &Aggregator{
		sinks:    sinks,
		segments: make(map[segment.ID]*Segment),
		logger:   logger,
		metrics:  m,
	}
}

// Ingest appends p to its segment. A payload for a segment not held yet first
// flushes every held segment. The payload is kept even when that flush fails;
// the returned error only reports the failed flush.
func (a *Aggregator) Ingest(ctx context.Context, p telemetry.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error

	seg, ok := a.segments[p.SegmentID]
	if !ok {
		err = a.flushLocked(ctx)

		seg = newSegment(p)
		a.segments[p.SegmentID] = seg
		a.order = append(a.order, p.SegmentID)

		a.logger.Debug("Aggregated segment opened", slog.String("segment_id", p.SegmentID.String()))
	}

	seg.Messages = append(seg.Messages, p)
	a.ingested++
	a.metrics.SetSegmentsPending(len(a.segments))

	return err
}

// FlushAll writes and removes every held segment. Calling it on an empty
// aggregator does nothing.
func (a *Aggregator) FlushAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

// Pending returns the number of segments held in memory
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// flushLocked removes every segment after one write attempt per sink, whatever the outcome
func (a *Aggregator) flushLocked(ctx context.Context) error {
	var errs []error

	for _, id := range a.order {
		seg := a.segments[id]
		delete(a.segments, id)

		if err := a.writeSegment(ctx, seg); err != nil {
			errs = append(errs, err)
			a.failed++
			continue
		}

		a.flushed++
		a.metrics.RecordSegmentFlushed()
	}

	a.order = a.order[:0]
	a.metrics.SetSegmentsPending(0)

	return errors.Join(errs...)
}

func (a *Aggregator) writeSegment(ctx context.Context, seg *Segment) error {
	rec := seg.Record()

	var errs []error
	for _, sink := range a.sinks {
		if err := sink.WriteSegment(ctx, rec); err != nil {
			err = faults.New(faults.KindPersistence, "flush "+seg.ID.String()+" to "+sink.Name(), err)
			errs = append(errs, err)

			a.metrics.RecordSinkFailure(sink.Name())
			a.logger.Error("Failed to flush aggregated segment",
				slog.String("kind", faults.KindPersistence.String()),
				slog.String("operation", faults.OpOf(err)),
				slog.String("segment_id", seg.ID.String()),
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(errs) == 0 {
		a.logger.Info("Aggregated segment flushed",
			slog.String("segment_id", seg.ID.String()),
			slog.Int("messages", len(seg.Messages)),
		)
	}

	return errors.Join(errs...)
}

// GetStats returns aggregator statistics
func (a *Aggregator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, len(a.order))
	for i, id := range a.order {
		ids[i] = id.String()
	}

	sinks := make([]string, len(a.sinks))
	for i, s := range a.sinks {
		sinks[i] = s.Name()
	}

	return Stats{
		Pending:       len(a.segments),
		PendingIDs:    ids,
		Ingested:      a.ingested,
		Flushed:       a.flushed,
		FlushFailures: a.failed,
		Sinks:         sinks,
	}
}
