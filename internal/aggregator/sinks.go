package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skypro1111/audio-feature-streamer/internal/database"
	"github.com/skypro1111/audio-feature-streamer/internal/storage"
)

// Sink receives every flushed segment
type Sink interface {
	Name() string
	WriteSegment(ctx context.Context, rec Record) error
}

// FileSink writes <segment_id>.json next to the audio files
type FileSink struct {
	store storage.Writer
}

// NewFileSink creates a JSON file sink
func NewFileSink(store storage.Writer) *FileSink {
	return &FileSink{store: store}
}

func (s *FileSink) Name() string { return "file" }

// WriteSegment encodes rec with four-space indentation
func (s *FileSink) WriteSegment(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode segment %s: %w", rec.AudioFileID, err)
	}

	return s.store.WriteFile(rec.AudioFileID.FileName("json"), data)
}

// PointInserter stores feature rows
type PointInserter interface {
	InsertFeaturePoints(ctx context.Context, points []database.FeaturePoint) error
}

// ClickHouseSink mirrors every feature point of a segment as a table row
type ClickHouseSink struct {
	db PointInserter
}

// NewClickHouseSink creates a mirror sink
func NewClickHouseSink(db PointInserter) *ClickHouseSink {
	return &ClickHouseSink{db: db}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) WriteSegment(ctx context.Context, rec Record) error {
	meta := "{}"
	if rec.Meta != nil {
		b, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode meta: %w", err)
		}
		meta = string(b)
	}

	var points []database.FeaturePoint
	for feature, series := range rec.Data {
		for _, p := range series {
			points = append(points, database.FeaturePoint{
				Timestamp:   p.Timestamp,
				DeviceID:    rec.DeviceID,
				AudioFileID: rec.AudioFileID.String(),
				Feature:     feature,
				Value:       p.Value,
				Meta:        meta,
			})
		}
	}

	return s.db.InsertFeaturePoints(ctx, points)
}
