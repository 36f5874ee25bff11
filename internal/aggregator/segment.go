package aggregator

import (
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/segment"
	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

// Point is one timestamped feature value
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Record is the flushed form of a segment: features re-keyed by name, each a time series
type Record struct {
	DeviceID    string             `json:"device_id"`
	AudioFileID segment.ID         `json:"audio_file_id"`
	Meta        map[string]any     `json:"meta"`
	Data        map[string][]Point `json:"data"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Segment holds the payloads that fell back while one segment was open
type Segment struct {
	ID             segment.ID
	DeviceID       string
	Meta           map[string]any
	FirstTimestamp time.Time
	Messages       []telemetry.Payload
}

func newSegment(p telemetry.Payload) *Segment {
	return &Segment{
		ID:             p.SegmentID,
		DeviceID:       p.DeviceID,
		Meta:           p.Meta,
		FirstTimestamp: p.Timestamp,
	}
}

// Record transposes the time-ordered payloads into per-feature series, keeping arrival order
func (s *Segment) Record() Record {
	data := make(map[string][]Point)
	for _, msg := range s.Messages {
		for _, f := range msg.Features {
			data[f.Feature] = append(data[f.Feature], Point{Timestamp: msg.Timestamp, Value: f.Value})
		}
	}

	return Record{
		DeviceID:    s.DeviceID,
		AudioFileID: s.ID,
		Meta:        s.Meta,
		Data:        data,
		Timestamp:   s.FirstTimestamp,
	}
}
