// Package telemetry builds feature payloads and routes them to the remote endpoint
// or, when that is not possible, to local aggregation.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/segment"
)

// DefaultDeviceID is reported when no device id is configured
const DefaultDeviceID = "na"

// FeatureReading is one named statistic computed over a window
type FeatureReading struct {
	Feature   string    `json:"feature"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"-"`
}

// Payload is the unit of publish and fallback
type Payload struct {
	Timestamp time.Time        `json:"timestamp"`
	DeviceID  string           `json:"device_id"`
	Features  []FeatureReading `json:"features"`
	SegmentID segment.ID       `json:"audio_file_id"`
	Meta      map[string]any   `json:"meta"`
}

// NewPayload assembles a payload stamped with ts
func NewPayload(readings []FeatureReading, id segment.ID, ts time.Time, deviceID string, meta map[string]any) Payload {
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	if meta == nil {
		meta = map[string]any{}
	}

	return Payload{
		Timestamp: ts.UTC(),
		DeviceID:  deviceID,
		Features:  readings,
		SegmentID: id,
		Meta:      meta,
	}
}

// Marshal encodes the payload as published on the wire
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
