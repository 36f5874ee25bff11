package segment

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want ID
	}{
		{
			name: "whole second",
			ts:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			want: "audio_20240501T120000",
		},
		{
			name: "sub-second truncated",
			ts:   time.Date(2024, 5, 1, 12, 0, 7, 999_000_000, time.UTC),
			want: "audio_20240501T120007",
		},
		{
			name: "converted to UTC",
			ts:   time.Date(2024, 5, 1, 14, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			want: "audio_20240501T123000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.ts); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewIsMonotonic(t *testing.T) {
	base := time.Date(2024, 5, 1, 23, 59, 58, 0, time.UTC)
	prev := New(base)

	for i := 1; i < 5; i++ {
		next := New(base.Add(time.Duration(i) * time.Second))
		if next <= prev {
			t.Fatalf("Expected %q to sort after %q", next, prev)
		}
		prev = next
	}
}

func TestFileNameAndTime(t *testing.T) {
	id := New(time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC))

	if got := id.FileName("wav"); got != "audio_20240501T120002.wav" {
		t.Errorf("Unexpected file name %q", got)
	}

	if got := id.FileName(".json"); got != "audio_20240501T120002.json" {
		t.Errorf("Unexpected file name %q", got)
	}

	ts, err := id.Time()
	if err != nil {
		t.Fatalf("Time failed: %v", err)
	}

	if !ts.Equal(time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC)) {
		t.Errorf("Unexpected parsed time %v", ts)
	}
}
