package audio

import (
	"math/rand"
	"testing"
	"time"
)

func TestNewRollingBuffer(t *testing.T) {
	buffer, err := NewRollingBuffer(2, 16000, 2*time.Second)
	if err != nil {
		t.Fatalf("NewRollingBuffer failed: %v", err)
	}

	if buffer.Capacity() != 32000 {
		t.Errorf("Expected capacity 32000 frames, got %d", buffer.Capacity())
	}

	if buffer.Channels() != 2 {
		t.Errorf("Expected 2 channels, got %d", buffer.Channels())
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected initial size 0, got %d", buffer.Len())
	}
}

func TestNewRollingBufferInvalid(t *testing.T) {
	tests := []struct {
		name       string
		channels   int
		sampleRate int
		window     time.Duration
	}{
		{"zero channels", 0, 16000, time.Second},
		{"zero sample rate", 1, 0, time.Second},
		{"empty window", 1, 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRollingBuffer(tt.channels, tt.sampleRate, tt.window); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestAppendRejectsPartialFrames(t *testing.T) {
	buffer, _ := NewRollingBuffer(2, 100, time.Second)

	if err := buffer.Append([]float32{0.1, 0.2, 0.3}); err == nil {
		t.Error("Expected error for odd sample count on stereo buffer")
	}

	if buffer.Len() != 0 {
		t.Errorf("Rejected append must not change the buffer, got %d frames", buffer.Len())
	}
}

func TestAppendTrimsOldest(t *testing.T) {
	// 10 frames of capacity
	buffer, _ := NewRollingBuffer(1, 10, time.Second)

	for i := 0; i < 7; i++ {
		buffer.Append([]float32{float32(i)})
	}

	if buffer.Len() != 7 {
		t.Fatalf("Expected 7 frames, got %d", buffer.Len())
	}

	buffer.Append([]float32{7, 8, 9, 10, 11})

	got := buffer.Snapshot()
	want := []float32{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if stats := buffer.GetStats(); stats.DroppedFrames != 2 || stats.TotalFrames != 12 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestAppendOversizedBatch(t *testing.T) {
	buffer, _ := NewRollingBuffer(2, 4, time.Second)
	buffer.Append([]float32{-1, -1})

	batch := make([]float32, 0, 12)
	for i := 0; i < 6; i++ {
		batch = append(batch, float32(i), float32(-i))
	}
	buffer.Append(batch)

	if buffer.Len() != 4 {
		t.Fatalf("Expected 4 frames, got %d", buffer.Len())
	}

	got := buffer.Snapshot()
	if got[0] != 2 || got[1] != -2 || got[7] != -5 {
		t.Errorf("Expected tail of batch, got %v", got)
	}

	if stats := buffer.GetStats(); stats.DroppedFrames != 3 {
		t.Errorf("Expected 3 dropped frames, got %d", stats.DroppedFrames)
	}
}

// The buffer must always equal the suffix of everything appended, bounded by capacity
func TestAppendSuffixProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		channels := 1 + rng.Intn(3)
		sampleRate := 5 + rng.Intn(20)
		buffer, err := NewRollingBuffer(channels, sampleRate, time.Second)
		if err != nil {
			t.Fatalf("NewRollingBuffer failed: %v", err)
		}

		var all []float32
		next := float32(0)
		for step := 0; step < 40; step++ {
			frames := rng.Intn(2 * sampleRate)
			batch := make([]float32, frames*channels)
			for i := range batch {
				batch[i] = next
				next++
			}
			all = append(all, batch...)

			if err := buffer.Append(batch); err != nil {
				t.Fatalf("Append failed: %v", err)
			}

			if buffer.Len() > buffer.Capacity() {
				t.Fatalf("Length %d exceeds capacity %d", buffer.Len(), buffer.Capacity())
			}

			limit := buffer.Capacity() * channels
			want := all
			if len(want) > limit {
				want = want[len(want)-limit:]
			}

			got := buffer.Snapshot()
			if len(got) != len(want) {
				t.Fatalf("Trial %d step %d: expected %d samples, got %d", trial, step, len(want), len(got))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("Trial %d step %d: sample %d expected %v, got %v", trial, step, i, want[i], got[i])
				}
			}
		}
	}
}

func TestWindow(t *testing.T) {
	buffer, _ := NewRollingBuffer(2, 10, 2*time.Second)

	samples := make([]float32, 0, 30)
	for i := 0; i < 15; i++ {
		samples = append(samples, float32(i), float32(100+i))
	}
	buffer.Append(samples)

	window := buffer.Window(500 * time.Millisecond) // 5 frames
	if len(window) != 10 {
		t.Fatalf("Expected 10 samples, got %d", len(window))
	}
	if window[0] != 10 || window[1] != 110 {
		t.Errorf("Expected window to start at frame 10, got %v", window[:2])
	}

	// Longer than what is buffered returns everything
	all := buffer.Window(2 * time.Second)
	if len(all) != 30 {
		t.Errorf("Expected whole buffer (30 samples), got %d", len(all))
	}

	// Returned slices are copies
	window[0] = -1
	if buffer.Snapshot()[20] == -1 {
		t.Error("Window must return a copy")
	}
}

func TestClearAndDuration(t *testing.T) {
	buffer, _ := NewRollingBuffer(1, 1000, time.Second)
	buffer.Append(make([]float32, 250))

	if d := buffer.Duration(); d != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", d)
	}

	buffer.Clear()
	if buffer.Len() != 0 {
		t.Errorf("Expected empty buffer after Clear, got %d", buffer.Len())
	}
}
