package audio

import (
	"fmt"
	"sync"
	"time"
)

// RollingBuffer holds the most recent fixed duration of interleaved multi-channel
// float samples. Appends past capacity discard the oldest frames first.
type RollingBuffer struct {
	channels   int
	sampleRate int
	capacity   int // frames

	samples []float32 // interleaved, len = frames * channels

	// Statistics
	totalFrames   uint64
	droppedFrames uint64
	lastAppend    time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Channels       int     `json:"channels"`
	SampleRate     int     `json:"sample_rate"`
	Frames         int     `json:"frames"`
	CapacityFrames int     `json:"capacity_frames"`
	FillRatio      float64 `json:"fill_ratio"`
	TotalFrames    uint64  `json:"total_frames"`
	DroppedFrames  uint64  `json:"dropped_frames"`
}

// NewRollingBuffer creates a buffer bounded to sampleRate × window frames
func NewRollingBuffer(channels, sampleRate int, window time.Duration) (*RollingBuffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channels must be at least 1, got %d", channels)
	}

	if sampleRate < 1 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	capacity := FramesFor(sampleRate, window)
	if capacity < 1 {
		return nil, fmt.Errorf("buffer window %v holds no frames at %d Hz", window, sampleRate)
	}

	return &RollingBuffer{
		channels:   channels,
		sampleRate: sampleRate,
		capacity:   capacity,
		samples:    make([]float32, 0, capacity*channels),
	}, nil
}

// FramesFor converts a duration to a frame count at sampleRate
func FramesFor(sampleRate int, d time.Duration) int {
	return int(float64(sampleRate) * d.Seconds())
}

// Append adds interleaved samples to the tail and trims the head back to capacity
func (b *RollingBuffer) Append(samples []float32) error {
	if len(samples)%b.channels != 0 {
		return fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), b.channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	frames := len(samples) / b.channels
	b.totalFrames += uint64(frames)
	b.lastAppend = time.Now()

	limit := b.capacity * b.channels

	// A batch larger than the window only contributes its tail
	if len(samples) >= limit {
		b.droppedFrames += uint64(len(b.samples)/b.channels + frames - b.capacity)
		b.samples = append(b.samples[:0], samples[len(samples)-limit:]...)
		return nil
	}

	if excess := len(b.samples) + len(samples) - limit; excess > 0 {
		copy(b.samples, b.samples[excess:])
		b.samples = b.samples[:len(b.samples)-excess]
		b.droppedFrames += uint64(excess / b.channels)
	}

	b.samples = append(b.samples, samples...)
	return nil
}

// Window returns a copy of the most recent d of audio, or everything if shorter
func (b *RollingBuffer) Window(d time.Duration) []float32 {
	return b.LastFrames(FramesFor(b.sampleRate, d))
}

// LastFrames returns a copy of the most recent n frames, or everything if shorter
func (b *RollingBuffer) LastFrames(n int) []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 {
		n = 0
	}

	count := n * b.channels
	if count > len(b.samples) {
		count = len(b.samples)
	}

	out := make([]float32, count)
	copy(out, b.samples[len(b.samples)-count:])
	return out
}

// Snapshot returns a copy of the whole buffer
func (b *RollingBuffer) Snapshot() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Clear drops all buffered audio
func (b *RollingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
}

// Len returns the number of buffered frames
func (b *RollingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples) / b.channels
}

// Capacity returns the frame bound
func (b *RollingBuffer) Capacity() int {
	return b.capacity
}

// Channels returns the channel count fixed at construction
func (b *RollingBuffer) Channels() int {
	return b.channels
}

// SampleRate returns the sample rate in Hz
func (b *RollingBuffer) SampleRate() int {
	return b.sampleRate
}

// Duration returns how much audio is buffered
func (b *RollingBuffer) Duration() time.Duration {
	return time.Duration(float64(b.Len()) / float64(b.sampleRate) * float64(time.Second))
}

// GetLastUpdate returns the time of the last append
func (b *RollingBuffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastAppend
}

// GetStats returns current buffer statistics
func (b *RollingBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	frames := len(b.samples) / b.channels
	return BufferStats{
		Channels:       b.channels,
		SampleRate:     b.sampleRate,
		Frames:         frames,
		CapacityFrames: b.capacity,
		FillRatio:      float64(frames) / float64(b.capacity),
		TotalFrames:    b.totalFrames,
		DroppedFrames:  b.droppedFrames,
	}
}
