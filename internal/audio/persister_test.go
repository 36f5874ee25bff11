package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/segment"
)

type memStore struct {
	files map[string][]byte
	err   error
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) WriteFile(name string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.files[name] = data
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPersisterFlush(t *testing.T) {
	store := newMemStore()
	p := NewPersister(store, WAVEncoder{}, 1, 16000, 0, testLogger(), nil)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := p.Begin(t0)
	if first != "audio_20240501T120000" {
		t.Fatalf("Unexpected first segment %s", first)
	}

	next, err := p.Flush(context.Background(), make([]float32, 1600), t0.Add(2*time.Second+300*time.Millisecond))
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if next != "audio_20240501T120002" {
		t.Errorf("Expected next segment audio_20240501T120002, got %s", next)
	}

	data, ok := store.files["audio_20240501T120000.wav"]
	if !ok {
		t.Fatalf("Expected file under the closing segment, got %v", keys(store.files))
	}

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("Persisted file is not valid WAV: %v", err)
	}

	if info.NumFrames != 1600 {
		t.Errorf("Expected 1600 frames, got %d", info.NumFrames)
	}

	if p.Current() != next {
		t.Errorf("Current should be %s, got %s", next, p.Current())
	}
}

func TestPersisterEmptyFlushIsNoop(t *testing.T) {
	store := newMemStore()
	p := NewPersister(store, WAVEncoder{}, 2, 8000, 0, testLogger(), nil)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := p.Begin(t0)

	got, err := p.Flush(context.Background(), nil, t0.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got != first {
		t.Errorf("Empty flush changed segment from %s to %s", first, got)
	}

	if len(store.files) != 0 {
		t.Errorf("Empty flush wrote files: %v", keys(store.files))
	}
}

func TestPersisterWriteFailureStillRolls(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk full")
	p := NewPersister(store, WAVEncoder{}, 1, 8000, 0, testLogger(), nil)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Begin(t0)

	next, err := p.Flush(context.Background(), make([]float32, 80), t0.Add(3*time.Second))
	if err == nil {
		t.Fatal("Expected write error")
	}

	if !faults.Is(err, faults.KindPersistence) {
		t.Errorf("Expected persistence fault, got %v", err)
	}

	if next != segment.New(t0.Add(3*time.Second)) {
		t.Errorf("Segment did not roll over, got %s", next)
	}

	stats := p.GetStats()
	if stats.WriteFailures != 1 || stats.FilesWritten != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

// blockingEncoder holds Encode until release is closed
type blockingEncoder struct {
	started chan struct{}
	release chan struct{}
}

func (e *blockingEncoder) Encode(_ context.Context, samples []float32, channels, sampleRate int) ([]byte, error) {
	close(e.started)
	<-e.release
	return EncodeWAV(samples, channels, sampleRate)
}

func (e *blockingEncoder) Extension() string { return ExtWAV }

func TestPersisterStatsDuringEncode(t *testing.T) {
	store := newMemStore()
	enc := &blockingEncoder{started: make(chan struct{}), release: make(chan struct{})}
	p := NewPersister(store, enc, 1, 8000, 0, testLogger(), nil)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Begin(t0)

	done := make(chan error, 1)
	go func() {
		_, err := p.Flush(context.Background(), make([]float32, 80), t0.Add(2*time.Second))
		done <- err
	}()

	<-enc.started

	current := make(chan segment.ID, 1)
	go func() {
		current <- p.Current()
		p.GetStats()
	}()

	select {
	case id := <-current:
		if id != segment.New(t0.Add(2*time.Second)) {
			t.Errorf("Expected rolled segment during encode, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Current blocked while the segment was being encoded")
	}

	close(enc.release)
	if err := <-done; err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if _, ok := store.files["audio_20240501T120000.wav"]; !ok {
		t.Errorf("Expected file under the closing segment, got %v", keys(store.files))
	}
	if stats := p.GetStats(); stats.FilesWritten != 1 {
		t.Errorf("Expected 1 file written, got %d", stats.FilesWritten)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
