package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/aggregator"
	"github.com/skypro1111/audio-feature-streamer/internal/audio"
	"github.com/skypro1111/audio-feature-streamer/internal/capture"
	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/features"
	"github.com/skypro1111/audio-feature-streamer/internal/segment"
	"github.com/skypro1111/audio-feature-streamer/internal/storage"
	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

// manualClock only moves when the test advances it
type manualClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type pipeline struct {
	streamer *Streamer
	clock    *manualClock
	dir      string
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newPipeline wires a streamer in fallback-only mode writing into a temp dir
func newPipeline(t *testing.T, config Config, publisher Publisher) *pipeline {
	t.Helper()

	logger := newTestLogger()
	dir, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	extractor, err := features.NewExtractor()
	if err != nil {
		t.Fatal(err)
	}

	agg := aggregator.New(logger, nil, aggregator.NewFileSink(dir))
	if publisher == nil {
		publisher = telemetry.NewPublisher(telemetry.Config{}, nil, agg, logger, nil)
	}

	clk := &manualClock{now: t0}
	s, err := New(config, Deps{
		Clock:      clk,
		Extractor:  extractor,
		Persister:  audio.NewPersister(dir, audio.WAVEncoder{}, config.Channels, config.SampleRate, 0, logger, nil),
		Publisher:  publisher,
		Aggregator: agg,
	}, logger, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &pipeline{streamer: s, clock: clk, dir: dir.Path()}
}

func (p *pipeline) feed(t *testing.T, batches int, every time.Duration, frames, channels int) {
	t.Helper()
	for i := 0; i < batches; i++ {
		p.clock.Advance(every)
		if err := p.streamer.HandleBatch(capture.Batch{Samples: make([]float32, frames*channels), Frames: frames}); err != nil {
			t.Fatalf("HandleBatch %d failed: %v", i, err)
		}
	}
}

func (p *pipeline) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

type segmentFile struct {
	AudioFileID string `json:"audio_file_id"`
	DeviceID    string `json:"device_id"`
	Data        map[string][]struct {
		Timestamp time.Time `json:"timestamp"`
		Value     float64   `json:"value"`
	} `json:"data"`
}

func readSegment(t *testing.T, path string) segmentFile {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	var f segmentFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Invalid JSON in %s: %v", path, err)
	}
	return f
}

func TestStreamerEndToEndSilence(t *testing.T) {
	config := Config{SampleRate: 16000, Channels: 1, AudioTime: 2 * time.Second, FeatureTime: time.Second}
	p := newPipeline(t, config, nil)

	if err := p.streamer.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 3 seconds of silence in 0.1s batches
	p.feed(t, 30, 100*time.Millisecond, 1600, 1)

	if err := p.streamer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []string{
		"audio_20240501T120000.json",
		"audio_20240501T120000.wav",
		"audio_20240501T120002.json",
		"audio_20240501T120002.wav",
	}
	got := p.files(t)
	if len(got) != len(want) {
		t.Fatalf("Expected files %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected file %s, got %s", want[i], got[i])
		}
	}

	first := readSegment(t, filepath.Join(p.dir, "audio_20240501T120000.json"))
	if first.AudioFileID != "audio_20240501T120000" || first.DeviceID != telemetry.DefaultDeviceID {
		t.Errorf("Unexpected first segment header %+v", first)
	}
	if len(first.Data["std"]) != 2 {
		t.Fatalf("Expected 2 std points in first segment, got %d", len(first.Data["std"]))
	}
	for i, pt := range first.Data["std"] {
		if pt.Value != 0 {
			t.Errorf("Point %d: expected std 0, got %f", i, pt.Value)
		}
		if want := t0.Add(time.Duration(i+1) * time.Second); !pt.Timestamp.Equal(want) {
			t.Errorf("Point %d: expected timestamp %v, got %v", i, want, pt.Timestamp)
		}
	}

	second := readSegment(t, filepath.Join(p.dir, "audio_20240501T120002.json"))
	if len(second.Data["std"]) != 1 {
		t.Errorf("Expected 1 std point in second segment, got %d", len(second.Data["std"]))
	}

	wav, err := os.ReadFile(filepath.Join(p.dir, "audio_20240501T120000.wav"))
	if err != nil {
		t.Fatal(err)
	}
	info, err := audio.GetWAVInfo(wav)
	if err != nil {
		t.Fatalf("Invalid WAV: %v", err)
	}
	if info.NumFrames != 32000 || info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("Unexpected WAV info %+v", info)
	}

	stats := p.streamer.Stats()
	if stats.FeatureEvents != 3 || stats.FlushEvents != 1 || stats.FallbackStored != 3 || stats.DroppedEvents != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.Running {
		t.Error("Closed streamer must not report running")
	}
}

func TestStreamerCloseIsIdempotent(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 2, AudioTime: 2 * time.Second, FeatureTime: time.Second}
	p := newPipeline(t, config, nil)

	if err := p.streamer.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.feed(t, 15, 100*time.Millisecond, 800, 2)

	if err := p.streamer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	afterFirst := p.files(t)

	if err := p.streamer.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	afterSecond := p.files(t)

	if len(afterFirst) != len(afterSecond) {
		t.Errorf("Second Close wrote files: %v -> %v", afterFirst, afterSecond)
	}

	// 1.5s: one feature event, no periodic flush; Close writes the audio and the segment
	want := []string{"audio_20240501T120000.json", "audio_20240501T120000.wav"}
	if len(afterFirst) != len(want) || afterFirst[0] != want[0] || afterFirst[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, afterFirst)
	}

	if err := p.streamer.HandleBatch(capture.Batch{Samples: make([]float32, 2)}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestStreamerCloseWithoutAudio(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 1, AudioTime: time.Second, FeatureTime: time.Second}
	p := newPipeline(t, config, nil)

	if err := p.streamer.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.streamer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if files := p.files(t); len(files) != 0 {
		t.Errorf("Empty stream must not write files, got %v", files)
	}
}

func TestHandleBatchBeforeStart(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 1, AudioTime: time.Second, FeatureTime: time.Second}
	p := newPipeline(t, config, nil)

	if err := p.streamer.HandleBatch(capture.Batch{Samples: make([]float32, 80)}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
}

func TestHandleBatchRejectsPartialFrame(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 2, AudioTime: time.Second, FeatureTime: time.Second}
	p := newPipeline(t, config, nil)
	p.streamer.Start(context.Background())
	defer p.streamer.Close()

	err := p.streamer.HandleBatch(capture.Batch{Samples: make([]float32, 3)})
	if !faults.Is(err, faults.KindCapture) {
		t.Errorf("Expected capture fault, got %v", err)
	}
}

func TestNoCatchUpAfterGap(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 1, AudioTime: 2 * time.Second, FeatureTime: time.Second}
	rec := &recordingPublisher{}
	p := newPipeline(t, config, rec)
	p.streamer.Start(context.Background())

	// A single batch arriving 10s late fires each cadence once
	p.feed(t, 1, 10*time.Second, 80, 1)
	p.streamer.Close()

	stats := p.streamer.Stats()
	if stats.FeatureEvents != 1 || stats.FlushEvents != 1 {
		t.Errorf("Expected one firing per cadence, got %d feature and %d flush", stats.FeatureEvents, stats.FlushEvents)
	}

	// Feature runs before flush, so it belongs to the closing segment
	if len(rec.ids) != 1 || rec.ids[0] != segment.New(t0) {
		t.Errorf("Expected feature under %s, got %v", segment.New(t0), rec.ids)
	}
}

// blockingPublisher holds the worker until released
type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(context.Context, []telemetry.FeatureReading, segment.ID, time.Time) telemetry.Result {
	<-b.release
	return telemetry.Result{Outcome: telemetry.Published}
}

func TestFullQueueDropsEvents(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 1, AudioTime: 100 * time.Second, FeatureTime: time.Second, QueueSize: 1}
	blocker := &blockingPublisher{release: make(chan struct{})}
	p := newPipeline(t, config, blocker)
	p.streamer.Start(context.Background())

	// Every batch fires a feature event; the worker is stuck on the first one
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 10; i++ {
			p.clock.Advance(time.Second)
			if err := p.streamer.HandleBatch(capture.Batch{Samples: make([]float32, 80), Frames: 80}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("HandleBatch failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("HandleBatch blocked on a full queue")
	}

	close(blocker.release)
	p.streamer.Close()

	stats := p.streamer.Stats()
	if stats.DroppedEvents == 0 {
		t.Error("Expected dropped events with a stuck worker")
	}
	if stats.FeatureEvents+stats.DroppedEvents != 10 {
		t.Errorf("Every firing must be processed or dropped: %d processed, %d dropped", stats.FeatureEvents, stats.DroppedEvents)
	}
}

type recordingPublisher struct {
	ids []segment.ID
	mu  sync.Mutex
}

func (r *recordingPublisher) Publish(_ context.Context, _ []telemetry.FeatureReading, id segment.ID, _ time.Time) telemetry.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return telemetry.Result{Outcome: telemetry.Published}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"zero sample rate", Config{SampleRate: 0, Channels: 1, AudioTime: time.Second, FeatureTime: time.Second}},
		{"zero channels", Config{SampleRate: 8000, Channels: 0, AudioTime: time.Second, FeatureTime: time.Second}},
		{"zero audio time", Config{SampleRate: 8000, Channels: 1, FeatureTime: time.Second}},
		{"sub-second audio time", Config{SampleRate: 8000, Channels: 1, AudioTime: 500 * time.Millisecond, FeatureTime: 250 * time.Millisecond}},
		{"zero feature time", Config{SampleRate: 8000, Channels: 1, AudioTime: time.Second}},
		{"negative queue", Config{SampleRate: 8000, Channels: 1, AudioTime: time.Second, FeatureTime: time.Second, QueueSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfigValidateAcceptsOneSecondSegments(t *testing.T) {
	config := Config{SampleRate: 8000, Channels: 1, AudioTime: time.Second, FeatureTime: 250 * time.Millisecond}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected one second audio time to be valid, got %v", err)
	}
}
