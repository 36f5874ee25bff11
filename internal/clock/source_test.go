package clock

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeQuerier struct {
	t      time.Time
	err    error
	server string
}

func (f *fakeQuerier) Query(server string) (time.Time, error) {
	f.server = server
	return f.t, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSynced(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	q := &fakeQuerier{t: ref}

	src := New(q, "", testLogger())

	if q.server != DefaultServer {
		t.Errorf("Expected default server %q, got %q", DefaultServer, q.server)
	}

	if !src.Synced() {
		t.Error("Expected source to be synced")
	}

	if !src.Reference().Equal(ref) || src.Reference().Location() != time.UTC {
		t.Errorf("Expected UTC reference %v, got %v", ref.UTC(), src.Reference())
	}
}

func TestNewFallsBackToLocalClock(t *testing.T) {
	before := time.Now()
	src := New(&fakeQuerier{err: errors.New("timeout")}, "ntp.invalid", testLogger())
	after := time.Now()

	if src.Synced() {
		t.Error("Expected degraded source not to be synced")
	}

	ref := src.Reference()
	if ref.Before(before.Add(-time.Second)) || ref.After(after.Add(time.Second)) {
		t.Errorf("Expected fallback reference near local time, got %v", ref)
	}
}

func TestNowAdvancesFromReference(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	elapsed := 1500 * time.Millisecond

	src := NewFixed(ref)
	src.since = func(time.Time) time.Duration { return elapsed }

	want := ref.Add(elapsed)
	if got := src.Now(); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestNowIsMonotonic(t *testing.T) {
	src := NewFixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	prev := src.Now()
	for i := 0; i < 100; i++ {
		next := src.Now()
		if next.Before(prev) {
			t.Fatalf("Time went backwards: %v after %v", next, prev)
		}
		prev = next
	}
}
