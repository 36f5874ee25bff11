package clock

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/ntp"

	"github.com/skypro1111/audio-feature-streamer/internal/faults"
)

// DefaultServer is the NTP pool queried when no server is configured
const DefaultServer = "pool.ntp.org"

// Clock supplies the current stream time
type Clock interface {
	Now() time.Time
}

// Querier resolves an absolute UTC time from an external reference
type Querier interface {
	Query(server string) (time.Time, error)
}

// NTPQuerier queries an NTP server once per call
type NTPQuerier struct {
	Timeout time.Duration
}

// Query returns the server transmit time after validating the response
func (q NTPQuerier) Query(server string) (time.Time, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: q.Timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", server, err)
	}

	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("invalid ntp response from %s: %w", server, err)
	}

	return resp.Time, nil
}

// Source derives current time from a one-time reference sample plus elapsed
// monotonic time. It never re-synchronizes after construction.
type Source struct {
	reference time.Time
	anchor    time.Time // local reading carrying the monotonic clock
	synced    bool
	server    string

	since func(time.Time) time.Duration
}

// New queries the reference once. When the query fails the local wall clock is
// used as the reference and the source runs in degraded mode.
func New(querier Querier, server string, logger *slog.Logger) *Source {
	if server == "" {
		server = DefaultServer
	}

	s := &Source{server: server, since: time.Since}

	reference, err := querier.Query(server)
	s.anchor = time.Now()
	if err != nil {
		err = faults.New(faults.KindTimeReference, "sync "+server, err)
		s.reference = s.anchor.UTC()
		logger.Warn("Time reference unavailable, using local clock",
			slog.String("kind", faults.KindOf(err).String()),
			slog.String("server", server),
			slog.String("error", err.Error()),
			slog.Time("fallback_time", s.reference),
		)
		return s
	}

	s.reference = reference.UTC()
	s.synced = true
	logger.Info("Time reference synchronized",
		slog.String("server", server),
		slog.Time("reference_time", s.reference),
		slog.Duration("offset", s.reference.Sub(s.anchor)),
	)

	return s
}

// NewFixed builds a source anchored at reference without querying anything
func NewFixed(reference time.Time) *Source {
	return &Source{
		reference: reference.UTC(),
		anchor:    time.Now(),
		synced:    true,
		since:     time.Since,
	}
}

// Now returns reference + elapsed local monotonic time
func (s *Source) Now() time.Time {
	return s.reference.Add(s.since(s.anchor))
}

// Synced reports whether the external reference answered
func (s *Source) Synced() bool {
	return s.synced
}

// Reference returns the reference sample taken at startup
func (s *Source) Reference() time.Time {
	return s.reference
}

// Server returns the queried reference server
func (s *Source) Server() string {
	return s.server
}
