// Package features computes statistics over the most recent window of audio.
package features

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

// DefaultFeature is the statistic computed when none is configured
const DefaultFeature = "std"

// Statistic reduces a window of interleaved samples to one scalar
type Statistic func(samples []float32) float64

var (
	registryMu sync.RWMutex
	registry   = map[string]Statistic{
		"std":  StdDev,
		"rms":  RMS,
		"peak": Peak,
	}
)

// Register adds or replaces a named statistic
func Register(name string, fn Statistic) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Lookup returns the statistic registered under name
func Lookup(name string) (Statistic, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the registered statistic names in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type namedStatistic struct {
	name string
	fn   Statistic
}

// Extractor computes a fixed, ordered set of statistics per window
type Extractor struct {
	stats []namedStatistic
}

// NewExtractor builds an extractor for the named statistics.
// No names selects DefaultFeature.
func NewExtractor(names ...string) (*Extractor, error) {
	if len(names) == 0 {
		names = []string{DefaultFeature}
	}

	e := &Extractor{}
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("feature %q listed twice", name)
		}
		seen[name] = true

		fn, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown feature %q (known: %v)", name, Names())
		}
		e.stats = append(e.stats, namedStatistic{name: name, fn: fn})
	}

	return e, nil
}

// Features returns the configured statistic names in extraction order
func (e *Extractor) Features() []string {
	names := make([]string, len(e.stats))
	for i, s := range e.stats {
		names[i] = s.name
	}
	return names
}

// Extract computes every configured statistic over window
func (e *Extractor) Extract(window []float32, ts time.Time) []telemetry.FeatureReading {
	readings := make([]telemetry.FeatureReading, 0, len(e.stats))
	for _, s := range e.stats {
		readings = append(readings, telemetry.FeatureReading{
			Feature:   s.name,
			Value:     s.fn(window),
			Timestamp: ts,
		})
	}
	return readings
}

// StdDev returns the population standard deviation across all samples.
// An empty window yields 0.
func StdDev(samples []float32) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(n)

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}

	return math.Sqrt(sq / float64(n))
}

// RMS returns the root mean square across all samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sq float64
	for _, s := range samples {
		sq += float64(s) * float64(s)
	}

	return math.Sqrt(sq / float64(len(samples)))
}

// Peak returns the largest absolute sample value
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}
