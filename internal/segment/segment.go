// Package segment mints the identifiers that tie an audio file to the feature
// readings produced while it was being recorded.
package segment

import (
	"strings"
	"time"
)

const (
	prefix = "audio_"
	layout = "20060102T150405"
)

// ID identifies one audio segment, e.g. audio_20240501T120000
type ID string

// New derives an ID from ts truncated to whole seconds in UTC
func New(ts time.Time) ID {
	return ID(prefix + ts.UTC().Format(layout))
}

// String returns the identifier text
func (id ID) String() string {
	return string(id)
}

// FileName joins the identifier with an extension
func (id ID) FileName(ext string) string {
	return string(id) + "." + strings.TrimPrefix(ext, ".")
}

// Time parses the timestamp back out of the identifier
func (id ID) Time() (time.Time, error) {
	return time.ParseInLocation(layout, strings.TrimPrefix(string(id), prefix), time.UTC)
}
