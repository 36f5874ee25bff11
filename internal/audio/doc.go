// Package audio holds the rolling window of captured samples and turns it into files.
// It implements the fixed-duration RollingBuffer, the WAV codec, container encoders
// (WAV natively, ogg/mp3/flac through sox) and the Persister that writes one file per
// segment and rolls the segment identifier on every flush.
package audio
