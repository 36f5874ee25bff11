// Package stream drives the capture pipeline.
// The ingest path appends each batch to the rolling buffer and checks the feature
// and flush cadences against the stream clock; fired cadences become events on a
// bounded queue consumed by a single worker that extracts features, publishes them
// and writes audio files. Close is the shared cleanup path for interruption and
// capture faults.
package stream
