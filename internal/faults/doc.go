// Package faults defines the error taxonomy of the streamer: configuration, time reference,
// transport, persistence and capture faults, each tagged with the failed operation.
package faults
