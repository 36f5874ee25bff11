// Package capture adapts raw PCM producers to the stream's batch callback.
package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skypro1111/audio-feature-streamer/internal/audio"
	"github.com/skypro1111/audio-feature-streamer/internal/faults"
)

// Batch is one block of interleaved frames delivered to the handler
type Batch struct {
	Samples  []float32
	Frames   int
	Captured time.Time
}

// Handler consumes batches. Returning an error stops the source.
type Handler func(Batch) error

// Source delivers batches until ctx ends, the input is exhausted or a fault occurs.
// A clean end of input returns nil; device faults are capture faults.
type Source interface {
	Stream(ctx context.Context, handler Handler) error
}

// ReaderSource decodes signed 16-bit little-endian interleaved PCM from a reader
type ReaderSource struct {
	r           io.Reader
	channels    int
	batchFrames int
	logger      *slog.Logger
}

// NewReaderSource creates a source reading batchFrames frames per batch
func NewReaderSource(r io.Reader, channels, batchFrames int, logger *slog.Logger) (*ReaderSource, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channels must be at least 1, got %d", channels)
	}
	if batchFrames < 1 {
		return nil, fmt.Errorf("batch frames must be at least 1, got %d", batchFrames)
	}

	return &ReaderSource{
		r:           bufio.NewReaderSize(r, batchFrames*channels*2),
		channels:    channels,
		batchFrames: batchFrames,
		logger:      logger,
	}, nil
}

// Stream reads until EOF. A trailing partial batch is delivered if it holds
// at least one whole frame.
func (s *ReaderSource) Stream(ctx context.Context, handler Handler) error {
	frameBytes := s.channels * 2
	raw := make([]byte, s.batchFrames*frameBytes)

	var batches uint64
	defer func() {
		s.logger.Debug("Capture reader finished", slog.Uint64("batches", batches))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(s.r, raw)
		if frames := n / frameBytes; frames > 0 {
			batch := Batch{
				Samples:  decodeS16LE(raw[:frames*frameBytes]),
				Frames:   frames,
				Captured: time.Now(),
			}
			if herr := handler(batch); herr != nil {
				return herr
			}
			batches++
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return faults.New(faults.KindCapture, "read pcm", err)
		}
	}
}

func decodeS16LE(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = audio.PCM16ToFloat(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	return samples
}
