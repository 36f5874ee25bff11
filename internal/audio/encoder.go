package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Container formats recognized for persisted audio
const (
	ExtWAV  = "wav"
	ExtOGG  = "ogg"
	ExtMP3  = "mp3"
	ExtFLAC = "flac"
)

var extensionToMIME = map[string]string{
	ExtWAV:  "audio/wav",
	ExtOGG:  "audio/ogg",
	ExtMP3:  "audio/mpeg",
	ExtFLAC: "audio/flac",
}

// MIMEForExtension returns the MIME type of a recognized container extension
func MIMEForExtension(ext string) (string, bool) {
	mime, ok := extensionToMIME[strings.ToLower(ext)]
	return mime, ok
}

// ExtensionForMIME returns the container extension of a recognized MIME type
func ExtensionForMIME(mime string) (string, bool) {
	for ext, m := range extensionToMIME {
		if strings.EqualFold(m, mime) {
			return ext, true
		}
	}
	return "", false
}

// Encoder turns interleaved float samples into a container payload
type Encoder interface {
	Encode(ctx context.Context, samples []float32, channels, sampleRate int) ([]byte, error)
	Extension() string
}

// NewEncoder returns the encoder for a container extension
func NewEncoder(ext string) (Encoder, error) {
	ext = strings.ToLower(ext)
	switch ext {
	case ExtWAV:
		return WAVEncoder{}, nil
	case ExtOGG, ExtMP3, ExtFLAC:
		return &SoxEncoder{Format: ext, Binary: "sox"}, nil
	default:
		return nil, fmt.Errorf("unsupported audio container %q", ext)
	}
}

// WAVEncoder writes 16-bit PCM WAV
type WAVEncoder struct{}

func (WAVEncoder) Encode(_ context.Context, samples []float32, channels, sampleRate int) ([]byte, error) {
	return EncodeWAV(samples, channels, sampleRate)
}

func (WAVEncoder) Extension() string { return ExtWAV }

// SoxEncoder renders WAV in memory and transcodes it through the sox binary
type SoxEncoder struct {
	Format string
	Binary string
}

func (e *SoxEncoder) Encode(ctx context.Context, samples []float32, channels, sampleRate int) ([]byte, error) {
	wav, err := EncodeWAV(samples, channels, sampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Binary, "-q", "-t", "wav", "-", "-t", e.Format, "-")
	cmd.Stdin = bytes.NewReader(wav)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("sox transcode to %s failed: %w (%s)", e.Format, err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("sox produced no %s output", e.Format)
	}

	return stdout.Bytes(), nil
}

func (e *SoxEncoder) Extension() string { return e.Format }
