package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/skypro1111/audio-feature-streamer/internal/faults"
)

// Stdin selects standard input instead of a recorder process
const Stdin = "-"

// DefaultCommand is the recorder used when none is configured
const DefaultCommand = "arecord"

// DefaultArgs returns arecord arguments producing raw S16_LE on stdout
func DefaultArgs(channels, sampleRate int) []string {
	return []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-c", strconv.Itoa(channels),
		"-r", strconv.Itoa(sampleRate),
	}
}

// CommandSource streams PCM from a recorder subprocess
type CommandSource struct {
	command     string
	args        []string
	channels    int
	batchFrames int
	stdin       io.Reader
	logger      *slog.Logger
}

// NewCommandSource creates a source for command. Stdin reads the process input instead.
func NewCommandSource(command string, args []string, channels, batchFrames int, logger *slog.Logger) *CommandSource {
	return &CommandSource{
		command:     command,
		args:        args,
		channels:    channels,
		batchFrames: batchFrames,
		stdin:       os.Stdin,
		logger:      logger,
	}
}

// Stream starts the recorder and forwards its output until it exits or ctx ends.
// A recorder that exits with an error is a capture fault; cancellation is not.
func (s *CommandSource) Stream(ctx context.Context, handler Handler) error {
	if s.command == Stdin {
		reader, err := NewReaderSource(s.stdin, s.channels, s.batchFrames, s.logger)
		if err != nil {
			return faults.New(faults.KindCapture, "open stdin", err)
		}
		return reader.Stream(ctx, handler)
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return faults.New(faults.KindCapture, "start "+s.command, err)
	}

	if err := cmd.Start(); err != nil {
		return faults.New(faults.KindCapture, "start "+s.command, err)
	}

	s.logger.Info("Capture process started",
		slog.String("command", s.command),
		slog.String("args", strings.Join(s.args, " ")),
		slog.Int("pid", cmd.Process.Pid),
	)

	reader, err := NewReaderSource(stdout, s.channels, s.batchFrames, s.logger)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return faults.New(faults.KindCapture, "open "+s.command, err)
	}

	streamErr := reader.Stream(ctx, handler)
	if streamErr != nil {
		// Handler or read failure: stop the recorder before reaping it
		cmd.Process.Kill()
	}

	waitErr := cmd.Wait()

	if streamErr != nil {
		return streamErr
	}

	if ctx.Err() != nil {
		return nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return faults.New(faults.KindCapture, "run "+s.command,
				fmt.Errorf("%w: %s", waitErr, strings.TrimSpace(stderr.String())))
		}
		return faults.New(faults.KindCapture, "run "+s.command, waitErr)
	}

	s.logger.Info("Capture process exited", slog.String("command", s.command))
	return nil
}
