package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/cwygoda/streamrelay/internal/domain"
)

const (
	defaultTailLines = 20
	waitDelay        = 5 * time.Second
	eventBuffer      = 16
	maxLineSize      = 1 << 20
)

// Options configures the ffmpeg encoder.
type Options struct {
	// Path of the ffmpeg binary; "ffmpeg" when empty.
	Path string
	// TailLines bounds the stdout/stderr excerpts reported on failure.
	TailLines int
}

// FFmpeg runs one ffmpeg process per invocation.
type FFmpeg struct {
	path      string
	tailLines int
}

// New creates an ffmpeg encoder.
func New(opts Options) *FFmpeg {
	path := opts.Path
	if path == "" {
		path = "ffmpeg"
	}
	tail := opts.TailLines
	if tail <= 0 {
		tail = defaultTailLines
	}
	return &FFmpeg{path: path, tailLines: tail}
}

// Path returns the ffmpeg binary path.
func (f *FFmpeg) Path() string {
	return f.path
}

// Invoke starts ffmpeg publishing sourcePath to destinationURL/streamKey and
// returns its event stream. The caller must drain the stream until it is
// closed. Cancelling ctx kills the process.
func (f *FFmpeg) Invoke(ctx context.Context, sourcePath, destinationURL, streamKey string) <-chan domain.EncoderEvent {
	events := make(chan domain.EncoderEvent, eventBuffer)
	dest := destinationURL + "/" + streamKey
	args := Args(sourcePath, dest)
	desc := describe(f.path, Args(sourcePath, destinationURL+"/"+maskKey(streamKey)))
	go f.run(ctx, args, desc, events)
	return events
}

func (f *FFmpeg) run(ctx context.Context, args []string, desc string, events chan<- domain.EncoderEvent) {
	defer close(events)

	stdout := newLineTail(f.tailLines)
	stderr := newLineTail(f.tailLines)

	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdout = stdout
	cmd.WaitDelay = waitDelay
	pipe, err := cmd.StderrPipe()
	if err != nil {
		events <- domain.EncoderEvent{Kind: domain.EncoderError, Message: err.Error()}
		return
	}

	if err := cmd.Start(); err != nil {
		events <- domain.EncoderEvent{Kind: domain.EncoderError, Message: err.Error()}
		return
	}
	log.Printf("spawned ffmpeg with command: %s", desc)
	events <- domain.EncoderEvent{Kind: domain.EncoderStart, Command: desc}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		stderr.add(line)
		if isProgress(line) {
			// Progress is informational; drop it rather than stall ffmpeg.
			select {
			case events <- domain.EncoderEvent{Kind: domain.EncoderProgress, Line: strings.TrimSpace(line)}:
			default:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("ffmpeg stderr: %v", err)
		stderr.add(fmt.Sprintf("[stderr truncated: %v]", err))
		// Keep the pipe drained so ffmpeg never blocks on a full stderr.
		io.Copy(io.Discard, pipe)
	}

	err = cmd.Wait()
	if err == nil {
		log.Printf("ffmpeg process finished successfully")
		events <- domain.EncoderEvent{Kind: domain.EncoderEnd}
		return
	}

	msg := failureMessage(ctx, err, stderr.Last())
	log.Printf("ffmpeg error: %s", msg)
	log.Printf("ffmpeg stdout: %s", stdout.String())
	log.Printf("ffmpeg stderr: %s", stderr.String())
	events <- domain.EncoderEvent{
		Kind:       domain.EncoderError,
		Message:    msg,
		StdoutTail: stdout.String(),
		StderrTail: stderr.String(),
	}
}

func failureMessage(ctx context.Context, err error, lastLine string) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("ffmpeg was killed: %v", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		if lastLine == "" {
			return fmt.Sprintf("ffmpeg exited with code %d", exitErr.ExitCode())
		}
		return fmt.Sprintf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), lastLine)
	}
	return err.Error()
}

// isProgress matches ffmpeg's periodic stats line.
func isProgress(line string) bool {
	return strings.Contains(line, "time=") && (strings.Contains(line, "frame=") || strings.Contains(line, "size="))
}

func describe(path string, args []string) string {
	return path + " " + strings.Join(args, " ")
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	return "****"
}
