package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/metrics"
)

// FFmpegExtractor decodes videos by piping them through the ffmpeg binary as
// an MJPEG image stream.
type FFmpegExtractor struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewFFmpegExtractor creates an extractor running binary (defaults to
// "ffmpeg" on PATH). A positive timeout bounds the whole decode.
func NewFFmpegExtractor(binary string, timeout time.Duration, logger *zap.Logger) *FFmpegExtractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegExtractor{binary: binary, timeout: timeout, logger: logger}
}

// newFFmpegCmd configures ffmpeg to write raw MJPEG frames to stdout.
func (e *FFmpegExtractor) newFFmpegCmd(ctx context.Context, inputPath string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.binary,
		"-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-")
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// ExtractFrames implements Extractor.
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, video []byte, maxFrames, frameInterval int) []image.Image {
	if len(video) == 0 {
		return nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	frames, err := e.extract(ctx, video, maxFrames, frameInterval)
	if err != nil {
		e.logger.Warn("frame extraction stopped early",
			zap.Int("frames", len(frames)),
			zap.Error(err),
		)
	}
	metrics.FramesExtractedTotal.Add(float64(len(frames)))
	return frames
}

func (e *FFmpegExtractor) extract(ctx context.Context, video []byte, maxFrames, frameInterval int) ([]image.Image, error) {
	tmp, err := os.CreateTemp("", "enroll-*.video")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(video); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	// The command context is cancelled on every return path, which kills
	// ffmpeg when sampling stops before the stream ends.
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := e.newFFmpegCmd(cmdCtx, tmp.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	frames, sampleErr := SampleFrames(stdout, maxFrames, frameInterval)

	// Sampling is done; stop ffmpeg and reap the process.
	cancel()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return frames, fmt.Errorf("decode aborted: %w", ctxErr)
	}
	if sampleErr != nil {
		return frames, sampleErr
	}
	// ffmpeg killed after enough frames is expected.
	if waitErr != nil && !isKilled(waitErr) {
		return frames, fmt.Errorf("ffmpeg: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return frames, nil
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return !exitErr.Exited()
	}
	return errors.Is(err, context.Canceled)
}

var _ Extractor = (*FFmpegExtractor)(nil)
