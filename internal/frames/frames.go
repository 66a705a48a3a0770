// Package frames samples still images out of enrollment videos.
package frames

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

const (
	DefaultMaxFrames     = 30
	DefaultFrameInterval = 5

	megabyte = 1024 * 1024
)

// Extractor decodes a video payload into sampled frames. Implementations
// never fail: a payload that cannot be decoded yields the frames read so far,
// which may be none.
type Extractor interface {
	ExtractFrames(ctx context.Context, video []byte, maxFrames, frameInterval int) []image.Image
}

// SampleFrames reads an MJPEG stream and keeps every interval-th frame
// (0-based, so frame 0 is always kept) until maxFrames frames are collected.
// Non-positive arguments fall back to the package defaults. The returned error
// reports a stream or decode failure; frames collected before it are returned
// alongside.
func SampleFrames(r io.Reader, maxFrames, interval int) ([]image.Image, error) {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	var out []image.Image
	for i := 0; scanner.Scan(); i++ {
		if i%interval != 0 {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			return out, fmt.Errorf("decode frame %d: %w", i, err)
		}
		out = append(out, img)
		if len(out) >= maxFrames {
			return out, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read frame stream: %w", err)
	}
	return out, nil
}
