package faceembed

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/metrics"
)

// ErrNoFace is returned by Extract when the image contains no usable face.
var ErrNoFace = errors.New("no face detected")

// Face is the selected face of an image with its unit-length embedding.
type Face struct {
	Embedding []float32
	BBox      [4]float64
	DetScore  float64
	Model     string
}

// Options configures an Embedder.
type Options struct {
	Workers int           // concurrent model calls, defaults to NumCPU
	Timeout time.Duration // per model call, 0 disables
	Dim     int           // expected embedding length, 0 accepts any
}

// Embedder runs a Model through a bounded worker pool and reduces its
// detections to a single normalized embedding per image.
type Embedder struct {
	model   Model
	sem     chan struct{}
	timeout time.Duration
	dim     int
	logger  *zap.Logger
}

// NewEmbedder creates an Embedder over model.
func NewEmbedder(model Model, opts Options, logger *zap.Logger) *Embedder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		model:   model,
		sem:     make(chan struct{}, opts.Workers),
		timeout: opts.Timeout,
		dim:     opts.Dim,
		logger:  logger,
	}
}

// ExtractEmbedding returns the normalized embedding of the largest face in img.
// Any failure, including model errors, panics and timeouts, yields false.
func (e *Embedder) ExtractEmbedding(ctx context.Context, img image.Image) (*Face, bool) {
	face, err := e.Extract(ctx, img)
	if err != nil {
		if !errors.Is(err, ErrNoFace) {
			e.logger.Warn("face extraction failed", zap.Error(err))
		}
		return nil, false
	}
	return face, true
}

// ExtractEmbeddingFromBytes decodes data and extracts its embedding.
func (e *Embedder) ExtractEmbeddingFromBytes(ctx context.Context, data []byte) (*Face, bool) {
	img, err := DecodeImage(data)
	if err != nil {
		e.logger.Debug("image decode failed", zap.Error(err))
		return nil, false
	}
	return e.ExtractEmbedding(ctx, img)
}

// Extract is ExtractEmbedding with the failure reason kept. It returns
// ErrNoFace when the model found nothing usable.
func (e *Embedder) Extract(ctx context.Context, img image.Image) (*Face, error) {
	start := time.Now()
	dets, err := e.detect(ctx, img)
	if err != nil {
		metrics.InferenceDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	face, ok := e.selectFace(dets)
	if !ok {
		metrics.InferenceDuration.WithLabelValues("no_face").Observe(time.Since(start).Seconds())
		return nil, ErrNoFace
	}
	metrics.InferenceDuration.WithLabelValues("face").Observe(time.Since(start).Seconds())
	return face, nil
}

// ExtractAll extracts embeddings for every image concurrently. The result has
// one entry per image, nil where no embedding could be produced.
func (e *Embedder) ExtractAll(ctx context.Context, imgs []image.Image) []*Face {
	results := make([]*Face, len(imgs))

	var wg sync.WaitGroup
	for i, img := range imgs {
		wg.Add(1)
		go func(i int, img image.Image) {
			defer wg.Done()
			if face, ok := e.ExtractEmbedding(ctx, img); ok {
				results[i] = face
			}
		}(i, img)
	}
	wg.Wait()

	return results
}

type detectResult struct {
	dets []Detection
	err  error
}

// detect calls the model under the worker semaphore and per-call timeout.
// The call runs in its own goroutine so a model that ignores ctx still
// cannot block the caller past the deadline.
func (e *Embedder) detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for inference slot: %w", ctx.Err())
	}

	done := make(chan detectResult, 1)
	go func() {
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- detectResult{err: fmt.Errorf("model panic: %v", r)}
			}
		}()
		dets, err := e.model.DetectAndEmbed(ctx, img)
		done <- detectResult{dets: dets, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("detect and embed: %w", res.err)
		}
		return res.dets, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("detect and embed: %w", ctx.Err())
	}
}

// selectFace drops detections whose embedding cannot be used and returns the
// largest remaining face with its embedding normalized.
func (e *Embedder) selectFace(dets []Detection) (*Face, bool) {
	usable := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if len(d.Embedding) == 0 || (e.dim > 0 && len(d.Embedding) != e.dim) {
			continue
		}
		emb, err := database.Normalize(d.Embedding)
		if err != nil {
			continue
		}
		d.Embedding = emb
		usable = append(usable, d)
	}

	best, ok := SelectLargest(usable)
	if !ok {
		return nil, false
	}
	return &Face{
		Embedding: best.Embedding,
		BBox:      best.BBox,
		DetScore:  best.DetScore,
		Model:     e.model.Name(),
	}, true
}
