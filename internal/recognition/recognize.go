package recognition

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/faceembed"
	"github.com/kozaktomas/face-registry/internal/matching"
	"github.com/kozaktomas/face-registry/internal/metrics"
)

// RecognizerOptions tunes recognition. A negative Threshold selects
// matching.DefaultThreshold and zero keeps exact matches only; TopN and
// CandidatePool fall back to their defaults when not positive.
type RecognizerOptions struct {
	Threshold     float64
	TopN          int
	CandidatePool int
}

// RecognizeResult is the outcome of a recognition that reached the store.
// Found is false when no subject was close enough; Message then explains how
// close the best candidate came.
type RecognizeResult struct {
	Matches    []matching.Match    `json:"matches"`
	Diagnostic matching.Diagnostic `json:"debug_info"`
	Found      bool                `json:"found"`
	Message    string              `json:"message"`
}

// Recognizer identifies the subject in a photo.
type Recognizer struct {
	embedder Embedder
	store    database.FaceReader
	opts     RecognizerOptions
	logger   *zap.Logger
}

// NewRecognizer creates a Recognizer.
func NewRecognizer(embedder Embedder, store database.FaceReader, opts RecognizerOptions, logger *zap.Logger) *Recognizer {
	if opts.Threshold < 0 {
		opts.Threshold = matching.DefaultThreshold
	}
	if opts.TopN <= 0 {
		opts.TopN = matching.DefaultTopN
	}
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = matching.DefaultCandidatePool
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Recognize embeds the face in photo and ranks enrolled subjects by similarity.
func (r *Recognizer) Recognize(ctx context.Context, photo []byte) (*RecognizeResult, error) {
	res, err := r.recognize(ctx, photo)
	outcome := "no_match"
	switch {
	case err != nil:
		outcome = KindOf(err).String()
	case res.Found:
		outcome = "match"
	}
	metrics.RecognitionsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (r *Recognizer) recognize(ctx context.Context, photo []byte) (*RecognizeResult, error) {
	if len(photo) == 0 {
		return nil, newError(KindInput, MsgNoPhoto, nil)
	}
	r.transition(RecognizeReceivedPhoto, zap.Int("bytes", len(photo)))

	img, err := faceembed.DecodeImage(photo)
	if err != nil {
		r.transition(RecognizeNoFace, zap.Stringer("kind", KindDecodeFailure), zap.Error(err))
		return nil, newError(KindNoFaceDetected, MsgNoFaceInPhoto, err)
	}
	if perr := processingError(ctx); perr != nil {
		return nil, perr
	}

	face, err := r.embedder.Extract(ctx, img)
	if err != nil {
		if perr := processingError(ctx); perr != nil {
			return nil, perr
		}
		kind := KindModelFailure
		if errors.Is(err, faceembed.ErrNoFace) {
			kind = KindNoFaceDetected
		}
		r.transition(RecognizeNoFace, zap.Stringer("kind", kind), zap.Error(err))
		return nil, newError(KindNoFaceDetected, MsgNoFaceInPhoto, err)
	}
	r.transition(RecognizeEmbeddingExtracted, zap.Float64("det_score", face.DetScore))

	candidates, err := r.store.QueryNearest(ctx, face.Embedding, r.opts.CandidatePool)
	if err != nil {
		if perr := processingError(ctx); perr != nil {
			return nil, perr
		}
		r.logger.Error("failed to search face embeddings", zap.Error(err))
		return nil, newError(KindStoreFailure, MsgSearchFailed, err)
	}
	r.transition(RecognizeSearched, zap.Int("candidates", len(candidates)))

	result := matching.Aggregate(candidates, matching.Options{
		Threshold: r.opts.Threshold,
		TopN:      r.opts.TopN,
	})
	r.transition(RecognizeAggregated, zap.Int("matches", len(result.Matches)))

	out := &RecognizeResult{
		Matches:    result.Matches,
		Diagnostic: result.Diagnostic,
		Found:      len(result.Matches) > 0,
	}
	if out.Matches == nil {
		out.Matches = []matching.Match{}
	}
	if out.Found {
		best := out.Matches[0]
		out.Message = "Match found: " + best.SubjectID + " (" + best.MatchPercentage + ")"
	} else {
		out.Message = matching.NoMatchMessage(result.Diagnostic)
	}
	r.transition(RecognizeReported, zap.Bool("found", out.Found), zap.String("best_subject", result.Diagnostic.BestSubjectID))

	return out, nil
}

func (r *Recognizer) transition(state RecognizeState, fields ...zap.Field) {
	r.logger.Debug("recognition", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}
