// Package recognition wires the embedder, frame extractor and face store into
// the enrollment and recognition flows used by the HTTP handlers and the CLI.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/faceembed"
	"github.com/kozaktomas/face-registry/internal/frames"
	"github.com/kozaktomas/face-registry/internal/metrics"
)

const DefaultMinEmbeddings = 3

const (
	videoHint = "Please record a longer, well-lit video."
	photoHint = "Please provide more well-lit photos of the face."
)

// Embedder turns images into face embeddings. *faceembed.Embedder implements it.
type Embedder interface {
	Extract(ctx context.Context, img image.Image) (*faceembed.Face, error)
	ExtractAll(ctx context.Context, imgs []image.Image) []*faceembed.Face
}

// EnrollerOptions tunes enrollment. Zero values select the defaults.
type EnrollerOptions struct {
	MinEmbeddings int
	MaxFrames     int
	FrameInterval int
}

// EnrollResult describes a successful enrollment.
type EnrollResult struct {
	SubjectID       string `json:"subject_id"`
	TotalEmbeddings int    `json:"total_embeddings"`
	FramesProcessed int    `json:"frames_processed"`
	FramesSkipped   int    `json:"frames_skipped"`
	Message         string `json:"message"`
}

// Enroller builds and stores the embedding set of a subject.
type Enroller struct {
	embedder Embedder
	frames   frames.Extractor
	store    database.FaceWriter
	opts     EnrollerOptions
	logger   *zap.Logger
}

// NewEnroller creates an Enroller. extractor may be nil when only photo
// enrollment is used.
func NewEnroller(embedder Embedder, extractor frames.Extractor, store database.FaceWriter, opts EnrollerOptions, logger *zap.Logger) *Enroller {
	if opts.MinEmbeddings <= 0 {
		opts.MinEmbeddings = DefaultMinEmbeddings
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = frames.DefaultMaxFrames
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = frames.DefaultFrameInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enroller{
		embedder: embedder,
		frames:   extractor,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Enroll samples frames from video, embeds the face in each and replaces the
// subject's stored set with the result.
func (e *Enroller) Enroll(ctx context.Context, subjectID string, video []byte) (*EnrollResult, error) {
	res, err := e.enrollVideo(ctx, subjectID, video)
	recordEnrollment(err)
	return res, err
}

func (e *Enroller) enrollVideo(ctx context.Context, subjectID string, video []byte) (*EnrollResult, error) {
	if subjectID == "" {
		return nil, newError(KindInput, MsgSubjectRequired, nil)
	}
	if len(video) == 0 {
		return nil, newError(KindInput, MsgNoVideo, nil)
	}
	log := e.logger.With(zap.String("subject_id", subjectID))
	e.transition(log, EnrollReceivedVideo)

	if e.frames == nil {
		return nil, newError(KindProcessing, MsgProcessingFailed, errors.New("no frame extractor configured"))
	}
	imgs := e.frames.ExtractFrames(ctx, video, e.opts.MaxFrames, e.opts.FrameInterval)
	if perr := processingError(ctx); perr != nil {
		e.reject(log, perr)
		return nil, perr
	}
	e.transition(log, EnrollFramesExtracted, zap.Int("frames", len(imgs)))

	return e.embedAndStore(ctx, log, subjectID, imgs, 0, MsgNoFacesInVideo, videoHint)
}

// EnrollImages enrolls a subject from a set of still photos. Photos that
// cannot be decoded count as skipped.
func (e *Enroller) EnrollImages(ctx context.Context, subjectID string, photos [][]byte) (*EnrollResult, error) {
	res, err := e.enrollImages(ctx, subjectID, photos)
	recordEnrollment(err)
	return res, err
}

func (e *Enroller) enrollImages(ctx context.Context, subjectID string, photos [][]byte) (*EnrollResult, error) {
	if subjectID == "" {
		return nil, newError(KindInput, MsgSubjectRequired, nil)
	}
	if len(photos) == 0 {
		return nil, newError(KindInput, MsgNoPhoto, nil)
	}
	log := e.logger.With(zap.String("subject_id", subjectID))
	e.transition(log, EnrollReceivedPhotos, zap.Int("photos", len(photos)))

	imgs := make([]image.Image, 0, len(photos))
	undecodable := 0
	for i, data := range photos {
		if perr := processingError(ctx); perr != nil {
			e.reject(log, perr)
			return nil, perr
		}
		img, err := faceembed.DecodeImage(data)
		if err != nil {
			log.Debug("skipping photo", zap.Int("photo", i), zap.Stringer("kind", KindDecodeFailure), zap.Error(err))
			undecodable++
			continue
		}
		imgs = append(imgs, img)
	}

	return e.embedAndStore(ctx, log, subjectID, imgs, undecodable, MsgNoFacesInPhotos, photoHint)
}

func (e *Enroller) embedAndStore(ctx context.Context, log *zap.Logger, subjectID string, imgs []image.Image, undecodable int, noFaceMsg, hint string) (*EnrollResult, error) {
	found := e.embedder.ExtractAll(ctx, imgs)
	if perr := processingError(ctx); perr != nil {
		e.reject(log, perr)
		return nil, perr
	}

	skipped := undecodable
	faces := make([]database.StoredFace, 0, len(found))
	for _, f := range found {
		if f == nil {
			skipped++
			continue
		}
		faces = append(faces, database.StoredFace{
			Embedding: f.Embedding,
			BBox:      f.BBox[:],
			DetScore:  f.DetScore,
			Model:     f.Model,
		})
	}
	e.transition(log, EnrollEmbeddingsExtracted, zap.Int("embeddings", len(faces)), zap.Int("skipped", skipped))

	if len(faces) == 0 {
		err := newError(KindNoFaceDetected, noFaceMsg, nil)
		e.reject(log, err)
		return nil, err
	}
	if len(faces) < e.opts.MinEmbeddings {
		err := insufficientSamples(len(faces), e.opts.MinEmbeddings, hint)
		e.reject(log, err)
		return nil, err
	}
	e.transition(log, EnrollValidated)

	stored, err := e.store.UpsertSubject(ctx, subjectID, faces)
	if err != nil {
		if perr := processingError(ctx); perr != nil {
			e.reject(log, perr)
			return nil, perr
		}
		log.Error("failed to store face embeddings", zap.Error(err))
		return nil, newError(KindStoreFailure, MsgStoreFailed, err)
	}
	e.transition(log, EnrollStored, zap.Int("stored", stored))

	return &EnrollResult{
		SubjectID:       subjectID,
		TotalEmbeddings: stored,
		FramesProcessed: len(imgs) + undecodable,
		FramesSkipped:   skipped,
		Message:         fmt.Sprintf("Enrolled %s with %d face samples", subjectID, stored),
	}, nil
}

// Delete removes every stored embedding of a subject. Unknown subjects
// return 0 without error.
func (e *Enroller) Delete(ctx context.Context, subjectID string) (int, error) {
	if subjectID == "" {
		return 0, newError(KindInput, MsgSubjectRequired, nil)
	}
	n, err := e.store.DeleteSubject(ctx, subjectID)
	if err != nil {
		e.logger.Error("failed to delete subject", zap.String("subject_id", subjectID), zap.Error(err))
		return 0, newError(KindStoreFailure, MsgDeleteFailed, err)
	}
	e.logger.Info("subject deleted", zap.String("subject_id", subjectID), zap.Int("embeddings", n))
	return n, nil
}

func (e *Enroller) transition(log *zap.Logger, state EnrollState, fields ...zap.Field) {
	log.Debug("enrollment", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}

func (e *Enroller) reject(log *zap.Logger, err *Error) {
	log.Info("enrollment rejected",
		zap.String("state", string(EnrollRejected)),
		zap.Stringer("kind", err.Kind),
		zap.String("reason", err.Message),
		zap.Error(err.Err),
	)
}

func recordEnrollment(err error) {
	outcome := "stored"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.EnrollmentsTotal.WithLabelValues(outcome).Inc()
}
