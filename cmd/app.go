package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/bolt"
	"github.com/kozaktomas/face-registry/internal/database/postgres"
	"github.com/kozaktomas/face-registry/internal/faceembed"
	"github.com/kozaktomas/face-registry/internal/frames"
	"github.com/kozaktomas/face-registry/internal/logger"
	"github.com/kozaktomas/face-registry/internal/recognition"
)

// app holds the services shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      database.FaceStore
	embedder   *faceembed.Embedder
	enroller   *recognition.Enroller
	recognizer *recognition.Recognizer
}

// loadConfig reads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openStore opens the configured embedding store backend.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (database.FaceStore, error) {
	switch cfg.Database.Backend {
	case "bolt":
		log.Info("opening bolt store", zap.String("path", cfg.Database.BoltPath))
		store, err := bolt.Open(cfg.Database.BoltPath, cfg.Embedding.Dim, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return store, nil
	default:
		log.Info("connecting to PostgreSQL")
		repo, err := postgres.Open(ctx, &cfg.Database, cfg.Embedding.Dim, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		if cfg.Database.HNSWIndexPath != "" {
			log.Info("face index ready", zap.Int("faces", repo.HNSWCount()), zap.String("path", cfg.Database.HNSWIndexPath))
		} else {
			log.Info("face index built in memory", zap.Int("faces", repo.HNSWCount()))
		}
		return repo, nil
	}
}

// newApp loads the configuration and wires the store, embedder and flows.
func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	client := faceembed.NewClient(cfg.Embedding.URL, cfg.Embedding.MaxImageSize)
	embedder := faceembed.NewEmbedder(client, faceembed.Options{
		Workers: cfg.Embedding.Workers,
		Timeout: cfg.Embedding.Timeout,
		Dim:     cfg.Embedding.Dim,
	}, log.Named("embedder"))
	extractor := frames.NewFFmpegExtractor(cfg.Enrollment.FFmpegPath, cfg.Enrollment.DecodeTimeout, log.Named("frames"))

	return &app{
		cfg:      cfg,
		logger:   log,
		store:    store,
		embedder: embedder,
		enroller: recognition.NewEnroller(embedder, extractor, store, recognition.EnrollerOptions{
			MinEmbeddings: cfg.Enrollment.MinEmbeddings,
			MaxFrames:     cfg.Enrollment.MaxFrames,
			FrameInterval: cfg.Enrollment.FrameInterval,
		}, log.Named("enroll")),
		recognizer: recognition.NewRecognizer(embedder, store, recognition.RecognizerOptions{
			Threshold:     cfg.Matching.Threshold,
			TopN:          cfg.Matching.TopN,
			CandidatePool: cfg.Matching.CandidatePool,
		}, log.Named("recognize")),
	}, nil
}

// Close saves the index if the store persists one and releases the store.
func (a *app) Close() {
	if err := a.store.SaveHNSWIndex(); err != nil {
		a.logger.Warn("failed to save face index", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
