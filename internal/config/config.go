package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Embedding  EmbeddingConfig
	Database   DatabaseConfig
	Enrollment EnrollmentConfig
	Matching   MatchingConfig
	Web        WebConfig
	Logging    LoggingConfig
}

type EmbeddingConfig struct {
	URL          string        // face embedding server, defaults to http://localhost:8000
	Dim          int           // defaults to 512
	Timeout      time.Duration // per inference call
	Workers      int           // concurrent inference calls, defaults to NumCPU
	MaxImageSize int           // long edge in pixels before upload
}

type DatabaseConfig struct {
	Backend       string // "postgres" or "bolt"
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	BoltPath      string // bbolt file for the embedded backend
	HNSWIndexPath string // Path to persist face HNSW index (optional, if empty index is rebuilt on startup)
}

type EnrollmentConfig struct {
	MaxFrames     int           `yaml:"max_frames"`
	FrameInterval int           `yaml:"frame_interval"`
	MinEmbeddings int           `yaml:"min_embeddings"`
	DecodeTimeout time.Duration `yaml:"decode_timeout"`
	FFmpegPath    string        `yaml:"-"`
}

type MatchingConfig struct {
	Threshold     float64 `yaml:"threshold"` // cosine distance, 0 keeps exact matches only
	TopN          int     `yaml:"top_n"`
	CandidatePool int     `yaml:"candidate_pool"`
}

type WebConfig struct {
	Host           string
	Port           int
	MaxUploadSize  int64
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Env   string // prod, dev or local
	Level string // optional override: debug, info, warn, error
}

// defaults mirrors defaults.yaml.
type defaults struct {
	Matching   MatchingConfig   `yaml:"matching"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Embedding  struct {
		Dim          int           `yaml:"dim"`
		Timeout      time.Duration `yaml:"timeout"`
		MaxImageSize int           `yaml:"max_image_size"`
	} `yaml:"embedding"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a positive time.Duration ("30s", "2m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	return &Config{
		Embedding: EmbeddingConfig{
			URL:          os.Getenv("EMBEDDING_URL"),
			Dim:          envInt("EMBEDDING_DIM", d.Embedding.Dim),
			Timeout:      envDuration("FACE_INFERENCE_TIMEOUT", d.Embedding.Timeout),
			Workers:      envInt("FACE_INFERENCE_WORKERS", runtime.NumCPU()),
			MaxImageSize: envInt("FACE_MAX_IMAGE_SIZE", d.Embedding.MaxImageSize),
		},
		Database: DatabaseConfig{
			Backend:       envString("STORE_BACKEND", "postgres"),
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			BoltPath:      envString("BOLT_PATH", "face-registry.db"),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Enrollment: EnrollmentConfig{
			MaxFrames:     envInt("ENROLL_MAX_FRAMES", d.Enrollment.MaxFrames),
			FrameInterval: envInt("ENROLL_FRAME_INTERVAL", d.Enrollment.FrameInterval),
			MinEmbeddings: envInt("ENROLL_MIN_EMBEDDINGS", d.Enrollment.MinEmbeddings),
			DecodeTimeout: envDuration("FRAME_DECODE_TIMEOUT", d.Enrollment.DecodeTimeout),
			FFmpegPath:    envString("FFMPEG_PATH", "ffmpeg"),
		},
		Matching: MatchingConfig{
			Threshold:     envFloat("MATCH_THRESHOLD", d.Matching.Threshold),
			TopN:          envInt("MATCH_TOP_N", d.Matching.TopN),
			CandidatePool: envInt("MATCH_CANDIDATE_POOL", d.Matching.CandidatePool),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			MaxUploadSize:  int64(envInt("WEB_MAX_UPLOAD_MB", 100)) << 20,
			RequestTimeout: envDuration("WEB_REQUEST_TIMEOUT", 5*time.Minute),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Env:   envString("ENV", "prod"),
			Level: os.Getenv("LOG_LEVEL"),
		},
	}
}

// Validate checks value ranges that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 2 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be within [0, 2], got %v", c.Matching.Threshold))
	}
	if c.Matching.TopN > c.Matching.CandidatePool {
		errs = append(errs, fmt.Errorf("MATCH_TOP_N (%d) must not exceed MATCH_CANDIDATE_POOL (%d)",
			c.Matching.TopN, c.Matching.CandidatePool))
	}
	if c.Enrollment.MinEmbeddings > c.Enrollment.MaxFrames {
		errs = append(errs, fmt.Errorf("ENROLL_MIN_EMBEDDINGS (%d) must not exceed ENROLL_MAX_FRAMES (%d)",
			c.Enrollment.MinEmbeddings, c.Enrollment.MaxFrames))
	}
	switch c.Database.Backend {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL environment variable is required for the postgres backend"))
		}
	case "bolt":
		if c.Database.BoltPath == "" {
			errs = append(errs, errors.New("BOLT_PATH is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q (want postgres or bolt)", c.Database.Backend))
	}
	return errors.Join(errs...)
}
