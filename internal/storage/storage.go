// Package storage persists the downloadable summary artifact on the local
// filesystem or in an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsum/internal/config"
)

// ErrNotFound is returned by Open when the artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore abstracts artifact storage backends.
type ArtifactStore interface {
	// Save stores data under key, replacing any previous version.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the artifact.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a presigned URL for the artifact.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Type returns "local" or "s3".
	Type() string
}

// New creates an ArtifactStore based on config.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, artifactDir string, log zerolog.Logger) (ArtifactStore, error) {
	if !cfg.Enabled() {
		log.Info().Str("dir", artifactDir).Msg("artifact store: local")
		return NewLocalStore(artifactDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}
