package storage

import (
	"context"
	"fmt"
	"strings"

	"snapkeep/internal/config"
	"snapkeep/internal/crypto"
)

// NewFromConfig returns the S3 client when a bucket is configured and the
// filesystem client otherwise. defaultLocalDir is used when [local] root_dir
// is empty.
func NewFromConfig(ctx context.Context, cfg *config.Config, defaultLocalDir string) (ObjectStore, error) {
	if strings.TrimSpace(cfg.S3.Bucket) != "" {
		return NewS3Client(ctx, cfg.S3, cfg.RequestTimeout.Duration)
	}

	rootDir := cfg.Local.RootDir
	if rootDir == "" {
		rootDir = defaultLocalDir
	}
	if rootDir == "" {
		return nil, fmt.Errorf("%w: local root directory is required", ErrStoreUnavailable)
	}

	var signingKey []byte
	var err error
	if cfg.Local.SigningKey != "" {
		signingKey, err = crypto.SigningKeyFromString(cfg.Local.SigningKey)
	} else {
		signingKey, err = crypto.NewSigningKey()
	}
	if err != nil {
		return nil, fmt.Errorf("local signing key: %w", err)
	}

	baseURL := cfg.Local.BaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.ListenAddr
	}
	return NewLocalClient(rootDir, baseURL, signingKey), nil
}
