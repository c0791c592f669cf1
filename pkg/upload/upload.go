// Package upload writes export artifacts to a destination: a local
// directory or an S3-compatible bucket.
package upload

import (
	"context"
	"fmt"

	"github.com/ethpandaops/perception/pkg/config"
	"github.com/sirupsen/logrus"
)

// Uploader stores named artifacts.
type Uploader interface {
	// Preflight verifies that the destination is reachable and writable.
	// Writes a small test object to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Put stores data under key, a slash separated relative path.
	Put(ctx context.Context, key string, data []byte) error

	// Target describes the destination for log output.
	Target() string
}

// FromConfig builds an uploader for every enabled export target.
func FromConfig(log logrus.FieldLogger, cfg *config.ExportConfig) ([]Uploader, error) {
	uploaders := make([]Uploader, 0, 2)

	if cfg.Local != nil && cfg.Local.Enabled {
		uploaders = append(uploaders, NewLocalUploader(log, cfg.Local))
	}

	if cfg.S3 != nil && cfg.S3.Enabled {
		u, err := NewS3Uploader(log, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("creating s3 uploader: %w", err)
		}

		uploaders = append(uploaders, u)
	}

	if len(uploaders) == 0 {
		return nil, fmt.Errorf("no export target enabled")
	}

	return uploaders, nil
}
