package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/perception/pkg/config"
	"github.com/sirupsen/logrus"
)

// localUploader writes artifacts below a directory.
type localUploader struct {
	log logrus.FieldLogger
	dir string
}

var _ Uploader = (*localUploader)(nil)

// NewLocalUploader creates an uploader writing into cfg.Dir.
func NewLocalUploader(log logrus.FieldLogger, cfg *config.LocalExportConfig) Uploader {
	return &localUploader{
		log: log.WithField("component", "local-uploader"),
		dir: cfg.Dir,
	}
}

// Preflight creates the directory and checks it is writable.
func (u *localUploader) Preflight(_ context.Context) error {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}

	probe := filepath.Join(u.dir, ".perception-write-test")
	content := fmt.Sprintf("perception write test: %s", time.Now().UTC().Format(time.RFC3339))

	if err := os.WriteFile(probe, []byte(content), 0o644); err != nil { //nolint:gosec // not secret
		return fmt.Errorf("writing test file to %s: %w", u.dir, err)
	}

	return os.Remove(probe)
}

// Put writes data to dir/key, refusing keys that escape dir.
func (u *localUploader) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rel := filepath.FromSlash(strings.TrimLeft(key, "/"))
	if rel == "" || rel == "." || strings.HasPrefix(filepath.Clean(rel), "..") {
		return fmt.Errorf("invalid key %q", key)
	}

	target := filepath.Join(u.dir, rel)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // not secret
		return fmt.Errorf("writing %s: %w", key, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("renaming %s: %w", key, err)
	}

	u.log.WithField("path", target).Debug("Wrote file")

	return nil
}

// Target implements Uploader.
func (u *localUploader) Target() string {
	return u.dir
}
