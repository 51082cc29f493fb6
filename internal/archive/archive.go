// Package archive copies workload results and logs to object storage
// before the node discards them.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// Uploader stores a single object. The Spaces client implements it; an
// in-memory fake serves tests.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Dir uploads every regular file under root, keyed as
// prefix/<path relative to root>. Missing roots are not errors: the
// workload may never have produced results. Individual upload failures
// are logged and collected; the walk always finishes.
func Dir(ctx context.Context, up Uploader, prefix, root string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("archive root absent, nothing to upload", zap.String("root", root))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return uploadFile(ctx, up, path.Join(prefix, filepath.Base(root)), root)
	}

	var failed int
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if upErr := uploadFile(ctx, up, key, p); upErr != nil {
			failed++
			logger.Warn("archive upload failed", zap.String("key", key), zap.Error(upErr))
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", root, walkErr)
	}
	if failed > 0 {
		return fmt.Errorf("archive %s: %d uploads failed", root, failed)
	}
	return nil
}

func uploadFile(ctx context.Context, up Uploader, key, p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	if err := up.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
