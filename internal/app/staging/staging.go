// Package staging keeps uploaded media on local disk for the duration of
// one transcription request.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStaging wraps any failure to persist an upload.
var ErrStaging = errors.New("failed to stage upload")

// StagedFile is an upload persisted under the store's directory.
type StagedFile struct {
	Path string
	Size int64
}

// Store writes uploads to uniquely named files in one directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates a store rooted at dir. The directory is not created; see EnsureDir.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the staging directory
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDir creates the staging directory if it does not exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStaging, s.dir, err)
	}
	return nil
}

// Stage copies r into a new file named by a random UUID. A partially
// written file is removed before returning an error.
func (s *Store) Stage(ctx context.Context, r io.Reader) (*StagedFile, error) {
	path := filepath.Join(s.dir, uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaging, err)
	}

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrStaging, err)
	}

	s.logger.Debug("staged upload", zap.String("path", path), zap.Int64("bytes", n))
	return &StagedFile{Path: path, Size: n}, nil
}

// Release deletes the staged file. Failures are logged, never returned.
func (s *Store) Release(f *StagedFile) {
	if f == nil || f.Path == "" {
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove staged file", zap.String("path", f.Path), zap.Error(err))
	}
}

// Sweep removes regular files older than maxAge, left behind by a previous
// process that exited mid-request. Subdirectories (the converted audio of
// local backends) are swept too but kept. It returns the number removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			s.logger.Warn("failed to read staging entry", zap.String("path", path), zap.Error(err))
			if path == s.dir {
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to sweep staged file", zap.String("path", path), zap.Error(err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("swept stale uploads", zap.String("dir", s.dir), zap.Int("removed", removed))
	}
	return removed, nil
}

// ctxReader stops a copy once the request is gone.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
