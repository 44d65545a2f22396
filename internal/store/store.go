// Package store keeps uploaded files on local disk under generated
// identities and serves them back to the query engine.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/csvquery/csvbrowse/internal/rowstream"
)

// DefaultMaxBytes is the upload size limit used when Config leaves it unset.
const DefaultMaxBytes int64 = 100 << 20

var (
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")

	// ErrUnsupportedType is returned for uploads that are not CSV files.
	ErrUnsupportedType = errors.New("only CSV files are allowed")
)

// Config holds store configuration.
type Config struct {
	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// Store owns the upload directory.
type Store struct {
	dir      string
	maxBytes int64
	opener   rowstream.FileOpener
	logger   *slog.Logger

	mu    sync.RWMutex
	hooks []func(fileID string)
}

var _ rowstream.Opener = (*Store)(nil)

// New creates the upload directory if needed.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &Store{
		dir:      cfg.UploadDir,
		maxBytes: cfg.MaxUploadBytes,
		opener:   rowstream.FileOpener{Dir: cfg.UploadDir},
		logger:   logger,
	}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// suffixFor picks the stored extension from the uploaded name. Compressed
// uploads keep their codec suffix so the opener can decode them.
func suffixFor(originalName string) (string, error) {
	name := strings.ToLower(filepath.Base(originalName))
	for _, codec := range []string{"", ".gz", ".lz4", ".zst"} {
		if strings.HasSuffix(name, ".csv"+codec) {
			return ".csv" + codec, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, originalName)
}

// Save copies r into a new file and returns its identity. The file only
// becomes visible under that identity once it has been fully written.
func (s *Store) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	suffix, err := suffixFor(originalName)
	if err != nil {
		return "", err
	}
	fileID := "file-" + uuid.NewString() + suffix

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := lockFile(tmp); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to lock file: %w", err)
	}

	n, copyErr := io.Copy(tmp, io.LimitReader(&ctxReader{ctx: ctx, r: r}, s.maxBytes+1))
	if copyErr == nil && n > s.maxBytes {
		copyErr = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if copyErr == nil {
		copyErr = tmp.Sync()
	}
	_ = unlockFile(tmp)
	if err := tmp.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return "", copyErr
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, fileID)); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	committed = true

	s.logger.Info("Stored upload",
		slog.String("fileId", fileID),
		slog.String("originalName", originalName),
		slog.Int64("bytes", n))
	return fileID, nil
}

// Path resolves fileID inside the upload directory.
func (s *Store) Path(fileID string) (string, error) {
	return s.opener.Path(fileID)
}

// Exists reports whether fileID names a stored file.
func (s *Store) Exists(fileID string) bool {
	path, err := s.Path(fileID)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Open implements rowstream.Opener.
func (s *Store) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return s.opener.Open(ctx, fileID)
}

// OnDelete registers fn to run after Delete removes a file.
func (s *Store) OnDelete(fn func(fileID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Delete removes fileID and runs the delete hooks. Deleting a file that
// does not exist succeeds without running them.
func (s *Store) Delete(fileID string) error {
	path, err := s.Path(fileID)
	if err != nil {
		return err
	}

	if err := removeLocked(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("File already deleted", slog.String("fileId", fileID))
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", fileID, err)
	}

	s.mu.RLock()
	hooks := s.hooks
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(fileID)
	}

	s.logger.Info("Deleted file", slog.String("fileId", fileID))
	return nil
}

// removeLocked waits for any writer holding the file lock, then unlinks.
func removeLocked(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return err
	}
	defer unlockFile(f)

	return os.Remove(path)
}

// ctxReader stops a copy when its context is cancelled.
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
