package rowstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Opener yields a fresh byte stream for a file identity. Each call must
// return an independent handle; readers never share a read position.
type Opener interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, fileID string) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return f(ctx, fileID)
}

// FileOpener opens identities as file names inside Dir. Names ending in
// .lz4, .gz or .zst are decompressed on the fly.
type FileOpener struct {
	Dir string
}

var _ Opener = FileOpener{}

// ValidateFileID rejects identities that are empty or would escape the
// directory they are resolved against.
func ValidateFileID(fileID string) error {
	if fileID == "" || fileID == "." || fileID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
	}
	if strings.ContainsAny(fileID, `/\`) || filepath.Base(fileID) != fileID {
		return fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
	}
	return nil
}

// Path resolves fileID to its location on disk.
func (o FileOpener) Path(fileID string) (string, error) {
	if err := ValidateFileID(fileID); err != nil {
		return "", err
	}
	return filepath.Join(o.Dir, fileID), nil
}

func (o FileOpener) Open(_ context.Context, fileID string) (io.ReadCloser, error) {
	path, err := o.Path(fileID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, &ReadError{FileID: fileID, Err: err}
	}
	adviseSequential(f)

	rc, err := decompress(fileID, f)
	if err != nil {
		_ = f.Close()
		return nil, &ReadError{FileID: fileID, Err: err}
	}
	return rc, nil
}

// decompress wraps f in a decoder chosen by the name's extension.
func decompress(name string, f *os.File) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".lz4":
		return &stackedReadCloser{Reader: lz4.NewReader(f), closers: []io.Closer{f}}, nil

	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return &stackedReadCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil

	case ".zst", ".zstd":
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return &stackedReadCloser{Reader: dec, closers: []io.Closer{dec.IOReadCloser(), f}}, nil

	default:
		return f, nil
	}
}

// stackedReadCloser reads from a decoder and closes the decoder and the
// file underneath it.
type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
