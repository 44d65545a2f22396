package rowstream

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "name,age\nAlice,30\nBob,25\nCara,25\n"

func compressLZ4(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressGzip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFileOpener_Decompression(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		encode   func(*testing.T, []byte) []byte
	}{
		{"plain", "plain.csv", func(_ *testing.T, b []byte) []byte { return b }},
		{"lz4", "data.csv.lz4", compressLZ4},
		{"gzip", "data.csv.gz", compressGzip},
		{"zstd", "data.csv.zst", compressZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, tt.fileName), tt.encode(t, []byte(sampleCSV)), 0644))

			rc, err := FileOpener{Dir: dir}.Open(context.Background(), tt.fileName)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())

			assert.Equal(t, sampleCSV, string(got))
		})
	}
}

func TestFileOpener_NotFound(t *testing.T) {
	_, err := FileOpener{Dir: t.TempDir()}.Open(context.Background(), "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileOpener_CorruptGzip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv.gz"), []byte("not gzip"), 0644))

	_, err := FileOpener{Dir: dir}.Open(context.Background(), "bad.csv.gz")
	require.Error(t, err)
	assert.True(t, IsReadError(err))
}

func TestValidateFileID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"file-1.csv", false},
		{"data.csv.gz", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc/passwd", true},
		{"a/b.csv", true},
		{`a\b.csv`, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateFileID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFileID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
