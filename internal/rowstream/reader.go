// Package rowstream turns an on-disk delimited-text file into a lazy,
// pull-based sequence of records.
//
// A Reader owns exactly one open file handle. It decodes the framing
// incrementally (quoted fields, escaped quotes, newlines inside quotes), so
// memory use does not grow with file size. Readers are not restartable: a
// new query opens a new Reader.
//
// Close must be called on every path out of a scan. Callers usually do
// that with defer right after Open:
//
//	r, err := rowstream.Open(ctx, opener, fileID, rowstream.Options{})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = r.Close() }()
package rowstream

import (
	"context"
	"encoding/csv"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const utf8BOM = "\xef\xbb\xbf"

// Options controls delimited-text decoding.
type Options struct {
	Comma            rune // field separator, ',' when zero
	LazyQuotes       bool // tolerate bare quotes instead of failing the scan
	TrimLeadingSpace bool
}

// Reader reads records from one file. It is not safe for concurrent use.
type Reader struct {
	fileID   string
	csv      *csv.Reader
	closer   io.Closer
	headers  []string
	cols     []int
	line     int
	rowsRead int64
	ragged   int64
	eof      bool
	closed   bool
}

var _ Stream = (*Reader)(nil)

// Open opens fileID through opener and reads its header row. On error the
// underlying handle has already been released.
func Open(ctx context.Context, opener Opener, fileID string, opts Options) (*Reader, error) {
	rc, err := opener.Open(ctx, fileID)
	if err != nil {
		return nil, err
	}

	r := NewReader(fileID, rc, opts)
	if err := r.readHeaders(); err != nil {
		_ = r.Close()
		return nil, err
	}

	scansOpenedCounter.Add(ctx, 1)
	return r, nil
}

// NewReader wraps an already open stream. The Reader takes ownership of rc
// and closes it on Close. Headers are read lazily by the first Next call.
func NewReader(fileID string, rc io.ReadCloser, opts Options) *Reader {
	cr := csv.NewReader(rc)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = opts.LazyQuotes
	cr.TrimLeadingSpace = opts.TrimLeadingSpace
	cr.FieldsPerRecord = -1 // ragged rows are conformed, not rejected

	return &Reader{
		fileID: fileID,
		csv:    cr,
		closer: rc,
	}
}

// readHeaders parses the first row as column headers. An empty file has an
// empty header set and no rows.
func (r *Reader) readHeaders() error {
	if r.headers != nil || r.eof {
		return nil
	}

	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.headers = []string{}
			r.eof = true
			return nil
		}
		return r.readError(err)
	}
	r.line, _ = r.csv.FieldPos(0)

	if len(fields) > 0 && len(fields[0]) >= len(utf8BOM) && fields[0][:len(utf8BOM)] == utf8BOM {
		fields[0] = fields[0][len(utf8BOM):]
	}
	r.headers = fields
	r.cols = objectColumns(fields)
	return nil
}

// FileID returns the identity this reader was opened for.
func (r *Reader) FileID() string {
	return r.fileID
}

// Headers returns the header set. It is valid once Open has returned.
func (r *Reader) Headers() []string {
	return r.headers
}

// RowsRead returns the number of data rows decoded so far.
func (r *Reader) RowsRead() int64 {
	return r.rowsRead
}

// Next returns the next record in file order, or io.EOF after the last one.
// A cancelled context stops the scan with the context's error.
func (r *Reader) Next(ctx context.Context) (Record, error) {
	if r.closed {
		return Record{}, io.EOF
	}
	if err := r.readHeaders(); err != nil {
		return Record{}, err
	}
	if r.eof {
		return Record{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			return Record{}, io.EOF
		}
		return Record{}, r.readError(err)
	}
	r.line, _ = r.csv.FieldPos(0)
	r.rowsRead++

	return Record{headers: r.headers, values: r.conform(fields), cols: r.cols}, nil
}

// conform pads short rows with empty cells and drops cells past the header
// width so every record has the header's column set.
func (r *Reader) conform(fields []string) []string {
	width := len(r.headers)
	if len(fields) == width {
		return fields
	}
	r.ragged++
	if len(fields) > width {
		return fields[:width:width]
	}
	for len(fields) < width {
		fields = append(fields, "")
	}
	return fields
}

func (r *Reader) readError(err error) error {
	line := r.line + 1
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line = pe.StartLine
	}
	return &ReadError{FileID: r.fileID, Line: line, Err: err}
}

// Close releases the file handle. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	ctx := context.Background()
	rowsReadCounter.Add(ctx, r.rowsRead)
	if r.ragged > 0 {
		rowsRaggedCounter.Add(ctx, r.ragged, otelmetric.WithAttributes(
			attribute.String("reason", "column_count_mismatch"),
		))
	}

	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	r.csv = nil
	return err
}
