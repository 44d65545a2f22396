package query

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/csvquery/csvbrowse/internal/metacache"
	"github.com/csvquery/csvbrowse/internal/rowstream"
)

// Params holds query parameters. Bounds (page size and limit caps) are the
// caller's policy; the engine accepts any positive values.
type Params struct {
	Page     int    // 1-based page number
	PageSize int    // rows per page
	Search   string // optional case-insensitive substring filter
	Limit    int    // maximum matches for Search
}

// StartIndex is the number of rows (matching rows when searching) that
// precede the requested page.
func (p Params) StartIndex() int {
	return (p.Page - 1) * p.PageSize
}

func (p Params) validatePage() error {
	if p.Page < 1 {
		return invalidf("page must be >= 1, got %d", p.Page)
	}
	if p.PageSize < 1 {
		return invalidf("pageSize must be >= 1, got %d", p.PageSize)
	}
	if p.Page-1 > math.MaxInt/p.PageSize {
		return invalidf("page %d out of range", p.Page)
	}
	return nil
}

// scanState is where a single query is in its lifecycle. Only
// stateStreaming holds a file handle; every transition out of it releases
// the handle.
type scanState int

const (
	stateIdle scanState = iota
	stateStreaming
	stateEarlyTerminated
	stateExhausted
	stateFailed
)

func (s scanState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStreaming:
		return "streaming"
	case stateEarlyTerminated:
		return "early_terminated"
	case stateExhausted:
		return "exhausted"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithReaderOptions sets the delimited-text decoding options.
func WithReaderOptions(opts rowstream.Options) Option {
	return func(e *Engine) {
		e.readOpts = opts
	}
}

// WithLogger sets the logger used for per-query debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine answers describe, page, search and count queries by streaming the
// file once per query. It is safe for concurrent use; queries share
// nothing but the metadata cache.
type Engine struct {
	opener    rowstream.Opener
	cache     *metacache.Cache
	readOpts  rowstream.Options
	logger    *slog.Logger
	describes singleflight.Group
	now       func() time.Time
}

// NewEngine creates a query engine reading through opener and caching
// metadata in cache.
func NewEngine(opener rowstream.Opener, cache *metacache.Cache, opts ...Option) *Engine {
	e := &Engine{
		opener: opener,
		cache:  cache,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe returns the header set and row count of fileID, scanning the
// whole file only when the cache has no entry. Concurrent first calls for
// the same file share one scan.
func (e *Engine) Describe(ctx context.Context, fileID string) (metacache.Entry, error) {
	if err := validateFileID(fileID); err != nil {
		return metacache.Entry{}, err
	}

	if entry, ok := e.cache.Get(fileID); ok {
		e.recordLookup(ctx, "hit")
		return entry, nil
	}
	e.recordLookup(ctx, "miss")

	// The shared scan must not die with whichever caller started it.
	scanCtx := context.WithoutCancel(ctx)
	ch := e.describes.DoChan(fileID, func() (any, error) {
		return e.describeScan(scanCtx, fileID)
	})

	select {
	case <-ctx.Done():
		return metacache.Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return metacache.Entry{}, res.Err
		}
		entry := res.Val.(metacache.Entry)
		entry.Headers = slices.Clone(entry.Headers)
		return entry, nil
	}
}

func (e *Engine) describeScan(ctx context.Context, fileID string) (metacache.Entry, error) {
	gen := e.cache.BeginScan(fileID)
	defer e.cache.EndScan(fileID)

	var entry metacache.Entry
	err := e.withStream(ctx, "describe", fileID, func(r *rowstream.Reader) (bool, error) {
		n, err := rowstream.Count(ctx, r)
		if err != nil {
			return false, err
		}
		entry = metacache.Entry{
			FileID:    fileID,
			Headers:   slices.Clone(r.Headers()),
			TotalRows: n,
			ScannedAt: e.now(),
		}
		return false, nil
	})
	if err != nil {
		return metacache.Entry{}, err
	}

	if !e.cache.PutIfGeneration(fileID, entry, gen) {
		e.logger.Debug("File invalidated during describe, not caching",
			slog.String("fileId", fileID))
	}
	return entry, nil
}

// GetPage returns page p.Page of p.PageSize rows, counting only rows that
// match p.Search when it is set. The scan stops as soon as the page is
// full. A page past the end of the data is empty, not an error.
func (e *Engine) GetPage(ctx context.Context, fileID string, p Params) ([]rowstream.Record, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	if err := p.validatePage(); err != nil {
		return nil, err
	}

	m := NewMatcher(p.Search)
	var rows []rowstream.Record
	err := e.withStream(ctx, "page", fileID, func(r *rowstream.Reader) (bool, error) {
		s := rowstream.Take(rowstream.Skip(rowstream.Filter(r, m.Predicate()), p.StartIndex()), p.PageSize)
		var err error
		rows, err = rowstream.Collect(ctx, s)
		return len(rows) == p.PageSize, err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Search returns up to limit rows containing text, in file order. The
// scan stops the moment the limit is reached.
func (e *Engine) Search(ctx context.Context, fileID, text string, limit int) ([]rowstream.Record, error) {
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, invalidf("search text is required")
	}
	if limit < 1 {
		return nil, invalidf("limit must be >= 1, got %d", limit)
	}

	m := NewMatcher(text)
	var rows []rowstream.Record
	err := e.withStream(ctx, "search", fileID, func(r *rowstream.Reader) (bool, error) {
		var err error
		rows, err = rowstream.Collect(ctx, rowstream.Take(rowstream.Filter(r, m.Predicate()), limit))
		return len(rows) == limit, err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountMatching returns the number of rows containing text. Without text
// it returns the cached total, describing the file first if needed.
// Filtered counts always read the entire file and are never cached.
func (e *Engine) CountMatching(ctx context.Context, fileID, text string) (int64, error) {
	if text == "" {
		entry, err := e.Describe(ctx, fileID)
		if err != nil {
			return 0, err
		}
		return entry.TotalRows, nil
	}
	if err := validateFileID(fileID); err != nil {
		return 0, err
	}

	m := NewMatcher(text)
	var n int64
	err := e.withStream(ctx, "count", fileID, func(r *rowstream.Reader) (bool, error) {
		var err error
		n, err = rowstream.Count(ctx, rowstream.Filter(r, m.Predicate()))
		return false, err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// OnFileDeleted drops cached metadata for fileID. A describe scan already
// in flight is detached so later callers start a fresh one instead of
// joining it.
func (e *Engine) OnFileDeleted(fileID string) {
	e.cache.Invalidate(fileID)
	e.describes.Forget(fileID)
	e.logger.Debug("Invalidated file metadata", slog.String("fileId", fileID))
}

// withStream opens one pass over fileID, hands it to run and releases it
// on every exit path. run reports whether it stopped before end of file.
func (e *Engine) withStream(ctx context.Context, op, fileID string, run func(*rowstream.Reader) (bool, error)) (err error) {
	state := stateIdle
	start := time.Now()

	r, err := rowstream.Open(ctx, e.opener, fileID, e.readOpts)
	if err != nil {
		e.finish(ctx, op, fileID, stateFailed, 0, start, err)
		return err
	}
	state = stateStreaming

	var early bool
	defer func() {
		closeErr := r.Close()
		switch {
		case err != nil:
			state = stateFailed
		case early:
			state = stateEarlyTerminated
			earlyStopCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("op", op)))
		default:
			state = stateExhausted
		}
		if closeErr != nil {
			e.logger.Warn("Failed to close row stream",
				slog.String("fileId", fileID), slog.Any("error", closeErr))
		}
		e.finish(ctx, op, fileID, state, r.RowsRead(), start, err)
	}()

	early, err = run(r)
	return err
}

func (e *Engine) finish(ctx context.Context, op, fileID string, state scanState, rows int64, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	queriesCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))

	attrs := []any{
		slog.String("op", op),
		slog.String("fileId", fileID),
		slog.String("state", state.String()),
		slog.Int64("rowsRead", rows),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	e.logger.Debug("Query resolved", attrs...)
}

func (e *Engine) recordLookup(ctx context.Context, result string) {
	cacheLookupsCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}
