package rowstream

import (
	"context"
	"errors"
	"io"
)

// Stream is a pull-based sequence of records. Next returns io.EOF once the
// sequence is exhausted.
type Stream interface {
	Next(ctx context.Context) (Record, error)
}

// Predicate decides whether a record stays in a filtered stream.
type Predicate func(Record) bool

type filterStream struct {
	src  Stream
	keep Predicate
}

// Filter yields only the records of src for which keep returns true. A nil
// predicate keeps everything.
func Filter(src Stream, keep Predicate) Stream {
	if keep == nil {
		return src
	}
	return &filterStream{src: src, keep: keep}
}

func (f *filterStream) Next(ctx context.Context) (Record, error) {
	for {
		rec, err := f.src.Next(ctx)
		if err != nil {
			return Record{}, err
		}
		if f.keep(rec) {
			return rec, nil
		}
	}
}

type skipStream struct {
	src     Stream
	pending int
}

// Skip discards the first n records of src.
func Skip(src Stream, n int) Stream {
	if n <= 0 {
		return src
	}
	return &skipStream{src: src, pending: n}
}

func (s *skipStream) Next(ctx context.Context) (Record, error) {
	for s.pending > 0 {
		if _, err := s.src.Next(ctx); err != nil {
			return Record{}, err
		}
		s.pending--
	}
	return s.src.Next(ctx)
}

type takeStream struct {
	src       Stream
	remaining int
}

// Take yields at most n records of src. Once n records have been returned
// it reports io.EOF without pulling from src again.
func Take(src Stream, n int) Stream {
	return &takeStream{src: src, remaining: n}
}

func (t *takeStream) Next(ctx context.Context) (Record, error) {
	if t.remaining <= 0 {
		return Record{}, io.EOF
	}
	rec, err := t.src.Next(ctx)
	if err != nil {
		return Record{}, err
	}
	t.remaining--
	return rec, nil
}

// Collect drains s into a slice. On error the partial result is discarded.
func Collect(ctx context.Context, s Stream) ([]Record, error) {
	out := []Record{}
	for {
		rec, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, rec)
	}
}

// Count drains s and returns how many records it yielded.
func Count(ctx context.Context, s Stream) (int64, error) {
	var n int64
	for {
		_, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return 0, err
		}
		n++
	}
}
