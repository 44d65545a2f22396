// Package server exposes the query engine over HTTP and over a Unix socket.
package server

import (
	"errors"
	"strconv"

	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/rowstream"
	"github.com/csvquery/csvbrowse/internal/store"
)

// Limits bounds the page sizes and search limits clients may ask for.
type Limits struct {
	DefaultPageSize    int `mapstructure:"default_page_size"`
	MaxPageSize        int `mapstructure:"max_page_size"`
	DefaultSearchLimit int `mapstructure:"default_search_limit"`
	MaxSearchLimit     int `mapstructure:"max_search_limit"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		DefaultPageSize:    50,
		MaxPageSize:        100,
		DefaultSearchLimit: 100,
		MaxSearchLimit:     500,
	}
}

// PageSize resolves a requested page size. Zero means the default.
func (l Limits) PageSize(n int) int {
	if n == 0 {
		n = l.DefaultPageSize
	}
	return min(n, l.MaxPageSize)
}

// SearchLimit resolves a requested search limit. Zero means the default.
func (l Limits) SearchLimit(n int) int {
	if n == 0 {
		n = l.DefaultSearchLimit
	}
	return min(n, l.MaxSearchLimit)
}

// atoiOrZero parses a query parameter, treating anything unparsable as
// absent.
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Pagination describes where a page sits in the full result.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.TotalPages = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return p
}

// errorKind classifies an error for a client response.
type errorKind int

const (
	kindInternal errorKind = iota
	kindInvalid
	kindNotFound
	kindTooLarge
)

func classify(err error) errorKind {
	switch {
	case errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, rowstream.ErrInvalidFileID),
		errors.Is(err, store.ErrUnsupportedType):
		return kindInvalid
	case errors.Is(err, query.ErrNotFound):
		return kindNotFound
	case errors.Is(err, store.ErrTooLarge):
		return kindTooLarge
	default:
		return kindInternal
	}
}
