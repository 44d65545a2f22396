package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/rowstream"
	"github.com/csvquery/csvbrowse/internal/store"
)

// multipartOverhead is the body allowance on top of the file size limit
// for multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// HTTPConfig holds HTTP listener settings.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultHTTPConfig returns the listener settings used when none are
// configured.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:            ":3000",
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// HTTPServer serves the file browsing API.
type HTTPServer struct {
	cfg    HTTPConfig
	limits Limits
	engine *query.Engine
	store  *store.Store
	logger *slog.Logger
}

// NewHTTPServer creates an API server. Deletion hooks between store and
// engine are the caller's to register.
func NewHTTPServer(cfg HTTPConfig, limits Limits, engine *query.Engine, st *store.Store, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		cfg:    cfg,
		limits: limits,
		engine: engine,
		store:  st,
		logger: logger,
	}
}

// Handler returns the API routes wrapped in CORS handling.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/file/{fileId}/headers", s.handleHeaders)
	mux.HandleFunc("GET /api/file/{fileId}/rows", s.handleRows)
	mux.HandleFunc("GET /api/file/{fileId}/search", s.handleSearch)
	mux.HandleFunc("DELETE /api/file/{fileId}", s.handleDelete)
	mux.HandleFunc("GET /healthz", s.healthCheck)
	return withCORS(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Starting HTTP API", slog.String("addr", s.cfg.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP API")
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
		if r.Method == http.MethodOptions {
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Success   bool     `json:"success"`
	FileID    string   `json:"fileId"`
	Headers   []string `json:"headers"`
	TotalRows int64    `json:"totalRows"`
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.store.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "No file uploaded", err)
		return
	}

	part, err := nextFilePart(mr)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "File too large", err)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "No file uploaded", err)
		return
	}
	defer part.Close()

	fileID, err := s.store.Save(ctx, part.FileName(), part)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = fmt.Errorf("%w: %w", store.ErrTooLarge, err)
		}
		s.writeQueryError(w, r, err)
		return
	}

	entry, err := s.engine.Describe(ctx, fileID)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:   true,
		FileID:    fileID,
		Headers:   entry.Headers,
		TotalRows: entry.TotalRows,
	})
}

// nextFilePart returns the first part of the form named "file".
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("missing file field")
			}
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func (s *HTTPServer) handleHeaders(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Describe(r.Context(), r.PathValue("fileId"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"headers": entry.Headers})
}

type rowsResponse struct {
	Rows       []rowstream.Record `json:"rows"`
	Pagination Pagination         `json:"pagination"`
}

func (s *HTTPServer) handleRows(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")
	q := r.URL.Query()

	params := query.Params{
		Page:     atoiOrZero(q.Get("page")),
		PageSize: s.limits.PageSize(atoiOrZero(q.Get("pageSize"))),
		Search:   q.Get("search"),
	}
	if params.Page == 0 {
		params.Page = 1
	}

	var (
		rows  []rowstream.Record
		total int64
	)
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		rows, err = s.engine.GetPage(gctx, fileID, params)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.engine.CountMatching(gctx, fileID, params.Search)
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rowsResponse{
		Rows:       rows,
		Pagination: newPagination(params.Page, params.PageSize, total),
	})
}

type searchResponse struct {
	Results []rowstream.Record `json:"results"`
	Count   int                `json:"count"`
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")
	q := r.URL.Query()

	text := q.Get("q")
	if text == "" {
		s.writeError(w, r, http.StatusBadRequest, "Search query is required", nil)
		return
	}
	limit := s.limits.SearchLimit(atoiOrZero(q.Get("limit")))

	results, err := s.engine.Search(r.Context(), fileID, text, limit)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("fileId")); err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *HTTPServer) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch classify(err) {
	case kindInvalid:
		s.writeError(w, r, http.StatusBadRequest, err.Error(), err)
	case kindNotFound:
		s.writeError(w, r, http.StatusNotFound, "File not found", err)
	case kindTooLarge:
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "File too large", err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err.Error(), err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "Request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("error", err))

	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
