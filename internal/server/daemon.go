package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/store"
)

// maxRequestBytes bounds a single request line.
const maxRequestBytes = 1 << 20

// DaemonConfig holds configuration for the Unix socket daemon.
type DaemonConfig struct {
	SocketPath     string        `mapstructure:"socket_path"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// DefaultDaemonConfig returns the daemon settings used when none are
// configured.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		SocketPath:     "/tmp/csvbrowse.sock",
		MaxConcurrency: 50,
		IdleTimeout:    30 * time.Second,
	}
}

// UDSDaemon answers JSON-lines requests on a Unix domain socket. Each
// connection may send any number of requests; each gets one response line.
type UDSDaemon struct {
	config DaemonConfig
	limits Limits
	engine *query.Engine
	store  *store.Store
	logger *slog.Logger

	listener net.Listener
	sem      chan struct{}
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	started  time.Time
	active   atomic.Int64
	requests atomic.Int64
}

// NewUDSDaemon creates a new Unix socket daemon.
func NewUDSDaemon(cfg DaemonConfig, limits Limits, engine *query.Engine, st *store.Store, logger *slog.Logger) *UDSDaemon {
	def := DefaultDaemonConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = def.SocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &UDSDaemon{
		config:   cfg,
		limits:   limits,
		engine:   engine,
		store:    st,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		shutdown: make(chan struct{}),
	}
}

// Listen binds the socket, replacing a stale socket file.
func (d *UDSDaemon) Listen() error {
	if _, err := os.Stat(d.config.SocketPath); err == nil {
		if err := os.Remove(d.config.SocketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", d.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", d.config.SocketPath, err)
	}
	d.listener = listener
	d.started = time.Now()
	return nil
}

// Run accepts connections until ctx is cancelled, then waits for open
// connections to finish. Listen is called first if it has not been.
func (d *UDSDaemon) Run(ctx context.Context) error {
	if d.listener == nil {
		if err := d.Listen(); err != nil {
			return err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			d.Shutdown()
		case <-d.shutdown:
		}
	}()

	d.logger.Info("Socket daemon started",
		slog.String("socket", d.config.SocketPath),
		slog.Int("maxConcurrency", d.config.MaxConcurrency))

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				d.wg.Wait()
				_ = os.Remove(d.config.SocketPath)
				d.logger.Info("Socket daemon shutdown complete")
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			d.logger.Error("Accept error", slog.Any("error", err))
			continue
		}

		d.wg.Add(1)
		go d.handleConnection(ctx, conn)
	}
}

// Shutdown stops accepting connections. Run returns once in-flight
// connections are done.
func (d *UDSDaemon) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.shutdown)
		if d.listener != nil {
			_ = d.listener.Close()
		}
	})
}

// handleConnection processes a single client connection.
func (d *UDSDaemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer func() { _ = conn.Close() }()

	// Acquire worker slot
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.shutdown:
		return
	}
	d.active.Add(1)
	defer d.active.Add(-1)

	d.serve(ctx, conn)
}

// serve reads request lines from conn until EOF, idle timeout or shutdown.
func (d *UDSDaemon) serve(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		select {
		case <-d.shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(d.config.IdleTimeout))

		line, err := readLine(reader)
		if err != nil {
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		response := d.processRequest(ctx, line)

		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(append(response, '\n')); err != nil {
			return
		}
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxRequestBytes {
			return nil, errors.New("request line too long")
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

// DaemonRequest is one JSON request line.
type DaemonRequest struct {
	Action   string `json:"action"`
	FileID   string `json:"fileId,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
	Search   string `json:"search,omitempty"`
	Query    string `json:"q,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// processRequest handles a single JSON request.
func (d *UDSDaemon) processRequest(ctx context.Context, data []byte) []byte {
	d.requests.Add(1)

	var req DaemonRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.errorResponse("invalid JSON: " + err.Error())
	}

	switch req.Action {
	case "ping":
		return d.successResponse(map[string]any{"pong": true})
	case "describe":
		return d.handleDescribe(ctx, req)
	case "rows":
		return d.handleRows(ctx, req)
	case "search":
		return d.handleSearch(ctx, req)
	case "count":
		return d.handleCount(ctx, req)
	case "delete":
		return d.handleDelete(req)
	case "status":
		return d.handleStatus()
	default:
		return d.errorResponse("unknown action: " + req.Action)
	}
}

func (d *UDSDaemon) handleDescribe(ctx context.Context, req DaemonRequest) []byte {
	entry, err := d.engine.Describe(ctx, req.FileID)
	if err != nil {
		return d.queryErrorResponse(err)
	}
	return d.successResponse(map[string]any{
		"headers":   entry.Headers,
		"totalRows": entry.TotalRows,
	})
}

func (d *UDSDaemon) handleRows(ctx context.Context, req DaemonRequest) []byte {
	params := query.Params{
		Page:     req.Page,
		PageSize: d.limits.PageSize(req.PageSize),
		Search:   req.Search,
	}
	if params.Page == 0 {
		params.Page = 1
	}

	rows, err := d.engine.GetPage(ctx, req.FileID, params)
	if err != nil {
		return d.queryErrorResponse(err)
	}
	total, err := d.engine.CountMatching(ctx, req.FileID, params.Search)
	if err != nil {
		return d.queryErrorResponse(err)
	}
	return d.successResponse(map[string]any{
		"rows":       rows,
		"pagination": newPagination(params.Page, params.PageSize, total),
	})
}

func (d *UDSDaemon) handleSearch(ctx context.Context, req DaemonRequest) []byte {
	text := req.Query
	if text == "" {
		text = req.Search
	}
	if text == "" {
		return d.errorResponse("Search query is required")
	}

	results, err := d.engine.Search(ctx, req.FileID, text, d.limits.SearchLimit(req.Limit))
	if err != nil {
		return d.queryErrorResponse(err)
	}
	return d.successResponse(map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (d *UDSDaemon) handleCount(ctx context.Context, req DaemonRequest) []byte {
	text := req.Query
	if text == "" {
		text = req.Search
	}
	n, err := d.engine.CountMatching(ctx, req.FileID, text)
	if err != nil {
		return d.queryErrorResponse(err)
	}
	return d.successResponse(map[string]any{"count": n})
}

func (d *UDSDaemon) handleDelete(req DaemonRequest) []byte {
	if err := d.store.Delete(req.FileID); err != nil {
		return d.queryErrorResponse(err)
	}
	return d.successResponse(map[string]any{"success": true})
}

// handleStatus returns daemon status.
func (d *UDSDaemon) handleStatus() []byte {
	return d.successResponse(map[string]any{
		"status":      "running",
		"socketPath":  d.config.SocketPath,
		"uploadDir":   d.store.Dir(),
		"connections": d.active.Load(),
		"requests":    d.requests.Load(),
		"uptime":      time.Since(d.started).Round(time.Second).String(),
	})
}

func (d *UDSDaemon) queryErrorResponse(err error) []byte {
	switch classify(err) {
	case kindNotFound:
		return d.errorResponse("File not found")
	case kindInternal:
		d.logger.Error("Daemon request failed", slog.Any("error", err))
	}
	return d.errorResponse(err.Error())
}

// errorResponse creates an error JSON response.
func (d *UDSDaemon) errorResponse(msg string) []byte {
	b, _ := json.Marshal(map[string]any{
		"error": msg,
	})
	return b
}

// successResponse creates a success JSON response.
func (d *UDSDaemon) successResponse(data map[string]any) []byte {
	data["error"] = nil
	b, err := json.Marshal(data)
	if err != nil {
		return d.errorResponse("failed to encode response: " + err.Error())
	}
	return b
}
