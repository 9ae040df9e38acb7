// Package api exposes the read-only HTTP surface of serve mode: device
// status, scan history, and the SSE telemetry stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spectrum-scan/rfscan/internal/auth"
	"github.com/spectrum-scan/rfscan/internal/protocol"
	"github.com/spectrum-scan/rfscan/internal/scan"
	"github.com/spectrum-scan/rfscan/internal/store"
)

// DevicePort is what the status endpoint needs from a device session.
type DevicePort interface {
	Info() protocol.DeviceInfo
	Config() protocol.Config
}

// HistoryPort is what the scans endpoints need from the history store.
type HistoryPort interface {
	List(ctx context.Context) ([]store.Record, error)
	Get(ctx context.Context, id string) (*scan.Result, error)
}

// TelemetryPort is what the telemetry endpoint needs from the event hub.
type TelemetryPort interface {
	Subscribe(w http.ResponseWriter, r *http.Request) error
}

// Options wires the server's collaborators. Device, History and Telemetry
// may be nil; the matching endpoints then report UNAVAILABLE.
type Options struct {
	Device    DevicePort
	History   HistoryPort
	Telemetry TelemetryPort
	Auth      *auth.Middleware
	Logger    *zap.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the serve-mode HTTP server.
type Server struct {
	opts      Options
	log       *zap.Logger
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewMiddleware(nil)
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 120 * time.Second
	}
	// WriteTimeout stays zero by default: it would cut long-lived SSE
	// streams.
	return &Server{
		opts:      opts,
		log:       opts.Logger,
		startTime: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	viewer := func(h http.HandlerFunc) http.Handler {
		return s.opts.Auth.Require(auth.RoleViewer, h)
	}

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /api/v1/status", viewer(s.handleStatus))
	mux.Handle("GET /api/v1/scans", viewer(s.handleListScans))
	mux.Handle("GET /api/v1/scans/{id}", viewer(s.handleGetScan))
	mux.Handle("GET /api/v1/telemetry", viewer(s.handleTelemetry))
	return mux
}

// Start serves until Stop is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.Info("api server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Device == nil {
		WriteSuccess(w, map[string]any{"connected": false})
		return
	}

	info := s.opts.Device.Info()
	cfg := s.opts.Device.Config()
	WriteSuccess(w, map[string]any{
		"connected":      info.MainModel != protocol.ModelNone,
		"model":          info.MainModel.String(),
		"expansionModel": info.ExpansionModel.String(),
		"firmware":       info.Firmware,
		"window": map[string]any{
			"startMhz":   cfg.StartMHz(),
			"stopMhz":    cfg.StopMHz(),
			"sweepSteps": cfg.SweepSteps,
		},
		"limits": map[string]any{
			"minFreqKhz": cfg.MinFreqKHz,
			"maxFreqKhz": cfg.MaxFreqKHz,
			"maxSpanKhz": cfg.MaxSpanKHz,
		},
	})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"scan history is not configured")
		return
	}

	records, err := s.opts.History.List(r.Context())
	if err != nil {
		s.log.Error("list scans failed", zap.Error(err))
		WriteDomainError(w, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	WriteSuccess(w, map[string]any{"scans": records})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"scan history is not configured")
		return
	}

	res, err := s.opts.History.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("get scan failed", zap.Error(err))
		}
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, res)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.opts.Telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"telemetry is not configured")
		return
	}
	if err := s.opts.Telemetry.Subscribe(w, r); err != nil {
		s.log.Debug("telemetry subscription ended", zap.Error(err))
	}
}
