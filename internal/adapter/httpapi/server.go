package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"medsight/internal/adapter/document"
	"medsight/internal/infra/config"
	"medsight/internal/infra/middleware"
	"medsight/internal/usecase"
)

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Assistant *usecase.Assistant
	Loader    *document.Loader
	Retrieval *usecase.ConversationRetrieval
	Logger    *slog.Logger
}

// Server is the JSON HTTP surface over the assistant.
type Server struct {
	cfg       config.ServerConfig
	deps      Deps
	logger    *slog.Logger
	startTime time.Time
	httpSrv   *http.Server

	mu        sync.Mutex
	boundAddr string
}

// NewServer creates a server. Missing Loader and Retrieval are defaulted.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Loader == nil {
		deps.Loader = document.NewLoader(0, cfg.MaxUploadBytes, deps.Logger)
	}
	if deps.Retrieval == nil {
		deps.Retrieval = usecase.NewConversationRetrieval()
	}
	return &Server{cfg: cfg, deps: deps, logger: deps.Logger, startTime: time.Now()}
}

// Handler returns the routed handler wrapped in the middleware chain. ctx
// bounds the rate limiter's background sweep.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/images", s.handleUploadImage)
	mux.HandleFunc("POST /v1/sessions/{id}/records", s.handleUploadRecord)
	mux.HandleFunc("POST /v1/sessions/{id}/query", s.handleQuery)

	return middleware.Chain(mux,
		middleware.RequestLog(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RequestsPerSecond,
			Burst:             s.cfg.Burst,
		}),
		middleware.MaxBody(s.cfg.MaxUploadBytes),
	)
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi listen: %w", err)
	}
	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.httpSrv = &http.Server{
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("http api listening", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
