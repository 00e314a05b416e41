// Package server exposes the chat engine and the memory manager over a
// WebSocket JSON API, with an HTTP health endpoint and a gRPC health
// service for orchestrators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/becomeliminal/friday/engine"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the name reported by the gRPC health service.
const HealthService = "friday"

// Config configures the server.
type Config struct {
	// Engine answers chat frames. Required.
	Engine *engine.Engine

	// GRPCAddr is where the gRPC health service listens. Empty disables it.
	GRPCAddr string

	// GracefulTimeout bounds shutdown. Default: 10 seconds.
	GracefulTimeout time.Duration

	// Logger defaults to logging.Default().
	Logger *slog.Logger
}

// Server serves the WebSocket API.
type Server struct {
	engine   *engine.Engine
	memory   *memory.Manager
	config   Config
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	health   *health.Server
}

// New creates a server. The engine must carry a memory manager.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, goerr.New("server needs an engine")
	}
	if cfg.Engine.Memory() == nil {
		return nil, goerr.New("server needs an engine with memory")
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Server{
		engine: cfg.Engine,
		memory: cfg.Engine.Memory(),
		config: cfg,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		health: health.NewServer(),
	}
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s, nil
}

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// HealthServer returns the gRPC health service.
func (s *Server) HealthServer() *health.Server {
	return s.health
}

// Run serves HTTP on addr, and gRPC health on Config.GRPCAddr, until ctx
// is cancelled. Cancellation is a clean shutdown and returns nil.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", addr))
	}
	return s.Serve(ctx, lis)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logging.With(context.Background(), s.logger) },
	}
	go func() {
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- goerr.Wrap(err, "http server failed")
		}
	}()

	var grpcServer *grpc.Server
	if s.config.GRPCAddr != "" {
		glis, err := net.Listen("tcp", s.config.GRPCAddr)
		if err != nil {
			_ = httpServer.Close()
			return goerr.Wrap(err, "failed to listen for grpc", goerr.V("addr", s.config.GRPCAddr))
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
		go func() {
			if err := grpcServer.Serve(glis); err != nil {
				errCh <- goerr.Wrap(err, "grpc server failed")
			}
		}()
		s.logger.Info("grpc health listening", "addr", glis.Addr().String())
	}

	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("friday listening", "addr", lis.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown timed out", "error", err)
		_ = httpServer.Close()
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	s.logger.Info("friday stopped")
	return runErr
}

type healthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK

	n, err := s.memory.Stats(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		code = http.StatusServiceUnavailable
	}
	resp.Records = n

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
