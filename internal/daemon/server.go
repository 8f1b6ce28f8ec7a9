package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/rentchat/internal/api"
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/config"
	"github.com/matheus3301/rentchat/internal/control"
	"github.com/matheus3301/rentchat/internal/gateway"
	"github.com/matheus3301/rentchat/internal/instance"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/store"
	"github.com/matheus3301/rentchat/internal/upload"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const redisDialTimeout = 5 * time.Second

// Server manages the gRPC control server lifecycle for an instance.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the instance's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, svc *control.Service) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = instance.SocketPath(p.InstanceName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	control.Register(srv, svc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

// HTTPServer serves REST, uploads and the websocket endpoint.
type HTTPServer struct {
	srv    *http.Server
	addr   string
	lis    net.Listener
	logger *zap.Logger
}

// NewHTTPServer wires the gin engine.
func NewHTTPServer(
	cfg *config.Config,
	db *store.DB,
	v *auth.Verifier,
	uploads *upload.Store,
	gw *gateway.Server,
	b *bus.Bus,
	m *status.Machine,
	logger *zap.Logger,
) *HTTPServer {
	engine := api.New(api.Deps{
		DB:             db,
		Verifier:       v,
		Uploads:        uploads,
		Realtime:       gw,
		Bus:            b,
		Machine:        m,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	})
	return &HTTPServer{
		srv:    &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second},
		addr:   cfg.HTTP.Addr,
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (h *HTTPServer) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.lis = lis
	h.logger.Info("http server starting", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := h.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HTTPServer) Addr() string {
	if h.lis != nil {
		return h.lis.Addr().String()
	}
	return h.addr
}

// Stop stops accepting requests and waits for in-flight ones.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("http server stopping")
	return h.srv.Shutdown(ctx)
}
