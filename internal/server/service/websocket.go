package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"tunnelsync/internal/shared/transport"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultWebSocketPath = "/ipc"

// wsServer accepts service connections over WebSocket, one frame per
// binary message
type wsServer struct {
	addr     string
	path     string
	serve    func(transport.Conn)
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
}

func newWSServer(addr, path string, serve func(transport.Conn), logger *zap.Logger) *wsServer {
	if path == "" {
		path = DefaultWebSocketPath
	}
	return &wsServer{
		addr:  addr,
		path:  path,
		serve: serve,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

func (s *wsServer) start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server failed", zap.Error(err))
		}
	}()

	s.logger.Info("WebSocket endpoint started", zap.String("url", s.url()))
	return nil
}

func (s *wsServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	s.serve(transport.NewWebSocketConn(conn))
}

func (s *wsServer) url() string {
	if s.listener == nil {
		return ""
	}
	return "ws://" + s.listener.Addr().String() + s.path
}

func (s *wsServer) stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Debug("WebSocket server shutdown", zap.Error(err))
	}
}
