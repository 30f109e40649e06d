// Package service is the background tunnel service clients bind to. It
// accepts framed connections, keeps a registry of registered clients and
// pushes tunnel state, statistics and exchange results to them.
package service

import (
	"context"
	"sync"
	"sync/atomic"

	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

// Config configures a Service
type Config struct {
	// Endpoint is the unix or tcp endpoint clients bind to
	Endpoint transport.Endpoint
	// WebSocketAddr optionally serves the same protocol over WebSocket
	WebSocketAddr string
	WebSocketPath string
	// VPN runs the engine in elevated (VPN) mode
	VPN bool
	// ExchangeKey is the base64 secretbox key for connection info
	// exchange; exchange requests fail without one
	ExchangeKey string
	Workers     int
	Engine      EngineConfig
}

// Service is one running tunnel service process
type Service struct {
	cfg      Config
	logger   *zap.Logger
	registry *Registry
	engine   *Engine
	sealer   *Sealer
	listener *Listener
	ws       *wsServer
	imported atomic.Int64

	// orders engine broadcasts against the initial replies to REGISTER
	pushMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New validates cfg and creates a Service
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Endpoint.Scheme != transport.SchemeUnix && cfg.Endpoint.Scheme != transport.SchemeTCP {
		return nil, transport.ErrUnsupportedScheme
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(logger),
		engine:   NewEngine(cfg.Engine, cfg.VPN, logger),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.ExchangeKey != "" {
		sealer, err := NewSealer(cfg.ExchangeKey)
		if err != nil {
			return nil, err
		}
		s.sealer = sealer
	}

	s.listener = NewListener(cfg.Endpoint, s.serveClient, cfg.Workers, logger)
	if cfg.WebSocketAddr != "" {
		s.ws = newWSServer(cfg.WebSocketAddr, cfg.WebSocketPath, s.listener.Serve, logger)
	}
	s.engine.SetHandlers(
		func(b protocol.Bundle) { s.broadcast(protocol.EvTunnelConnectionState, b) },
		func(b protocol.Bundle) { s.broadcast(protocol.EvDataTransferStats, b) },
	)
	return s, nil
}

// Start opens the endpoints and brings the engine up. The service runs
// until ctx is cancelled, Stop is called or a client sends STOP_SERVICE.
func (s *Service) Start(ctx context.Context) error {
	if err := s.listener.Start(); err != nil {
		return err
	}
	if s.ws != nil {
		if err := s.ws.start(); err != nil {
			s.listener.Stop()
			return err
		}
	}

	s.engine.Start(ctx)

	s.logger.Info("Tunnel service started",
		zap.String("endpoint", s.cfg.Endpoint.String()),
		zap.Bool("vpn", s.cfg.VPN),
	)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		s.shutdown()
		close(s.done)
	}()
	return nil
}

// Run starts the service and blocks until it has shut down
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-s.done
	return nil
}

// Stop asks the service to shut down
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once the service has shut down
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Endpoint returns the bound control endpoint. For tcp the address is
// the one actually bound, so port 0 resolves to the chosen port.
func (s *Service) Endpoint() transport.Endpoint {
	ep := s.cfg.Endpoint
	if ep.Scheme == transport.SchemeTCP {
		if addr := s.listener.Addr(); addr != nil {
			ep.Address = addr.String()
		}
	}
	return ep
}

// WebSocketURL returns the WebSocket endpoint URL, or "" when disabled
func (s *Service) WebSocketURL() string {
	if s.ws == nil {
		return ""
	}
	return s.ws.url()
}

// RegisteredClients returns the number of registered clients
func (s *Service) RegisteredClients() int {
	return s.registry.Count()
}

// shutdown reports the stopped state to registered clients before any
// connection is closed
func (s *Service) shutdown() {
	s.logger.Info("Shutting down tunnel service")
	s.engine.Stop()
	s.registry.Shutdown()
	if s.ws != nil {
		s.ws.stop()
	}
	s.listener.Stop()
	s.logger.Info("Tunnel service stopped")
}

// serveClient reads control messages from one connection until it closes
func (s *Service) serveClient(id string, conn transport.Conn) {
	client := NewClient(id, conn, s.logger)
	defer func() {
		s.registry.Unregister(id)
		client.Close()
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !transport.IsClosed(err) {
				s.logger.Warn("Client read failed",
					zap.String("client", id),
					zap.Error(err),
				)
			}
			return
		}
		client.UpdateActivity()
		s.handleControl(client, frame)
	}
}

func (s *Service) handleControl(client *Client, frame *protocol.Frame) {
	op := protocol.ControlOpcode(frame.Opcode)

	switch op {
	case protocol.OpRegister:
		s.pushMu.Lock()
		s.registry.Register(client)
		s.reply(client, protocol.EvTunnelConnectionState, s.engine.StateBundle())
		s.reply(client, protocol.EvKnownServerRegions, nil)
		s.pushMu.Unlock()

	case protocol.OpUnregister:
		s.registry.Unregister(client.ID)

	case protocol.OpStopService:
		s.logger.Info("Stop requested", zap.String("client", client.ID))
		s.Stop()

	case protocol.OpRestartService:
		s.logger.Info("Restart requested", zap.String("client", client.ID))
		s.engine.Restart()

	case protocol.OpExchangeExport:
		payload, err := s.exportEntry()
		if err != nil {
			s.logger.Warn("Connection info export failed", zap.Error(err))
		}
		s.reply(client, protocol.EvExchangeExportResponse,
			protocol.Bundle{protocol.KeyExchangeExportResponse: payload})

	case protocol.OpExchangeImport:
		ok := s.importEntry(frame)
		s.reply(client, protocol.EvExchangeImportResponse,
			protocol.Bundle{protocol.KeyExchangeImportResponse: ok})

	default:
		s.logger.Debug("Ignoring unrecognized control message",
			zap.String("client", client.ID),
			zap.Stringer("op", op),
		)
	}
}

func (s *Service) broadcast(op protocol.EventOpcode, data protocol.Bundle) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	s.registry.Broadcast(op, data)
}

func (s *Service) reply(client *Client, op protocol.EventOpcode, data protocol.Bundle) {
	if err := client.Send(op, data); err != nil {
		s.logger.Debug("Reply failed",
			zap.String("client", client.ID),
			zap.Stringer("op", op),
			zap.Error(err),
		)
	}
}

func (s *Service) exportEntry() (string, error) {
	if s.sealer == nil {
		return "", ErrNoExchangeKey
	}
	if !s.engine.IsConnected() {
		return "", ErrNotConnected
	}
	return s.sealer.ExportEntry(s.cfg.Engine, s.cfg.VPN)
}

func (s *Service) importEntry(frame *protocol.Frame) bool {
	if s.sealer == nil {
		s.logger.Warn("Connection info import failed", zap.Error(ErrNoExchangeKey))
		return false
	}
	data, err := frame.Bundle()
	if err != nil {
		s.logger.Warn("Malformed import request", zap.Error(err))
		return false
	}
	payload, _ := data.String(protocol.KeyExchangeImport)
	region, err := s.sealer.ImportEntry(payload)
	if err != nil {
		s.logger.Warn("Connection info import failed", zap.Error(err))
		return false
	}
	n := s.imported.Add(1)
	s.logger.Info("Imported server entry",
		zap.String("region", region),
		zap.Int64("imported", n),
	)
	return true
}
