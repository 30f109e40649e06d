package service

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"tunnelsync/internal/shared/pool"
	"tunnelsync/internal/shared/transport"
	"tunnelsync/internal/shared/utils"

	"go.uber.org/zap"
)

// ConnHandler serves one connection until it closes
type ConnHandler func(id string, conn transport.Conn)

// Listener accepts framed connections on a unix or tcp endpoint
type Listener struct {
	endpoint    transport.Endpoint
	handler     ConnHandler
	logger      *zap.Logger
	listener    net.Listener
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	connections map[string]transport.Conn
	connMu      sync.RWMutex
	workerPool  *pool.WorkerPool
}

// NewListener creates a listener. Connections are served on a handoff
// pool of workers.
func NewListener(ep transport.Endpoint, handler ConnHandler, workers int, logger *zap.Logger) *Listener {
	return &Listener{
		endpoint:    ep,
		handler:     handler,
		logger:      logger,
		stopCh:      make(chan struct{}),
		connections: make(map[string]transport.Conn),
		workerPool:  pool.NewHandoffPool(workers),
	}
}

// Start binds the endpoint and accepts in the background
func (l *Listener) Start() error {
	ln, err := transport.Listen(l.endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.endpoint, err)
	}
	l.listener = ln

	l.logger.Info("Service listener started",
		zap.String("endpoint", l.endpoint.String()),
	)

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		netConn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		conn := transport.NewStreamConn(netConn)
		l.wg.Add(1)
		if !l.workerPool.Submit(func() {
			defer l.wg.Done()
			l.Serve(conn)
		}) {
			l.wg.Done()
			conn.Close()
		}
	}
}

// Serve tracks conn and runs the handler on it. Used directly for
// connections accepted elsewhere, such as WebSocket upgrades.
func (l *Listener) Serve(conn transport.Conn) {
	id := utils.GenerateID()

	l.connMu.Lock()
	select {
	case <-l.stopCh:
		l.connMu.Unlock()
		conn.Close()
		return
	default:
	}
	l.connections[id] = conn
	l.connMu.Unlock()

	defer func() {
		l.connMu.Lock()
		delete(l.connections, id)
		l.connMu.Unlock()
		conn.Close()
	}()

	l.logger.Debug("New connection",
		zap.String("conn", id),
		zap.String("remote_addr", conn.RemoteAddr()),
	)
	l.handler(id, conn)
}

// Stop stops accepting and closes every connection
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.logger.Info("Stopping service listener")
		close(l.stopCh)

		if l.listener != nil {
			if err := l.listener.Close(); err != nil {
				l.logger.Debug("Failed to close listener", zap.Error(err))
			}
		}

		l.connMu.Lock()
		for _, conn := range l.connections {
			conn.Close()
		}
		l.connMu.Unlock()

		l.wg.Wait()
		l.workerPool.Close()

		l.logger.Info("Service listener stopped")
	})
}

// ActiveConnections returns the number of open connections
func (l *Listener) ActiveConnections() int {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return len(l.connections)
}
