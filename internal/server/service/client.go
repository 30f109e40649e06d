package service

import (
	"sync"
	"time"

	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

const clientQueueSize = 256

// Client is one connection to the service. Its connection is also the
// reply address events are pushed to once it registers.
type Client struct {
	ID         string
	conn       transport.Conn
	writer     *protocol.FrameWriter
	lastActive time.Time
	registered bool
	closed     bool
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewClient wraps an accepted connection
func NewClient(id string, conn transport.Conn, logger *zap.Logger) *Client {
	c := &Client{
		ID:         id,
		conn:       conn,
		lastActive: time.Now(),
		logger:     logger.With(zap.String("client", id)),
	}
	c.writer = protocol.NewFrameWriterWithConfig(conn.WriteFrame, clientQueueSize)
	c.writer.SetWriteErrorHandler(func(err error) {
		c.logger.Debug("Event write failed", zap.Error(err))
		c.Close()
	})
	return c
}

// Send queues an event for the client
func (c *Client) Send(op protocol.EventOpcode, data protocol.Bundle) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClientClosed
	}

	frame, err := protocol.NewEventFrame(op, data)
	if err != nil {
		return err
	}
	return c.writer.WriteFrame(frame)
}

// UpdateActivity updates the last activity timestamp
func (c *Client) UpdateActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now()
}

// LastActive returns when the client last sent a message
func (c *Client) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

func (c *Client) setRegistered(v bool) {
	c.mu.Lock()
	c.registered = v
	c.mu.Unlock()
}

// IsRegistered reports whether the client asked for events
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// Close flushes queued events and closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.writer.Close()
	c.conn.Close()

	c.logger.Debug("Client closed")
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
