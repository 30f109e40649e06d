package binding

import (
	"sync"

	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

// FrameSink receives inbound frames. It is the reply address the service
// delivers events to, and is called from the handle's read goroutine.
type FrameSink func(*protocol.Frame)

// Handle is one live bind to the tunnel service
type Handle interface {
	// Send queues a control message. It fails once the bind is gone.
	Send(op protocol.ControlOpcode, data protocol.Bundle) error
	// Done is closed when the bind is lost or released
	Done() <-chan struct{}
	// Target is the endpoint this handle is bound to
	Target() string
}

type channel struct {
	conn   transport.Conn
	target transport.Endpoint
	writer *protocol.FrameWriter
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newChannel(conn transport.Conn, target transport.Endpoint, sink FrameSink, logger *zap.Logger) *channel {
	c := &channel{
		conn:   conn,
		target: target,
		writer: protocol.NewFrameWriter(conn.WriteFrame),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("target", target.String())),
	}
	c.writer.SetWriteErrorHandler(func(err error) {
		c.logger.Debug("Write to service failed", zap.Error(err))
	})
	go c.readLoop(sink)
	return c
}

func (c *channel) readLoop(sink FrameSink) {
	defer c.markDone()

	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			if !transport.IsClosed(err) {
				c.logger.Warn("Service connection read failed", zap.Error(err))
			}
			return
		}
		if sink != nil {
			sink(frame)
		}
	}
}

func (c *channel) markDone() {
	c.once.Do(func() { close(c.done) })
}

func (c *channel) Send(op protocol.ControlOpcode, data protocol.Bundle) error {
	frame, err := protocol.NewControlFrame(op, data)
	if err != nil {
		return err
	}
	return c.writer.WriteFrame(frame)
}

func (c *channel) Done() <-chan struct{} {
	return c.done
}

func (c *channel) Target() string {
	return c.target.String()
}

// release flushes queued messages and drops the bind
func (c *channel) release() {
	c.writer.Close()
	c.conn.Close()
	c.markDone()
}
