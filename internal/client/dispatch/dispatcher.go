// Package dispatch delivers control messages to the tunnel service for
// one registration lifetime.
package dispatch

import (
	"sync"

	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

// Sender delivers one control message over a bind
type Sender interface {
	Send(op protocol.ControlOpcode, data protocol.Bundle) error
	Target() string
}

type message struct {
	op   protocol.ControlOpcode
	data protocol.Bundle
}

// Dispatcher keeps every message of a registration in an ordered replay
// buffer. Messages sent before a bind exists wait in the buffer; a bind
// that attaches receives the whole buffer in order, then live messages.
type Dispatcher struct {
	mu      sync.Mutex
	buffer  []message
	current Sender
	closed  bool
	logger  *zap.Logger
}

// New creates a Dispatcher for one registration
func New(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Send appends a message and forwards it to the attached bind, if any.
// Messages sent after Close are dropped.
func (d *Dispatcher) Send(op protocol.ControlOpcode, data protocol.Bundle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Debug("Dropping message for closed registration", zap.Stringer("op", op))
		return
	}
	msg := message{op: op, data: data}
	d.buffer = append(d.buffer, msg)
	if d.current != nil {
		d.deliver(d.current, msg)
	}
}

// Attach makes s the active bind, replacing any earlier one, and replays
// the buffer onto it
func (d *Dispatcher) Attach(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.current = s
	for _, msg := range d.buffer {
		d.deliver(s, msg)
	}
}

// Close cancels pending dispatch
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.current = nil
	d.buffer = nil
}

// pending returns the number of buffered messages
func (d *Dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// deliver sends one message. A stale bind is not fatal: the failure is
// logged and the bind's own completion reports the lost service.
func (d *Dispatcher) deliver(s Sender, msg message) {
	if err := s.Send(msg.op, msg.data); err != nil {
		d.logger.Warn("Service message delivery failed",
			zap.Stringer("op", msg.op),
			zap.String("target", s.Target()),
			zap.Error(err),
		)
	}
}
