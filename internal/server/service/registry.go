package service

import (
	"sync"

	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

// Registry tracks the registered clients events are pushed to
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register records c as a reply address. Registering twice is harmless.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c
	c.setRegistered(true)

	r.logger.Info("Client registered",
		zap.String("client", c.ID),
		zap.Int("total_clients", len(r.clients)),
	)
}

// Unregister removes a client. The connection stays open.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[id]; ok {
		c.setRegistered(false)
		delete(r.clients, id)

		r.logger.Info("Client unregistered",
			zap.String("client", id),
			zap.Int("total_clients", len(r.clients)),
		)
	}
}

// Get retrieves a registered client
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// List returns all registered clients
func (r *Registry) List() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast pushes an event to every registered client. Clients that
// cannot take it are dropped.
func (r *Registry) Broadcast(op protocol.EventOpcode, data protocol.Bundle) {
	for _, c := range r.List() {
		if err := c.Send(op, data); err != nil {
			r.logger.Debug("Dropping unreachable client",
				zap.String("client", c.ID),
				zap.Stringer("op", op),
				zap.Error(err),
			)
			r.Unregister(c.ID)
		}
	}
}

// Shutdown flushes and closes every registered client
func (r *Registry) Shutdown() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	r.logger.Info("Shutting down client registry",
		zap.Int("active_clients", len(clients)),
	)

	for _, c := range clients {
		c.setRegistered(false)
		c.Close()
	}
}
