// Package binding establishes binds to the tunnel service and exposes
// each bind as a stream of handles.
package binding

import (
	"context"
	"errors"
	"time"

	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

const (
	// DefaultAttachWindow bounds a bind requested without a timeout
	DefaultAttachWindow = 2 * time.Second
	// DefaultPollInterval is the retry interval while the service is not
	// yet accepting connections
	DefaultPollInterval = 50 * time.Millisecond
)

// ErrNoTargets is returned by a bind attempt when no endpoint is configured
var ErrNoTargets = errors.New("no service targets configured")

// DialFunc opens a frame connection to one endpoint
type DialFunc func(ctx context.Context, ep transport.Endpoint) (transport.Conn, error)

// Config configures a Source
type Config struct {
	// Targets are raced on every bind; the first to accept wins.
	// Usually the control endpoint and the elevated (VPN) endpoint.
	Targets      []transport.Endpoint
	AttachWindow time.Duration
	PollInterval time.Duration
	Dial         DialFunc
}

// Source binds to the tunnel service
type Source struct {
	targets      []transport.Endpoint
	attachWindow time.Duration
	pollInterval time.Duration
	dial         DialFunc
	logger       *zap.Logger
}

// NewSource creates a Source
func NewSource(cfg Config, logger *zap.Logger) *Source {
	s := &Source{
		targets:      append([]transport.Endpoint(nil), cfg.Targets...),
		attachWindow: cfg.AttachWindow,
		pollInterval: cfg.PollInterval,
		dial:         cfg.Dial,
		logger:       logger,
	}
	if s.attachWindow <= 0 {
		s.attachWindow = DefaultAttachWindow
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.dial == nil {
		s.dial = transport.Dial
	}
	return s
}

// BindTimeout returns the bind timeout suited to the configured targets:
// the slowest transport decides.
func (s *Source) BindTimeout() time.Duration {
	var timeout time.Duration
	for _, t := range s.targets {
		if d := t.BindTimeout(); d > timeout {
			timeout = d
		}
	}
	if timeout == 0 {
		timeout = time.Second
	}
	return timeout
}

// Connect binds to the service and returns the handle stream. The stream
// carries at most one handle and is closed when the bind is lost, when
// ctx is cancelled, or when no target accepted within timeout (the
// attach window if timeout <= 0). A stream closed without a handle means
// the service is not running. The bind is always released when the
// stream closes.
func (s *Source) Connect(ctx context.Context, timeout time.Duration, sink FrameSink) <-chan Handle {
	out := make(chan Handle, 1)

	go func() {
		defer close(out)

		window := timeout
		if window <= 0 {
			window = s.attachWindow
		}
		bindCtx, cancel := context.WithTimeout(ctx, window)
		conn, target, err := s.race(bindCtx)
		cancel()
		if err != nil {
			s.logger.Debug("Service unreachable",
				zap.Duration("window", window),
				zap.Error(err),
			)
			return
		}

		ch := newChannel(conn, target, sink, s.logger)
		defer ch.release()

		s.logger.Debug("Bound to service", zap.String("target", target.String()))

		select {
		case out <- ch:
		case <-ctx.Done():
			return
		}

		select {
		case <-ch.Done():
			s.logger.Debug("Service bind lost", zap.String("target", target.String()))
		case <-ctx.Done():
		}
	}()

	return out
}

type dialResult struct {
	conn   transport.Conn
	target transport.Endpoint
	err    error
}

// race dials every target concurrently. The first success wins, the
// remaining attempts are cancelled and late winners are closed.
func (s *Source) race(ctx context.Context) (transport.Conn, transport.Endpoint, error) {
	if len(s.targets) == 0 {
		return nil, transport.Endpoint{}, ErrNoTargets
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan dialResult, len(s.targets))
	for _, target := range s.targets {
		go func(target transport.Endpoint) {
			conn, err := s.dialUntil(ctx, target)
			results <- dialResult{conn: conn, target: target, err: err}
		}(target)
	}

	var winner *dialResult
	var lastErr error
	for range s.targets {
		r := <-results
		if r.err != nil {
			lastErr = r.err
			continue
		}
		if winner == nil {
			winner = &r
			cancel()
			continue
		}
		r.conn.Close()
	}

	if winner == nil {
		return nil, transport.Endpoint{}, lastErr
	}
	return winner.conn, winner.target, nil
}

func (s *Source) dialUntil(ctx context.Context, target transport.Endpoint) (transport.Conn, error) {
	for {
		conn, err := s.dial(ctx, target)
		if err == nil {
			if ctx.Err() != nil {
				conn.Close()
				return nil, ctx.Err()
			}
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(s.pollInterval):
		}
	}
}
