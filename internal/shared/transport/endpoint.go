// Package transport carries protocol frames between the client and the
// tunnel service over local stream sockets or WebSockets.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Scheme names a supported transport
type Scheme string

const (
	SchemeUnix Scheme = "unix"
	SchemeTCP  Scheme = "tcp"
	SchemeWS   Scheme = "ws"
	SchemeWSS  Scheme = "wss"
)

var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

// Endpoint is a parsed service address such as unix:///run/tunnel.sock,
// tcp://127.0.0.1:7701 or ws://127.0.0.1:7702/ipc
type Endpoint struct {
	Scheme  Scheme
	Address string // socket path, host:port, or the full URL for WebSockets
}

// ParseEndpoint parses a service endpoint URL
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New("empty endpoint")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}

	switch Scheme(u.Scheme) {
	case SchemeUnix:
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing socket path", raw)
		}
		return Endpoint{Scheme: SchemeUnix, Address: path}, nil
	case SchemeTCP:
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", raw)
		}
		return Endpoint{Scheme: SchemeTCP, Address: u.Host}, nil
	case SchemeWS, SchemeWSS:
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", raw)
		}
		return Endpoint{Scheme: Scheme(u.Scheme), Address: raw}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// String returns the endpoint in URL form
func (e Endpoint) String() string {
	switch e.Scheme {
	case SchemeUnix:
		return "unix://" + e.Address
	case SchemeTCP:
		return "tcp://" + e.Address
	default:
		return e.Address
	}
}

// BindTimeout is the default wait for a bind over this transport.
// Slower transports get longer windows.
func (e Endpoint) BindTimeout() time.Duration {
	switch e.Scheme {
	case SchemeUnix:
		return 250 * time.Millisecond
	case SchemeTCP:
		return 400 * time.Millisecond
	case SchemeWS, SchemeWSS:
		return 600 * time.Millisecond
	default:
		return 1000 * time.Millisecond
	}
}
