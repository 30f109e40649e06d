package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"tunnelsync/internal/shared/protocol"

	"github.com/gorilla/websocket"
)

// Conn is a bidirectional frame connection
type Conn interface {
	ReadFrame() (*protocol.Frame, error)
	WriteFrame(*protocol.Frame) error
	Close() error
	RemoteAddr() string
}

// IsClosed reports whether err means the peer went away or the connection
// was closed locally
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

type streamConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

// NewStreamConn frames a stream connection with length-prefixed frames
func NewStreamConn(conn net.Conn) Conn {
	return &streamConn{conn: conn}
}

func (c *streamConn) ReadFrame() (*protocol.Frame, error) {
	return protocol.ReadFrame(c.conn)
}

func (c *streamConn) WriteFrame(f *protocol.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteFrame(c.conn, f)
}

func (c *streamConn) Close() error {
	return c.conn.Close()
}

func (c *streamConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return c.conn.LocalAddr().String()
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocketConn carries one frame per binary WebSocket message
func NewWebSocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadFrame() (*protocol.Frame, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var f protocol.Frame
		if err := f.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return &f, nil
	}
}

func (c *wsConn) WriteFrame(f *protocol.Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Dial connects to the endpoint
func Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	switch ep.Scheme {
	case SchemeUnix, SchemeTCP:
		var d net.Dialer
		conn, err := d.DialContext(ctx, string(ep.Scheme), ep.Address)
		if err != nil {
			return nil, err
		}
		return NewStreamConn(conn), nil
	case SchemeWS, SchemeWSS:
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, ep.Address, nil)
		if err != nil {
			return nil, err
		}
		return NewWebSocketConn(conn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, ep.Scheme)
	}
}

// Listen opens a stream listener for unix or tcp endpoints. A stale unix
// socket file left by a dead service is removed first.
func Listen(ep Endpoint) (net.Listener, error) {
	switch ep.Scheme {
	case SchemeUnix:
		if _, err := os.Stat(ep.Address); err == nil {
			if conn, err := net.Dial("unix", ep.Address); err == nil {
				conn.Close()
				return nil, fmt.Errorf("endpoint %s already in use", ep)
			}
			if err := os.Remove(ep.Address); err != nil {
				return nil, fmt.Errorf("failed to remove stale socket: %w", err)
			}
		}
		return net.Listen("unix", ep.Address)
	case SchemeTCP:
		return net.Listen("tcp", ep.Address)
	default:
		return nil, fmt.Errorf("%w: %q (listen)", ErrUnsupportedScheme, ep.Scheme)
	}
}
