package service

import (
	"net"
	"testing"
	"time"

	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

func TestListener_ServeAssignsDistinctIDs(t *testing.T) {
	ids := make(chan string, 2)
	handler := func(id string, conn transport.Conn) {
		ids <- id
		for {
			if _, err := conn.ReadFrame(); err != nil {
				return
			}
		}
	}

	ep := transport.Endpoint{Scheme: transport.SchemeTCP, Address: "127.0.0.1:0"}
	l := NewListener(ep, handler, 2, zap.NewNop())

	for i := 0; i < 2; i++ {
		a, b := net.Pipe()
		t.Cleanup(func() { b.Close() })
		go l.Serve(transport.NewStreamConn(a))
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case id := <-ids:
			if len(id) != 32 {
				t.Errorf("id = %q, want 32 hex characters", id)
			}
			if seen[id] {
				t.Errorf("duplicate connection id %q", id)
			}
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("handler not called")
		}
	}

	if got := l.ActiveConnections(); got != 2 {
		t.Errorf("ActiveConnections() = %v, want 2", got)
	}

	l.Stop()
	deadline := time.Now().Add(time.Second)
	for l.ActiveConnections() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := l.ActiveConnections(); got != 0 {
		t.Errorf("ActiveConnections() after Stop = %v, want 0", got)
	}
}
