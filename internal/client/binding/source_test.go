package binding

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

func unixEndpoint(t *testing.T, name string) transport.Endpoint {
	t.Helper()
	return transport.Endpoint{Scheme: transport.SchemeUnix, Address: filepath.Join(t.TempDir(), name)}
}

// listen accepts connections on ep and hands them to the returned channel
func listen(t *testing.T, ep transport.Endpoint) (net.Listener, <-chan transport.Conn) {
	t.Helper()
	ln, err := transport.Listen(ep)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	conns := make(chan transport.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- transport.NewStreamConn(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln, conns
}

func newTestSource(targets ...transport.Endpoint) *Source {
	return NewSource(Config{
		Targets:      targets,
		AttachWindow: 500 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop())
}

func TestConnect_TimeoutCompletesEmpty(t *testing.T) {
	src := newTestSource(unixEndpoint(t, "missing.sock"))

	start := time.Now()
	stream := src.Connect(context.Background(), 100*time.Millisecond, nil)

	select {
	case h, ok := <-stream:
		if ok {
			t.Fatalf("got handle %v, want closed stream", h.Target())
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after timeout")
	}

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("stream closed after %v, before the timeout", elapsed)
	}
}

func TestConnect_EmitsHandleAndCompletesOnPeerClose(t *testing.T) {
	ep := unixEndpoint(t, "svc.sock")
	_, conns := listen(t, ep)
	src := newTestSource(ep)

	received := make(chan *protocol.Frame, 1)
	stream := src.Connect(context.Background(), 500*time.Millisecond, func(f *protocol.Frame) {
		received <- f
	})

	var h Handle
	select {
	case h = <-stream:
		if h == nil {
			t.Fatal("stream closed without handle")
		}
	case <-time.After(time.Second):
		t.Fatal("no handle")
	}
	if h.Target() != ep.String() {
		t.Errorf("Target() = %v, want %v", h.Target(), ep.String())
	}

	server := <-conns

	if err := h.Send(protocol.OpRegister, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	f, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("server ReadFrame() error = %v", err)
	}
	if protocol.ControlOpcode(f.Opcode) != protocol.OpRegister {
		t.Errorf("server got %v, want REGISTER", protocol.ControlOpcode(f.Opcode))
	}

	ev, _ := protocol.NewEventFrame(protocol.EvKnownServerRegions, nil)
	server.WriteFrame(ev)
	select {
	case f := <-received:
		if protocol.EventOpcode(f.Opcode) != protocol.EvKnownServerRegions {
			t.Errorf("sink got %v", protocol.EventOpcode(f.Opcode))
		}
	case <-time.After(time.Second):
		t.Fatal("sink did not receive event")
	}

	server.Close()
	select {
	case _, ok := <-stream:
		if ok {
			t.Error("second value on stream, want close")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after peer close")
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed after bind lost")
	}
	if err := h.Send(protocol.OpUnregister, nil); err == nil {
		t.Error("Send() after release error = nil, want error")
	}
}

func TestConnect_CancelReleasesBind(t *testing.T) {
	ep := unixEndpoint(t, "svc.sock")
	_, conns := listen(t, ep)
	src := newTestSource(ep)

	ctx, cancel := context.WithCancel(context.Background())
	stream := src.Connect(ctx, 0, nil)
	if h := <-stream; h == nil {
		t.Fatal("no handle")
	}
	server := <-conns

	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Error("value after cancel, want close")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after cancel")
	}

	if _, err := server.ReadFrame(); !transport.IsClosed(err) {
		t.Errorf("server read error = %v, want closed connection", err)
	}
}

func TestConnect_RacesTargets(t *testing.T) {
	control := unixEndpoint(t, "control.sock")
	elevated := unixEndpoint(t, "elevated.sock")
	_, _ = listen(t, elevated)

	src := newTestSource(control, elevated)
	stream := src.Connect(context.Background(), 300*time.Millisecond, nil)

	h := <-stream
	if h == nil {
		t.Fatal("no handle from racing targets")
	}
	if h.Target() != elevated.String() {
		t.Errorf("Target() = %v, want %v", h.Target(), elevated.String())
	}
}

func TestConnect_WaitsForLateService(t *testing.T) {
	ep := unixEndpoint(t, "late.sock")
	src := newTestSource(ep)

	go func() {
		time.Sleep(100 * time.Millisecond)
		listen(t, ep)
	}()

	stream := src.Connect(context.Background(), 0, nil)
	select {
	case h := <-stream:
		if h == nil {
			t.Fatal("stream closed before late service started")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no handle")
	}
}

func TestConnect_NoTargets(t *testing.T) {
	src := newTestSource()
	if _, ok := <-src.Connect(context.Background(), 50*time.Millisecond, nil); ok {
		t.Error("handle without targets")
	}
}

func TestBindTimeout_SlowestTransportWins(t *testing.T) {
	src := newTestSource(
		transport.Endpoint{Scheme: transport.SchemeUnix, Address: "/tmp/a"},
		transport.Endpoint{Scheme: transport.SchemeWS, Address: "ws://127.0.0.1:1/ipc"},
	)
	if got := src.BindTimeout(); got != 600*time.Millisecond {
		t.Errorf("BindTimeout() = %v, want 600ms", got)
	}
}
