package interactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tunnelsync/internal/client/binding"
	"tunnelsync/internal/client/state"
	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/relay"
)

var errHandleGone = errors.New("handle gone")

type fakeHandle struct {
	source *fakeSource
	mu     sync.Mutex
	sent   []protocol.ControlOpcode
	done   chan struct{}
	once   sync.Once
}

func (h *fakeHandle) Send(op protocol.ControlOpcode, _ protocol.Bundle) error {
	select {
	case <-h.done:
		return errHandleGone
	default:
	}
	h.mu.Lock()
	h.sent = append(h.sent, op)
	h.mu.Unlock()
	if h.source.onSend != nil {
		h.source.onSend(op)
	}
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Target() string        { return "fake" }

func (h *fakeHandle) kill() {
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

type connectCall struct {
	timeout time.Duration
}

// fakeSource emits a handle per Connect while available, after delay.
// When unavailable the stream completes empty once the window passes.
type fakeSource struct {
	mu        sync.Mutex
	available bool
	delay     time.Duration
	calls     []connectCall
	handles   []*fakeHandle
	sink      binding.FrameSink
	onSend    func(op protocol.ControlOpcode)
}

func newFakeSource(available bool) *fakeSource {
	return &fakeSource{available: available}
}

func (f *fakeSource) Connect(ctx context.Context, timeout time.Duration, sink binding.FrameSink) <-chan binding.Handle {
	out := make(chan binding.Handle, 1)

	f.mu.Lock()
	f.calls = append(f.calls, connectCall{timeout: timeout})
	available := f.available
	delay := f.delay
	f.mu.Unlock()

	go func() {
		defer close(out)

		window := timeout
		if window <= 0 {
			window = 50 * time.Millisecond
		}
		if !available {
			select {
			case <-time.After(window):
			case <-ctx.Done():
			}
			return
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		h := &fakeHandle{source: f, done: make(chan struct{})}
		f.mu.Lock()
		f.handles = append(f.handles, h)
		if sink != nil {
			f.sink = sink
		}
		f.mu.Unlock()

		out <- h
		select {
		case <-h.done:
		case <-ctx.Done():
			h.kill()
		}
	}()

	return out
}

func (f *fakeSource) setAvailable(v bool) {
	f.mu.Lock()
	f.available = v
	f.mu.Unlock()
}

// stopService drops every bind and refuses new ones
func (f *fakeSource) stopService() {
	f.mu.Lock()
	f.available = false
	handles := append([]*fakeHandle(nil), f.handles...)
	f.mu.Unlock()
	for _, h := range handles {
		h.kill()
	}
}

func (f *fakeSource) connectCalls() []connectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectCall(nil), f.calls...)
}

func (f *fakeSource) allHandles() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

func (f *fakeSource) liveHandles() int {
	n := 0
	for _, h := range f.allHandles() {
		if h.alive() {
			n++
		}
	}
	return n
}

// countSent counts op across every handle
func (f *fakeSource) countSent(op protocol.ControlOpcode) int {
	n := 0
	for _, h := range f.allHandles() {
		h.mu.Lock()
		for _, sent := range h.sent {
			if sent == op {
				n++
			}
		}
		h.mu.Unlock()
	}
	return n
}

func (f *fakeSource) push(t *testing.T, op protocol.EventOpcode, data protocol.Bundle) {
	t.Helper()
	frame, err := protocol.NewEventFrame(op, data)
	if err != nil {
		t.Fatalf("NewEventFrame() error = %v", err)
	}
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		t.Fatal("no registered sink to push to")
	}
	sink(frame)
}

type fakeLauncher struct {
	mu    sync.Mutex
	err   error
	calls []bool
}

func (l *fakeLauncher) Start(_ context.Context, wantElevated bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, wantElevated)
	return l.err
}

type fakeStats struct {
	mu      sync.Mutex
	records []state.DataTransferStats
}

func (s *fakeStats) Record(st state.DataTransferStats) {
	s.mu.Lock()
	s.records = append(s.records, st)
	s.mu.Unlock()
}

func (s *fakeStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fixedPrefs bool

func (p fixedPrefs) WantVPN() bool { return bool(p) }

func runningBundle(connected, vpn bool, homePages ...string) protocol.Bundle {
	b := protocol.Bundle{
		protocol.KeyStateIsRunning:           true,
		protocol.KeyStateIsVPN:               vpn,
		protocol.KeyStateIsConnected:         connected,
		protocol.KeyStateClientRegion:        "CA",
		protocol.KeyStateSponsorID:           "sponsor",
		protocol.KeyStateHTTPProxyPort:       8080,
		protocol.KeyStateNeedsHelpConnecting: false,
	}
	if len(homePages) > 0 {
		b[protocol.KeyStateHomePages] = homePages
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextState(t *testing.T, sub *relay.Subscription[state.TunnelState]) state.TunnelState {
	t.Helper()
	select {
	case s := <-sub.C():
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no state emitted within 2s")
		return state.TunnelState{}
	}
}

func noMoreStates(t *testing.T, sub *relay.Subscription[state.TunnelState], wait time.Duration) {
	t.Helper()
	select {
	case s := <-sub.C():
		t.Errorf("unexpected extra state %v", s)
	case <-time.After(wait):
	}
}
