package dispatch

import (
	"errors"
	"sync"
	"testing"

	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

type fakeSender struct {
	mu   sync.Mutex
	ops  []protocol.ControlOpcode
	fail bool
}

func (f *fakeSender) Send(op protocol.ControlOpcode, _ protocol.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("dead peer")
	}
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakeSender) Target() string { return "fake" }

func (f *fakeSender) sent() []protocol.ControlOpcode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ControlOpcode(nil), f.ops...)
}

func equalOps(a, b []protocol.ControlOpcode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDispatcher_QueuesUntilAttach(t *testing.T) {
	d := New(zap.NewNop())
	d.Send(protocol.OpRegister, nil)
	d.Send(protocol.OpExchangeExport, nil)

	if d.pending() != 2 {
		t.Errorf("pending() = %d, want 2", d.pending())
	}

	s := &fakeSender{}
	d.Attach(s)
	d.Send(protocol.OpStopService, nil)

	want := []protocol.ControlOpcode{protocol.OpRegister, protocol.OpExchangeExport, protocol.OpStopService}
	if got := s.sent(); !equalOps(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}

func TestDispatcher_ReplaysToNewBind(t *testing.T) {
	d := New(zap.NewNop())
	first := &fakeSender{}
	d.Attach(first)
	d.Send(protocol.OpRegister, nil)

	second := &fakeSender{}
	d.Attach(second)
	d.Send(protocol.OpRestartService, nil)

	want := []protocol.ControlOpcode{protocol.OpRegister, protocol.OpRestartService}
	if got := second.sent(); !equalOps(got, want) {
		t.Errorf("replayed = %v, want %v", got, want)
	}
	if got := first.sent(); len(got) != 1 {
		t.Errorf("replaced sender got %v, want only REGISTER", got)
	}
}

func TestDispatcher_SwallowsDeliveryFailure(t *testing.T) {
	d := New(zap.NewNop())
	d.Attach(&fakeSender{fail: true})

	// must not panic or block
	d.Send(protocol.OpRegister, nil)
	d.Send(protocol.OpUnregister, nil)

	if d.pending() != 2 {
		t.Errorf("pending() = %d, want 2", d.pending())
	}
}

func TestDispatcher_CloseDropsMessages(t *testing.T) {
	d := New(zap.NewNop())
	s := &fakeSender{}
	d.Attach(s)
	d.Close()

	d.Send(protocol.OpRegister, nil)
	d.Attach(s)

	if got := s.sent(); len(got) != 0 {
		t.Errorf("sent after Close = %v, want none", got)
	}
	if d.pending() != 0 {
		t.Errorf("pending() = %d, want 0", d.pending())
	}
}
