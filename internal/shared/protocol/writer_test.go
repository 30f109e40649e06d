package protocol

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []byte
	failAt int
}

func (s *recordingSink) write(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, f.Opcode)
	return nil
}

func (s *recordingSink) opcodes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.frames...)
}

func TestFrameWriter_OrderAndFlushOnClose(t *testing.T) {
	sink := &recordingSink{}
	w := NewFrameWriter(sink.write)

	for i := byte(1); i <= 6; i++ {
		if err := w.WriteFrame(&Frame{Opcode: i}); err != nil {
			t.Fatalf("WriteFrame(%d) error = %v", i, err)
		}
	}
	w.Close()

	got := sink.opcodes()
	if len(got) != 6 {
		t.Fatalf("written frames = %d, want 6", len(got))
	}
	for i, op := range got {
		if op != byte(i+1) {
			t.Errorf("frame %d opcode = %d, want %d", i, op, i+1)
		}
	}

	if err := w.WriteFrame(&Frame{Opcode: 7}); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("WriteFrame() after Close error = %v, want %v", err, ErrWriterClosed)
	}
	// second close must not panic
	w.Close()
}

func TestFrameWriter_WriteErrorHandler(t *testing.T) {
	sink := &recordingSink{failAt: 2}
	w := NewFrameWriter(sink.write)

	reported := make(chan error, 1)
	w.SetWriteErrorHandler(func(err error) { reported <- err })

	w.WriteFrame(&Frame{Opcode: 1})
	w.WriteFrame(&Frame{Opcode: 2})

	select {
	case err := <-reported:
		if err == nil {
			t.Error("handler error = nil, want error")
		}
	case <-time.After(time.Second):
		t.Fatal("write error handler not called")
	}

	if err := w.WriteFrame(&Frame{Opcode: 3}); err == nil {
		t.Error("WriteFrame() after failure error = nil, want error")
	}
	w.Close()
}
