package protocol

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrWriterClosed is returned by WriteFrame after Close
var ErrWriterClosed = errors.New("writer closed")

// FrameSink writes a single frame to the underlying transport
type FrameSink func(*Frame) error

// FrameWriter serializes frames from many goroutines onto one transport.
// Frames are queued and written in order by a single goroutine. The first
// write error fails the writer and is reported once through the error
// handler; frames still queued behind it are dropped.
type FrameWriter struct {
	sink      FrameSink
	queue     chan *Frame
	done      chan struct{}
	mu        sync.Mutex // guards closed and sends on queue
	closed    bool
	closeOnce sync.Once

	failed       atomic.Bool
	errMu        sync.Mutex
	writeErr     error
	onWriteError func(error)
}

func NewFrameWriter(sink FrameSink) *FrameWriter {
	return NewFrameWriterWithConfig(sink, 256)
}

func NewFrameWriterWithConfig(sink FrameSink, queueSize int) *FrameWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &FrameWriter{
		sink:  sink,
		queue: make(chan *Frame, queueSize),
		done:  make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

func (w *FrameWriter) writeLoop() {
	defer close(w.done)

	for frame := range w.queue {
		if w.failed.Load() {
			continue
		}
		if err := w.sink(frame); err != nil {
			w.errMu.Lock()
			w.writeErr = err
			handler := w.onWriteError
			w.errMu.Unlock()
			w.failed.Store(true)
			if handler != nil {
				go handler(err)
			}
		}
	}
}

// WriteFrame queues a frame. It blocks while the queue is full.
func (w *FrameWriter) WriteFrame(frame *Frame) error {
	if err := w.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.queue <- frame
	return nil
}

// Close stops accepting frames and waits until queued frames are written.
func (w *FrameWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.closeOnce.Do(func() { close(w.queue) })
	w.mu.Unlock()

	<-w.done
	return nil
}

// Err returns the write error that failed the writer, if any
func (w *FrameWriter) Err() error {
	if !w.failed.Load() {
		return nil
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.writeErr
}

func (w *FrameWriter) SetWriteErrorHandler(handler func(error)) {
	w.errMu.Lock()
	w.onWriteError = handler
	w.errMu.Unlock()
}
