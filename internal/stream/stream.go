// Package stream provides a cancellation-aware text stream connecting a
// generation producer to a consumer. Unlike a bare reader loop, the consumer
// can abort mid-stream and the producer observes the abort immediately, so
// client disconnection propagates to the generation backend instead of the
// request running to completion unobserved.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send after the consumer has closed the stream.
var ErrClosed = errors.New("stream: closed by consumer")

// Stream is a single-producer, single-consumer text chunk stream.
// The producer calls Send then CloseSend; the consumer calls Recv until
// io.EOF (or the producer's error) and may call Close at any time to abort.
type Stream struct {
	// ch carries text chunks from producer to consumer.
	ch chan string

	// done is closed by the consumer's Close to unblock the producer.
	done chan struct{}

	// closeOnce guards done against double close.
	closeOnce sync.Once

	// sendOnce guards ch against double close.
	sendOnce sync.Once

	// mu protects err.
	mu sync.Mutex

	// err is the terminal error set by CloseSend, returned from Recv after
	// the channel drains. nil means a clean end of stream.
	err error
}

// New constructs a Stream with a small chunk buffer so a briefly slow
// consumer does not stall the producer.
func New() *Stream {
	return &Stream{
		ch:   make(chan string, 16),
		done: make(chan struct{}),
	}
}

// Send delivers one chunk to the consumer. It returns ErrClosed if the
// consumer aborted, or the context error if ctx is cancelled first.
func (s *Stream) Send(ctx context.Context, text string) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- text:
		return nil
	}
}

// CloseSend ends the producer side. A nil err signals a clean end of
// stream; a non-nil err is surfaced to the consumer from Recv after all
// buffered chunks are drained.
func (s *Stream) CloseSend(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.sendOnce.Do(func() { close(s.ch) })
}

// Recv returns the next chunk. On end of stream it returns io.EOF, or the
// producer's terminal error if CloseSend was called with one.
func (s *Stream) Recv() (string, error) {
	text, ok := <-s.ch
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return text, nil
}

// Close aborts the stream from the consumer side. Any in-flight or future
// Send unblocks with ErrClosed. Safe to call multiple times and after EOF.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Collect drains the stream and returns the concatenation of all chunks in
// arrival order. It returns the producer's terminal error, if any, alongside
// whatever text arrived before the failure.
func Collect(s *Stream) (string, error) {
	var sb []byte
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return string(sb), nil
		}
		if err != nil {
			return string(sb), err
		}
		sb = append(sb, chunk...)
	}
}
