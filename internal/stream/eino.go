package stream

import (
	"context"
	"errors"
	"io"

	"github.com/cloudwego/eino/schema"
)

// FromEino pumps an eino message stream into a Stream in a background
// goroutine. Consumer abort (Close) or context cancellation closes the
// underlying reader, which stops the generation request.
func FromEino(ctx context.Context, sr *schema.StreamReader[*schema.Message]) *Stream {
	s := New()

	go func() {
		defer sr.Close()
		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				s.CloseSend(nil)
				return
			}
			if err != nil {
				s.CloseSend(err)
				return
			}
			if msg == nil || msg.Content == "" {
				continue
			}
			if err := s.Send(ctx, msg.Content); err != nil {
				// Consumer went away; sr.Close via defer aborts generation.
				s.CloseSend(err)
				return
			}
		}
	}()

	return s
}
