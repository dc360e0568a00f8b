package stream

import (
	"context"
	"errors"
)

// ErrWriterStopped is returned by consumers once the producer side of the
// stream has been stopped.
var ErrWriterStopped = errors.New("stream: writer stopped")

// Pump reads published buffers and hands each to fn until ctx is done, the
// writer is stopped, or fn fails. The buffer passed to fn is only valid for
// the duration of the call. Cancelling ctx stops the writer side so the
// blocked Read returns; the stop is cleared again before Pump returns so a
// later consumer can attach.
func Pump(ctx context.Context, s *Stream, fn func([]complex64) error) error {
	stop := context.AfterFunc(ctx, s.StopWriter)
	defer func() {
		if !stop() {
			s.ClearWriteStop()
		}
	}()

	for {
		n := s.Read()
		if n < 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrWriterStopped
		}
		err := fn(s.ReadBuf()[:n])
		s.Flush()
		if err != nil {
			return err
		}
	}
}
