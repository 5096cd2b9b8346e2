package executor

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/arxis/aviladb/document"
)

// Stream delivers the results of one execution. A Stream is read by one
// goroutine at a time.
type Stream struct {
	id     string
	ch     chan document.Document
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	closed atomic.Bool
}

func newStream(ctx context.Context, id string, buffer int, produce func(ctx context.Context, out func(document.Document) error) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		id:     id,
		ch:     make(chan document.Document, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		s.err = produce(ctx, func(d document.Document) error {
			select {
			case s.ch <- d:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

// ID returns the execution id.
func (s *Stream) ID() string { return s.id }

// Next returns the next document. It returns io.EOF after the last one and
// the execution error if a plan node failed.
func (s *Stream) Next(ctx context.Context) (document.Document, error) {
	if s.closed.Load() {
		return document.Document{}, ErrClosed
	}
	select {
	case d, ok := <-s.ch:
		if ok {
			return d, nil
		}
		<-s.done
		if s.err != nil {
			return document.Document{}, s.err
		}
		return document.Document{}, io.EOF
	case <-ctx.Done():
		return document.Document{}, ctx.Err()
	}
}

// Close stops production and waits for it to finish. It is safe to call
// more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	for range s.ch {
	}
	<-s.done
	return nil
}

// Collect reads every remaining document and closes the stream.
func Collect(ctx context.Context, s *Stream) ([]document.Document, error) {
	defer s.Close()
	var out []document.Document
	for {
		d, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}
