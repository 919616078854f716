package rpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/internal/groutine"
)

// Server answers calls read from a stream.
type Server struct {
	codec      Codec
	dispatcher *Dispatcher
	logger     *logrus.Logger
}

// NewServer creates a Server. A nil codec selects JSON.
func NewServer(codec Codec, dispatcher *Dispatcher, logger *logrus.Logger) *Server {
	if codec == nil {
		codec = JSONCodec{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{codec: codec, dispatcher: dispatcher, logger: logger}
}

// Serve reads calls from r until EOF or ctx is done and writes every reply to
// w. Replies are written one at a time. Serve returns after all replies to
// the calls it accepted were written.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := s.codec.NewDecoder(r)
	enc := s.codec.NewEncoder(w)

	var writeMu sync.Mutex
	send := func(rep Reply) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(rep); err != nil {
			s.logger.WithError(err).WithField("id", rep.ID).Warn("Failed to write reply")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	calls := make(chan Call)
	readErr := make(chan error, 1)
	groutine.Go(ctx, "rpc-reader", func(ctx context.Context) {
		for {
			var call Call
			err := dec.Decode(&call)
			var malformed *MalformedCallError
			switch {
			case errors.As(err, &malformed):
				s.logger.WithError(err).Debug("Rejecting call")
				send(failure(0, CodeBadArgs, err.Error()))
				continue
			case err != nil:
				readErr <- err
				return
			}
			select {
			case calls <- call:
			case <-ctx.Done():
				return
			}
		}
	})

	var pending sync.WaitGroup
	defer pending.Wait()

	s.logger.WithField("codec", s.codec.Name()).Info("Serving calls")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				s.logger.Info("Input closed")
				return nil
			}
			return err
		case call := <-calls:
			pending.Add(1)
			var once sync.Once
			s.dispatcher.Dispatch(call, func(rep Reply) {
				once.Do(func() {
					defer pending.Done()
					send(rep)
				})
			})
		}
	}
}
