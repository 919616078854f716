package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCommandDelay is the pause the sensor needs between configuration
// writes. Shorter pauses make real hardware drop commands.
const DefaultCommandDelay = 200 * time.Millisecond

// Writer delivers one frame to the device and returns once the write completed.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, data []byte) error

func (f WriterFunc) Write(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// Step is one command of a sequence. Pause is slept after the write completes.
type Step struct {
	Command Command
	Payload []byte
	Pause   time.Duration
}

// Frame returns the encoded command frame of the step.
func (s Step) Frame() []byte {
	return EncodeCommand(s.Command, s.Payload...)
}

// ArmSequence returns the command sequence that enables gyroscope and
// accelerometer reporting, pausing delay between commands.
func ArmSequence(delay time.Duration) []Step {
	return []Step{
		{Command: CmdStop, Pause: delay},
		{Command: CmdMode, Payload: []byte{0x00, 0x02}, Pause: delay},
		{Command: CmdGyro, Pause: delay},
		{Command: CmdAccel, Pause: delay},
		{Command: CmdStart},
	}
}

// DisarmSequence returns the single command that stops reporting.
func DisarmSequence() []Step {
	return []Step{{Command: CmdStop}}
}

// Sequencer writes command sequences strictly in order.
type Sequencer struct {
	logger *logrus.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSequencer creates a Sequencer. A nil logger gets a default one.
func NewSequencer(logger *logrus.Logger) *Sequencer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sequencer{logger: logger, sleep: Sleep}
}

// Run writes every step through w, waiting for each write and its pause before
// the next step. It stops at the first failed write or when ctx is done.
func (s *Sequencer) Run(ctx context.Context, w Writer, steps []Step) error {
	for i, step := range steps {
		frame := step.Frame()
		s.logger.WithFields(logrus.Fields{
			"step":    i + 1,
			"command": step.Command.String(),
			"frame":   fmt.Sprintf("% X", frame),
		}).Debug("Writing command frame")

		if err := w.Write(ctx, frame); err != nil {
			return fmt.Errorf("command %s (step %d/%d): %w", step.Command, i+1, len(steps), err)
		}
		if step.Pause > 0 {
			if err := s.sleep(ctx, step.Pause); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
