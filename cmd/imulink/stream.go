package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/controller"
	"github.com/srg/imulink/internal/protocol"
)

var streamCmd = &cobra.Command{
	Use:   "stream <address>",
	Short: "Stream motion samples from a sensor",
	Long: `Connect to the sensor, arm motion sensing and print every decoded sample
until interrupted or --duration elapses. Sensing is stopped and the device
disconnected on the way out.`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	streamCmd.Flags().Duration("interval", 100*time.Millisecond, "Sample poll interval")
	streamCmd.Flags().Duration("duration", 0, "Stream duration (0 for indefinite)")
	streamCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
}

func runStream(cmd *cobra.Command, args []string) error {
	addr, err := address.Parse(args[0])
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s: must be positive", interval)
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", format)
	}

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Connecting to %s...\n", addr)
	s := &streamer{
		ctrl:     a.ctrl,
		addr:     addr,
		interval: interval,
		timeout:  a.cfg.Transport.Timeout,
		print:    sampleWriter(cmd.OutOrStdout(), format),
		logger:   a.logger,
	}
	return s.Run(ctx)
}

// streamer runs the connect, start, poll, stop, disconnect cycle for one device.
type streamer struct {
	ctrl     *controller.Controller
	addr     address.Addr
	interval time.Duration
	timeout  time.Duration
	print    func(protocol.MotionSample) error
	logger   *logrus.Logger
}

// Run streams until ctx is done. Leaving because ctx ended is not an error.
func (s *streamer) Run(ctx context.Context) error {
	if err := s.ctrl.Connect(ctx, s.addr); err != nil {
		return err
	}
	defer s.teardown()

	if err := s.ctrl.StartSensors(ctx, s.addr); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.flush()
		case <-ticker.C:
			if err := s.flush(); err != nil {
				return err
			}
		}
	}
}

func (s *streamer) flush() error {
	for _, sample := range s.ctrl.PollSamples(s.addr) {
		if err := s.print(sample); err != nil {
			return err
		}
	}
	return nil
}

// teardown stops sensing and disconnects on a fresh context, since the
// streaming one is usually cancelled by now.
func (s *streamer) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logger := s.logger.WithField("address", s.addr.String())
	if err := s.ctrl.StopSensors(ctx, s.addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("Failed to stop sensors")
	}
	if err := s.ctrl.Disconnect(ctx, s.addr); err != nil {
		logger.WithError(err).Warn("Failed to disconnect")
	}
}

func sampleWriter(w io.Writer, format string) func(protocol.MotionSample) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		return func(s protocol.MotionSample) error { return enc.Encode(s) }
	}
	return func(s protocol.MotionSample) error {
		_, err := fmt.Fprintf(w, "%10.3f  acc %8.3f %8.3f %8.3f  gyro %9.3f %9.3f %9.3f\n",
			s.TimestampS, s.AccelX, s.AccelY, s.AccelZ, s.GyroX, s.GyroY, s.GyroZ)
		return err
	}
}
