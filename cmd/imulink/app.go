package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/imulink/internal/controller"
	"github.com/srg/imulink/internal/device"
	goble "github.com/srg/imulink/internal/device/go-ble"
	"github.com/srg/imulink/pkg/config"
)

// newTransport creates the device transport. Tests replace it.
var newTransport = func(logger *logrus.Logger) device.Transport {
	return goble.NewTransport(logger)
}

// app is what every device command starts from.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctrl   *controller.Controller
}

// newApp loads --config, configures logging and builds the controller.
// Interactive commands stay quiet unless asked, serve logs at the configured level.
func newApp(cmd *cobra.Command, quiet bool) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	fallback := cfg.Level()
	if quiet {
		fallback = logrus.PanicLevel
	}
	logger, err := configureLogger(cmd, fallback)
	if err != nil {
		return nil, err
	}

	ctrl := controller.New(newTransport(logger), cfg, logger)
	return &app{cfg: cfg, logger: logger, ctrl: ctrl}, nil
}

// Close releases every device the controller still holds.
func (a *app) Close() {
	if err := a.ctrl.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close controller")
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
