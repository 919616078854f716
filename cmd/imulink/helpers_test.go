package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/srg/imulink/internal/controller"
	"github.com/srg/imulink/internal/device"
	"github.com/srg/imulink/internal/testutils"
	"github.com/stretchr/testify/require"
)

const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

func init() {
	color.NoColor = true
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reading test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// useTransport makes commands built during the test talk to transport.
func useTransport(t *testing.T, transport device.Transport) {
	t.Helper()
	orig := newTransport
	newTransport = func(*logrus.Logger) device.Transport { return transport }
	t.Cleanup(func() { newTransport = orig })
}

// newTestController builds a controller with no pacing delays over transport.
func newTestController(t *testing.T, transport device.Transport) *controller.Controller {
	t.Helper()
	ctrl := controller.New(transport, testutils.FastConfig(), quietLogger())
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

// writeFastConfig writes a config file without pacing delays and returns its path.
func writeFastConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imulink.yaml")
	data := []byte(`log_level: error
protocol:
  command_delay: 0s
  subscribe_delay: 0s
transport:
  timeout: 2s
  settle_delay: 0s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600), "config file MUST be written")
	return path
}

// executeRoot runs the root command with args and restores every flag and
// stream it touched.
func executeRoot(t *testing.T, in io.Reader, out io.Writer, args ...string) error {
	t.Helper()
	if in == nil {
		in = strings.NewReader("")
	}
	if out == nil {
		out = io.Discard
	}

	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		for _, cmd := range append(rootCmd.Commands(), rootCmd) {
			resetFlags(cmd.Flags())
			resetFlags(cmd.PersistentFlags())
		}
	}()
	return rootCmd.Execute()
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}
