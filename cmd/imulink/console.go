package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/imulink/internal/rpc"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console for device workflows",
	Long: `Issue the bridging methods by hand:

  imulink> startScanning
  imulink> pollDevices
  imulink> connectDevice AA:BB:CC:DD:EE:01
  imulink> startSensors AA:BB:CC:DD:EE:01
  imulink> pollSamples AA:BB:CC:DD:EE:01

Background workflows print their reply when they finish.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd.SilenceUsage = true

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "imulink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// Keep log lines from tearing the prompt
	a.logger.SetOutput(rl.Stderr())

	c := newConsole(rpc.NewDispatcher(a.ctrl, a.logger), rl.Stdout())
	c.printHelp()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		}
		if c.Execute(line) {
			return nil
		}
	}
}

const consoleUsage = "usage: <method> [address]"

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	idColor   = color.New(color.FgCyan)
)

// console turns typed lines into calls and prints their replies.
type console struct {
	dispatcher *rpc.Dispatcher
	nextID     atomic.Uint64

	mu  sync.Mutex
	out io.Writer
}

func newConsole(dispatcher *rpc.Dispatcher, out io.Writer) *console {
	return &console{dispatcher: dispatcher, out: out}
}

// Execute runs one input line. It reports true when the user asked to quit.
func (c *console) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		c.printHelp()
		return false
	}

	if len(parts) > 2 {
		c.printf("%s\n", errColor.Sprint(consoleUsage))
		return false
	}

	call := rpc.Call{ID: c.nextID.Add(1), Method: parts[0]}
	if len(parts) == 2 {
		call.Args.Address = parts[1]
	}
	c.dispatcher.Dispatch(call, func(rep rpc.Reply) {
		c.printReply(call.Method, rep)
	})
	return false
}

func (c *console) printReply(method string, rep rpc.Reply) {
	prefix := fmt.Sprintf("%s %s:", idColor.Sprintf("[%d]", rep.ID), method)

	switch {
	case rep.NotImplemented:
		c.printf("%s %s\n", prefix, warnColor.Sprint("not implemented"))
	case rep.Error != nil:
		c.printf("%s %s %s\n", prefix, errColor.Sprint(rep.Error.Code), rep.Error.Message)
	case rep.Result == nil:
		c.printf("%s %s\n", prefix, okColor.Sprint("ok"))
	default:
		data, err := json.MarshalIndent(rep.Result, "", "  ")
		if err != nil {
			c.printf("%s %s %v\n", prefix, errColor.Sprint("unprintable result"), err)
			return
		}
		c.printf("%s %s\n%s\n", prefix, okColor.Sprint("ok"), data)
	}
}

func (c *console) printHelp() {
	var b strings.Builder
	b.WriteString("Methods:\n")
	for _, m := range c.dispatcher.Methods() {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	b.WriteString("Other: help, exit\n")
	c.printf("%s", b.String())
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
