package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/imulink/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve device workflows over stdio",
	Long: `Read method calls from stdin and write replies to stdout.

Each call names a method and an optional device address:

  {"id": 1, "method": "connectDevice", "args": {"address": "AA:BB:CC:DD:EE:01"}}

Connect, start, stop and disconnect run in the background and reply when
they finish; scanning and polling reply at once. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("codec", "", "Wire codec (json, cbor); defaults to rpc.codec from the config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	name, _ := cmd.Flags().GetString("codec")
	if name == "" {
		name = a.cfg.RPC.Codec
	}
	codec, err := rpc.CodecByName(name)
	if err != nil {
		return fmt.Errorf("invalid --codec: %w", err)
	}

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	server := rpc.NewServer(codec, rpc.NewDispatcher(a.ctrl, a.logger), a.logger)
	return server.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
