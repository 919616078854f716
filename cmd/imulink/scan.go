package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/imulink/internal/controller"
	"github.com/srg/imulink/internal/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const scanPollInterval = 250 * time.Millisecond

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for motion sensors",
	Long: `Scan for BLE devices whose advertised name carries the vendor marker
and list them in the order they were first seen.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationP("duration", "d", 0, "Scan duration; defaults to scan.duration from the config")
	scanCmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		duration = a.cfg.Scan.Duration
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	results := newScanResults()
	progress := startProgress(cmd.ErrOrStderr(), "Scanning", duration, func() string {
		return fmt.Sprintf("%d found", results.Len())
	})
	err = collectDevices(ctx, a.ctrl, results, scanPollInterval)
	progress.Stop()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return results.WriteJSON(out)
	}
	return results.WriteTable(out)
}

// collectDevices scans until ctx is done, polling the controller into results
// every interval.
func collectDevices(ctx context.Context, ctrl *controller.Controller, results *scanResults, interval time.Duration) error {
	if err := ctrl.StartScanning(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := ctrl.StopScanning()
			results.Add(ctrl.PollDevices())
			return err
		case <-ticker.C:
			results.Add(ctrl.PollDevices())
		}
	}
}

// scanResults keeps one entry per address in first-seen order. Later sightings
// refresh name and RSSI. Only Len is safe to call while Add runs.
type scanResults struct {
	devices *orderedmap.OrderedMap[string, session.DiscoveredDevice]
	count   atomic.Int64
}

func newScanResults() *scanResults {
	return &scanResults{devices: orderedmap.New[string, session.DiscoveredDevice]()}
}

func (r *scanResults) Add(devices []session.DiscoveredDevice) {
	for _, d := range devices {
		r.devices.Set(d.Address.String(), d)
	}
	r.count.Store(int64(r.devices.Len()))
}

func (r *scanResults) Len() int { return int(r.count.Load()) }

func (r *scanResults) list() []session.DiscoveredDevice {
	out := make([]session.DiscoveredDevice, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *scanResults) WriteTable(w io.Writer) error {
	if r.Len() == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(tw, "----\t-------\t----")
	for _, d := range r.list() {
		name := d.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", name, d.Address, d.RSSI)
	}
	return tw.Flush()
}

func (r *scanResults) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r.list())
}
