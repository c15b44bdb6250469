package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattscope/internal/config"
	"github.com/srg/gattscope/internal/gatt"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Discovered devices are listed strongest signal first, with names, addresses,
and RSSI values.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	app, err := newAppSession(cmd, func(cfg *config.Config) {
		if scanDuration > 0 {
			cfg.ScanTimeout = config.Duration(scanDuration)
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()

	// Listen for Ctrl+C to cancel
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := app.coord.Scan(ctx)
	if err != nil {
		return err
	}

	if err := displayDevices(os.Stdout, devices, scanFormat); err != nil {
		return err
	}
	fmt.Println(app.coord.Status())
	return nil
}

func displayDevices(out io.Writer, devices []gatt.DeviceRecord, format string) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", name, dev.Address, dev.RSSI)
	}
	return w.Flush()
}
