package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattscope/internal/session"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <address> <characteristic>",
	Short: "Read a characteristic value",
	Long: `Connect to a BLE device and read the current value of a characteristic.

The characteristic may be named by a bare UUID or by a full attribute key
("<service>:<char>[:<handle>]") when the UUID alone is ambiguous. Each value
is shown as spaced hex and, when the payload decodes as JSON, pretty-printed.`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var readWatch string

func init() {
	readCmd.Flags().StringVarP(&readWatch, "watch", "w", "", "Re-read at the given interval until interrupted")
	readCmd.Flags().Lookup("watch").NoOptDefVal = "1s"
}

func runRead(cmd *cobra.Command, args []string) error {
	address, attr := args[0], args[1]

	var interval time.Duration
	if readWatch != "" {
		var err error
		interval, err = time.ParseDuration(readWatch)
		if err != nil {
			return fmt.Errorf("invalid watch interval %q: %w", readWatch, err)
		}
		if interval <= 0 {
			return fmt.Errorf("watch interval must be positive, got %q", readWatch)
		}
	}

	cmd.SilenceUsage = true

	app, err := newAppSession(cmd, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.coord.Connect(ctx, address); err != nil {
		return err
	}
	defer func() { _ = app.coord.Disconnect() }()

	key, err := resolveKey(app.coord, attr)
	if err != nil {
		return err
	}

	entry, err := app.coord.Read(key)
	if err != nil {
		return err
	}
	printEntry(key, entry)

	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !app.coord.Connected() {
				fmt.Println(app.coord.Status())
				return nil
			}
			entry, err := app.coord.Read(key)
			if err != nil {
				// Transient failures keep the watch alive; a lost
				// connection ends it on the next tick.
				fmt.Fprintf(os.Stderr, "read failed: %s\n", FormatUserError(err))
				continue
			}
			printEntry(key, entry)
		}
	}
}

// printEntry renders one logged value: timestamp, size, hex, and the JSON
// view when the payload decodes as JSON.
func printEntry(key string, entry session.ValueEntry) {
	fmt.Printf("[%s] %s (%d byte(s))\n", entry.Timestamp.Format("15:04:05.000"), key, entry.Size)
	fmt.Printf("  hex:  %s\n", entry.Hex)
	if entry.HasJSON {
		fmt.Printf("  json: %s\n", entry.JSON)
	}
}
