package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <address> <characteristic>...",
	Short: "Stream notifications from one or more characteristics",
	Long: `Connect to a BLE device, subscribe to the named characteristics, and
print each notification as it arrives. Indications are used when a
characteristic supports only those.

Runs until interrupted or until --duration elapses.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSubscribe,
}

var subscribeDuration time.Duration

func init() {
	subscribeCmd.Flags().DurationVarP(&subscribeDuration, "duration", "d", 0, "Stop after this long (0 for until Ctrl+C)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address, attrs := args[0], args[1:]

	cmd.SilenceUsage = true

	app, err := newAppSession(cmd, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	baseCtx := context.Background()
	if subscribeDuration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, subscribeDuration)
		defer cancel()
	}
	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.coord.Connect(ctx, address); err != nil {
		return err
	}
	defer func() { _ = app.coord.Disconnect() }()

	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		key, err := resolveKey(app.coord, attr)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	for _, key := range keys {
		if err := subscribeOn(app, key); err != nil {
			return err
		}
	}
	defer func() {
		if !app.coord.Connected() {
			return
		}
		for _, key := range keys {
			_, _ = app.coord.ToggleNotify(key)
		}
	}()

	fmt.Printf("Subscribed to %s (Ctrl+C to stop)\n", strings.Join(keys, ", "))
	return streamLogs(ctx, app, keys)
}

// subscribeOn turns notifications on for key. The toggle flips an
// already-active subscription off, so that case is flipped back.
func subscribeOn(app *appSession, key string) error {
	enabled, err := app.coord.ToggleNotify(key)
	if err != nil {
		return err
	}
	if !enabled {
		if _, err := app.coord.ToggleNotify(key); err != nil {
			return err
		}
	}
	return nil
}

// streamLogs polls the bounded value history of each key and prints entries
// as they appear, until ctx is done or the connection drops. Rings may evict
// older entries between polls, so progress is tracked per key by the entry
// sequence number.
func streamLogs(ctx context.Context, app *appSession, keys []string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastSeen := make(map[string]uint64, len(keys))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !app.coord.Connected() {
				fmt.Println(app.coord.Status())
				return nil
			}
			for _, key := range keys {
				for _, entry := range app.coord.Log(key) {
					if entry.Seq <= lastSeen[key] {
						continue
					}
					printEntry(key, entry)
					lastSeen[key] = entry.Seq
				}
			}
		}
	}
}
