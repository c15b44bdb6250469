package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattscope/internal/codec"
	"github.com/srg/gattscope/internal/ptystream"
)

// tapCmd represents the tap command
var tapCmd = &cobra.Command{
	Use:   "tap <address> <characteristic>",
	Short: "Mirror a notification stream to a pseudo-terminal",
	Long: `Connect to a BLE device, subscribe to a characteristic, and mirror the
raw notification payloads to a newly allocated PTY. Serial-oriented tools
(minicom, screen, custom parsers) can then attach to the slave device as if
the peripheral were a local serial port.

A slow or absent consumer never stalls the BLE session: payloads that do not
fit the staging buffer are dropped and counted.`,
	Args: cobra.ExactArgs(2),
	RunE: runTap,
}

var tapQueueBytes int

func init() {
	tapCmd.Flags().IntVar(&tapQueueBytes, "queue", 0, "Staging buffer size in bytes (default 64KiB)")
}

func runTap(cmd *cobra.Command, args []string) error {
	address, attr := args[0], args[1]

	cmd.SilenceUsage = true

	app, err := newAppSession(cmd, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	streamer, err := ptystream.New(tapQueueBytes, nil)
	if err != nil {
		return fmt.Errorf("failed to allocate PTY: %w", err)
	}
	defer streamer.Close()

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

	if _, err := app.coord.ToggleNotify(key); err != nil {
		return err
	}
	defer func() {
		if app.coord.Connected() {
			_, _ = app.coord.ToggleNotify(key)
		}
	}()

	fmt.Printf("Streaming %s to %s (Ctrl+C to stop)\n", key, streamer.TTYName())

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var lastSeen uint64
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if !app.coord.Connected() {
				fmt.Println(app.coord.Status())
				break loop
			}
			for _, entry := range app.coord.Log(key) {
				if entry.Seq <= lastSeen {
					continue
				}
				lastSeen = entry.Seq
				raw, err := codec.ParseHexGroups(entry.Hex)
				if err != nil {
					continue
				}
				streamer.Queue(raw)
			}
		}
	}

	stats := streamer.Stats()
	fmt.Printf("Done: %d byte(s) written, %d byte(s) dropped\n", stats.WrittenBytes, stats.DroppedBytes)
	return nil
}
