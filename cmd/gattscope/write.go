package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/gattscope/internal/codec"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <address> <characteristic> <hex-bytes>",
	Short: "Write a value to a characteristic",
	Long: `Connect to a BLE device and write bytes to a characteristic.

The payload is given as hex, either compact ("48656c6c6f") or space
separated ("48 65 6c 6c 6f"). A write with response is attempted first
when the characteristic supports it; on failure a single retry without
response is made when that capability is also present.`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var writeNoResponse bool

func init() {
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response, skipping acknowledgement")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, attr, hexArg := args[0], args[1], args[2]

	data, err := codec.ParseHexGroups(hexArg)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
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

	res, err := app.coord.Write(key, data, !writeNoResponse)
	if err != nil {
		return err
	}

	if res.Fallback {
		fmt.Printf("Wrote %d byte(s) to %s (fallback without response)\n", len(data), key)
	} else {
		fmt.Printf("Wrote %d byte(s) to %s\n", len(data), key)
	}
	return nil
}
