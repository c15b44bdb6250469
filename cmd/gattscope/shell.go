package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/gattscope/internal/codec"
)

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session shell",
	Long: `Start an interactive shell for exploratory BLE sessions.

The shell keeps one session alive across commands: scan once, connect,
browse the GATT hierarchy, then read, write, and subscribe without
reconnecting. An address argument connects immediately on startup.
Type "help" inside the shell for the command list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShell,
}

// shellEnv is the per-session shell state.
type shellEnv struct {
	app     *appSession
	ctx     context.Context
	heading *color.Color
	accent  *color.Color
	dim     *color.Color
}

func runShell(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	app, err := newAppSession(cmd, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Colors only when stdout is a terminal.
	color.NoColor = color.NoColor || !term.IsTerminal(int(os.Stdout.Fd()))

	env := &shellEnv{
		app:     app,
		ctx:     ctx,
		heading: color.New(color.FgCyan, color.Bold),
		accent:  color.New(color.FgGreen),
		dim:     color.New(color.FgHiBlack),
	}

	fmt.Println("gattscope shell. Type 'help' for commands, 'quit' to exit.")
	if len(args) == 1 {
		if err := env.doConnect(args); err != nil {
			color.Red("error: %s", FormatUserError(err))
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		env.printStatusLine()
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb, rest := fields[0], fields[1:]

		if verb == "quit" || verb == "exit" {
			break
		}
		if err := env.dispatch(verb, rest); err != nil {
			color.Red("error: %s", FormatUserError(err))
		}
	}

	if app.coord.Connected() {
		_ = app.coord.Disconnect()
	}
	fmt.Println("bye")
	return scanner.Err()
}

func (e *shellEnv) dispatch(verb string, args []string) error {
	switch verb {
	case "help":
		e.printHelp()
		return nil
	case "scan":
		return e.doScan()
	case "connect":
		return e.doConnect(args)
	case "disconnect":
		return e.app.coord.Disconnect()
	case "ls":
		return e.doList()
	case "read":
		return e.doRead(args)
	case "write":
		return e.doWrite(args)
	case "notify":
		return e.doNotify(args)
	case "log":
		return e.doLog(args)
	case "clear":
		return e.doClear(args)
	case "status":
		fmt.Println(e.app.coord.Status())
		return nil
	default:
		return fmt.Errorf("unknown command %q, type 'help'", verb)
	}
}

func (e *shellEnv) printHelp() {
	e.heading.Println("Commands:")
	fmt.Println(`  scan                       discover nearby devices
  connect <index|address>    connect to a scanned device or a raw address
  disconnect                 close the active connection
  ls                         list services and characteristics
  read <char>                read a value and log it
  write <char> <hex>         write bytes (with-response preferred)
  notify <char>              toggle notifications on/off
  log <char>                 show the logged value history
  clear <char>               clear the logged history
  status                     show the last status line
  quit                       leave the shell`)
}

// printStatusLine renders the one-line session summary shown before each
// prompt: connection, scan result count, active subscriptions, last status.
func (e *shellEnv) printStatusLine() {
	coord := e.app.coord

	parts := make([]string, 0, 4)
	if addr := coord.ConnectedAddress(); addr != "" {
		parts = append(parts, e.accent.Sprintf("[CONN %s]", addr))
	} else {
		parts = append(parts, e.dim.Sprint("[CONN -]"))
	}
	if n := len(coord.Devices()); n > 0 {
		parts = append(parts, fmt.Sprintf("[SCAN %d]", n))
	}
	if n := len(coord.SubscribedKeys()); n > 0 {
		parts = append(parts, e.accent.Sprintf("[NOTIFY %d]", n))
	}
	if status := coord.Status(); status != "" {
		parts = append(parts, e.dim.Sprint(status))
	}
	fmt.Println(strings.Join(parts, " "))
}

func (e *shellEnv) doScan() error {
	fmt.Println("Scanning...")
	devices, err := e.app.coord.Scan(e.ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}
	for i, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Printf("  %2d. %-24s %s  %d dBm\n", i+1, name, dev.Address, dev.RSSI)
	}
	return nil
}

func (e *shellEnv) doConnect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: connect <index|address>")
	}

	address := args[0]
	if idx, err := strconv.Atoi(address); err == nil {
		devices := e.app.coord.Devices()
		if idx < 1 || idx > len(devices) {
			return fmt.Errorf("device index %d out of range (1-%d)", idx, len(devices))
		}
		address = devices[idx-1].Address
	}

	fmt.Printf("Connecting to %s...\n", address)
	return e.app.coord.Connect(e.ctx, address)
}

func (e *shellEnv) doList() error {
	services := e.app.coord.Services()
	if len(services) == 0 {
		return fmt.Errorf("not connected, or no services discovered")
	}

	subscribed := make(map[string]struct{})
	for _, k := range e.app.coord.SubscribedKeys() {
		subscribed[k] = struct{}{}
	}

	for _, svc := range services {
		if svc.KnownName != "" {
			e.heading.Printf("%s (%s)\n", svc.UUID, svc.KnownName)
		} else {
			e.heading.Println(svc.UUID)
		}
		for _, ch := range svc.Characteristics {
			marker := " "
			if _, ok := subscribed[ch.Key]; ok {
				marker = "*"
			}
			name := ch.KnownName
			if name == "" {
				name = "-"
			}
			fmt.Printf("  %s %-28s %-32s [%s]\n", marker, ch.Key, name, ch.Capabilities)
		}
	}
	return nil
}

func (e *shellEnv) doRead(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: read <char>")
	}
	key, err := resolveKey(e.app.coord, args[0])
	if err != nil {
		return err
	}
	entry, err := e.app.coord.Read(key)
	if err != nil {
		return err
	}
	printEntry(key, entry)
	return nil
}

func (e *shellEnv) doWrite(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: write <char> <hex-bytes>")
	}
	key, err := resolveKey(e.app.coord, args[0])
	if err != nil {
		return err
	}
	data, err := codec.ParseHexGroups(strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	res, err := e.app.coord.Write(key, data, true)
	if err != nil {
		return err
	}
	if res.Fallback {
		fmt.Printf("Wrote %d byte(s) (fallback without response)\n", len(data))
	} else {
		fmt.Printf("Wrote %d byte(s)\n", len(data))
	}
	return nil
}

func (e *shellEnv) doNotify(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: notify <char>")
	}
	key, err := resolveKey(e.app.coord, args[0])
	if err != nil {
		return err
	}
	enabled, err := e.app.coord.ToggleNotify(key)
	if err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Notifications on for %s (values land in 'log %s')\n", key, key)
	} else {
		fmt.Printf("Notifications off for %s\n", key)
	}
	return nil
}

func (e *shellEnv) doLog(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: log <char>")
	}
	key, err := resolveKey(e.app.coord, args[0])
	if err != nil {
		return err
	}
	entries := e.app.coord.Log(key)
	if len(entries) == 0 {
		fmt.Println("(no logged values)")
		return nil
	}
	for _, entry := range entries {
		printEntry(key, entry)
	}
	if raw, ok := e.app.coord.LastRaw(key); ok {
		if pretty, isJSON := codec.PrettyJSON(raw, 2); isJSON {
			e.heading.Println("Latest value (JSON):")
			fmt.Println(pretty)
		}
	}
	return nil
}

func (e *shellEnv) doClear(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clear <char>")
	}
	key, err := resolveKey(e.app.coord, args[0])
	if err != nil {
		return err
	}
	if err := e.app.coord.ClearHistory(key); err != nil {
		return err
	}
	fmt.Printf("Cleared history for %s\n", key)
	return nil
}
