package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/gattscope/internal/config"
	"github.com/srg/gattscope/internal/diag"
	"github.com/srg/gattscope/internal/gatt/goble"
	"github.com/srg/gattscope/internal/session"
)

// appSession bundles the wired session stack for one command invocation.
type appSession struct {
	cfg   *config.Config
	coord *session.Coordinator
	sink  *diag.Sink
}

// newAppSession loads configuration, starts the diagnostic sink, and brings
// up a coordinator over the go-ble gateway. tweak, when non-nil, adjusts the
// loaded config before anything is wired (flag overrides).
func newAppSession(cmd *cobra.Command, tweak func(*config.Config)) (*appSession, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, err
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = defaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}

	sink, err := diag.New(cfg.DiagPath, 256, logger)
	if err != nil {
		return nil, err
	}
	if err := sink.Start(); err != nil {
		return nil, err
	}

	coord := session.NewCoordinator(goble.New(logger), cfg, sink, logger)
	if err := coord.Start(); err != nil {
		sink.Stop()
		return nil, err
	}

	return &appSession{cfg: cfg, coord: coord, sink: sink}, nil
}

// Close tears the stack down in reverse order.
func (a *appSession) Close() {
	a.coord.Stop()
	a.sink.Stop()
}

func defaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "gattscope", "config.yaml")
}

// resolveKey accepts either a full attribute key ("svc:char[:handle]") or a
// bare characteristic UUID and resolves it against the discovered hierarchy.
func resolveKey(coord *session.Coordinator, input string) (string, error) {
	if _, err := coord.Resolve(input); err == nil {
		return input, nil
	}

	norm := strings.ToLower(strings.ReplaceAll(input, "-", ""))
	var matches []string
	for _, svc := range coord.Services() {
		for _, ch := range svc.Characteristics {
			if ch.UUID == norm {
				matches = append(matches, ch.Key)
			}
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("characteristic %q not found on this device", input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("characteristic %q is ambiguous, use a full key: %s",
			input, strings.Join(matches, ", "))
	}
}
