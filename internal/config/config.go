// Package config loads gattscope settings from an optional YAML file,
// filling unset fields from defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config carries the tunables of the session layer. Fields a YAML file does
// not name keep their defaults.
type Config struct {
	ScanTimeout    Duration `yaml:"scan_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`

	// LogRingCapacity bounds the per-attribute value history.
	LogRingCapacity int `yaml:"log_ring_capacity" default:"100"`

	// HandoffBuffer bounds the session hand-off queue for unsolicited events.
	HandoffBuffer int `yaml:"handoff_buffer" default:"256"`

	// DiagPath is the append-only diagnostic sink location. Empty selects
	// a file under the user cache directory.
	DiagPath string `yaml:"diag_path"`
}

// Default returns a Config populated entirely from defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load reads path and overlays it on the defaults. A missing file is not an
// error: the defaults are returned. A present but malformed file is.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// normalize fills every zero field with its default.
func (c *Config) normalize() {
	defaults.SetDefaults(c)

	if c.ScanTimeout == 0 {
		c.ScanTimeout = Duration(10 * time.Second)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(30 * time.Second)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(5 * time.Second)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = Duration(5 * time.Second)
	}
	if c.DiagPath == "" {
		c.DiagPath = defaultDiagPath()
	}
}

// defaultDiagPath places the sink under the user cache dir, falling back to
// the temp dir when no cache dir is resolvable.
func defaultDiagPath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "gattscope", "errors.log")
}
