package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Second, cfg.ScanTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout.Std())
	assert.Equal(t, 100, cfg.LogRingCapacity)
	assert.Equal(t, 256, cfg.HandoffBuffer)
	assert.NotEmpty(t, cfg.DiagPath)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default().LogRingCapacity, cfg.LogRingCapacity)
}

func TestLoad_PartialFileOverridesOnlyNamedFields(t *testing.T) {
	// GOAL: A partial YAML file overrides what it names; everything else
	// keeps its default.
	path := filepath.Join(t.TempDir(), "gattscope.yaml")
	content := "scan_timeout: 3s\nlog_ring_capacity: 7\ndiag_path: /var/log/gattscope.log\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout.Std())
	assert.Equal(t, 7, cfg.LogRingCapacity)
	assert.Equal(t, "/var/log/gattscope.log", cfg.DiagPath)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout.Std(), "unnamed field keeps its default")
	assert.Equal(t, 256, cfg.HandoffBuffer, "unnamed field keeps its default")
}

func TestLoad_MalformedDurationFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect_timeout: soon\n"), 0o644))

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t-"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
