package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input:\n  mode: tzsp\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "exact", cfg.FlowCache.HashMode)
	require.Equal(t, 10, cfg.FlowCache.InactiveWindowSeconds)
	require.Equal(t, 20, cfg.FlowCache.ActiveExtraSeconds)
	require.Equal(t, 10000, cfg.Output.File.RecordsPerFile)
	require.Equal(t, 5, cfg.Output.NetFlow.Version)
}

func TestLoad_PreservesExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
flow_cache:
  hash_mode: near
  bidir: true
  inactive_window_seconds: 5
  active_extra_seconds: 15
output:
  file:
    enabled: true
    records_per_file: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "near", cfg.FlowCache.HashMode)
	require.True(t, cfg.FlowCache.Bidir)
	require.Equal(t, 5, cfg.FlowCache.InactiveWindowSeconds)
	require.Equal(t, 500, cfg.Output.File.RecordsPerFile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	require.Error(t, err)
}
