package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tileworld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ssh_addr: ":2022"
world_seed: 77
tick_rate: 20
snapshot_timeout: 45s
settle_delay: 250ms
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":2022", cfg.SSHAddr)
	assert.Equal(t, int64(77), cfg.WorldSeed)
	assert.Equal(t, 20, cfg.TickRate)
	assert.Equal(t, 45*time.Second, cfg.SnapshotTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay.Std())

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().WSAddr, cfg.WSAddr)
	assert.Equal(t, Default().RestartBackoff, cfg.RestartBackoff)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_rate: -5\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
max_queued_bytes: 100
high_water_bytes: 200
`), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("request_timeout: banana\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
