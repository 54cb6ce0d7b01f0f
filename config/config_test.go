package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
database:
  dsn: "file::memory:"
  driver: sqlite
branches:
  - name: Downtown
    machines: ["W-1", "D-1"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "X-Actor", cfg.Server.ActorHeader)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.OrphanGrace)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.StaleActiveGrace)
	assert.Equal(t, "system", cfg.Scheduler.SystemActor)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	require.Len(t, cfg.Branches, 1)
	assert.Equal(t, []string{"W-1", "D-1"}, cfg.Branches[0].Machines)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
port = 9090

[scheduler]
sweep_interval_seconds = 15
fee_percent = 12

[[service_types]]
name = "Standard wash"
kind = "wash"
machine_type = "washer"
duration_minutes = 45
price = 700
has_fee = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.SweepInterval)
	assert.Equal(t, int64(12), cfg.Scheduler.FeePercent)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	require.Len(t, cfg.ServiceTypes, 1)
	assert.Equal(t, "washer", cfg.ServiceTypes[0].MachineType)
	assert.True(t, cfg.ServiceTypes[0].HasFee)
}

func TestLoad_FeePercentOutOfRange(t *testing.T) {
	path := writeFile(t, "config.yaml", "scheduler:\n  fee_percent: 250\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.Scheduler.FeePercent)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load("config.example.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Branches, 2)
	assert.Len(t, cfg.ServiceTypes, 5)
	assert.Equal(t, int64(10), cfg.Scheduler.FeePercent)
}
