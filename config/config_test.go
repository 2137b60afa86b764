package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kyungjunlee/multiversioning/core/scheduler"
	"github.com/kyungjunlee/multiversioning/internal/queue"
	"github.com/stretchr/testify/require"
)

const sample = `
logger:
  level: debug
  format: console
telemetry:
  enabled: true
  service_name: batchdb-bench
engine:
  queue_backend: channel
  tables:
    - table_id: 0
      num_records: 100
    - table_id: 1
      num_records: 50
  scheduler:
    threads: 4
    batch_size: 500
    batch_timeout: 20ms
    merging_shards: 2
  executor:
    threads: 8
    max_blocker_depth: 0
`

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "stdout", cfg.Logger.OutputFile)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, queue.BackendChannel, cfg.Engine.QueueBackend)
	require.Len(t, cfg.Engine.Tables, 2)
	require.Equal(t, uint64(50), cfg.Engine.Tables[1].NumRecords)

	require.Equal(t, 4, cfg.Engine.Scheduler.Threads)
	require.Equal(t, 20*time.Millisecond, cfg.Engine.Scheduler.BatchTimeout)
	require.Equal(t, scheduler.DefaultConfig().InputQueueCapacity, cfg.Engine.Scheduler.InputQueueCapacity)
	require.Equal(t, 8, cfg.Engine.Executor.Threads)
	require.Zero(t, cfg.Engine.Executor.MaxBlockerDepth)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "engine:\n  turbo: true\n",
		"bad threads":     "engine:\n  scheduler:\n    threads: 0\n",
		"bad backend":     "engine:\n  queue_backend: lockfree\n",
		"nameless tracer": "telemetry:\n  enabled: true\n  service_name: \"\"\n",
		"not yaml":        "engine: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	want, err := Parse([]byte(sample))
	require.NoError(t, err)
	data, err := want.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "batchdb.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
