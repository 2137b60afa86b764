package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kyungjunlee/multiversioning/config"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/storage_engine/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestShell(t *testing.T, opts ...func(*config.Config)) *shell {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Tables = []record.TableDefinition{{TableID: 0, NumRecords: 50}}
	cfg.Engine.Scheduler.BatchSize = 20
	for _, opt := range opts {
		opt(&cfg)
	}
	sh, err := newShell(cfg, 7, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(sh.close)
	return sh
}

func runLine(t *testing.T, sh *shell, line string) string {
	t.Helper()
	var out bytes.Buffer
	quit, err := sh.exec(line, &out)
	require.NoError(t, err)
	require.False(t, quit)
	return out.String()
}

func TestShell_RunChecksumReset(t *testing.T) {
	sh := newTestShell(t)
	zero := runLine(t, sh, "checksum")

	require.Contains(t, runLine(t, sh, "run 100"), "executed 100 actions")
	require.NotEqual(t, zero, runLine(t, sh, "checksum"))
	require.Contains(t, runLine(t, sh, "stats"), "100")

	runLine(t, sh, "reset")
	require.Equal(t, zero, runLine(t, sh, "checksum"))
}

func TestShell_Values(t *testing.T) {
	sh := newTestShell(t)
	out := runLine(t, sh, "values 0 3 5")
	rows := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "|") {
			rows++
		}
	}
	require.Equal(t, 4, rows, "header and records 3..5:\n%s", out)

	var buf bytes.Buffer
	_, err := sh.exec("values 9", &buf)
	require.ErrorIs(t, err, memstore.ErrUnknownTable)
}

func TestShell_Errors(t *testing.T) {
	sh := newTestShell(t)
	var out bytes.Buffer

	_, err := sh.exec("run", &out)
	require.ErrorIs(t, err, errUsage)
	_, err = sh.exec("run many", &out)
	require.ErrorIs(t, err, errUsage)
	_, err = sh.exec("launch", &out)
	require.ErrorIs(t, err, errUnknownCommand)

	quit, err := sh.exec("quit", &out)
	require.NoError(t, err)
	require.True(t, quit)
}

func TestShell_HelpAndConfig(t *testing.T) {
	sh := newTestShell(t)
	help := runLine(t, sh, "help")
	for _, c := range commands {
		require.Contains(t, help, c.name)
	}
	require.Contains(t, runLine(t, sh, "config"), "num_records: 50")
}

func TestShell_RunsAreInstrumented(t *testing.T) {
	sh := newTestShell(t, func(cfg *config.Config) { cfg.Telemetry.Enabled = true })
	require.True(t, sh.tel.Enabled())
	runLine(t, sh, "run 100")
	runLine(t, sh, "run 40")

	rec := httptest.NewRecorder()
	sh.tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "batchdb_scheduler_batches_signaled")
	require.Contains(t, body, "batchdb_executor_actions_executed")
}
