package supervisor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/kyungjunlee/multiversioning/core/locktable"
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/transaction"
	"github.com/kyungjunlee/multiversioning/internal/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testRecords = 100
	testActions = 1000
	testLocks   = 10
)

// --- Test Helpers ---

// shape sizes the pools of a test supervisor. Zero or nil fields keep the
// defaults used by most tests.
type shape struct {
	sched, helpers, shards, exec int
	depth                        *int
	batch                        int
	backend                      queue.Backend
}

func depth(n int) *int { return &n }

func (c shape) String() string {
	d := "default"
	if c.depth != nil {
		d = fmt.Sprint(*c.depth)
	}
	return fmt.Sprintf("sched=%d/helpers=%d/shards=%d/exec=%d/depth=%s/batch=%d/%s",
		c.sched, c.helpers, c.shards, c.exec, d, c.batch, c.backend)
}

func newTestSupervisor(t *testing.T, schedThreads, execThreads int, backend queue.Backend) *Supervisor {
	t.Helper()
	return newShapedSupervisor(t, shape{sched: schedThreads, exec: execThreads, backend: backend}, nil)
}

func newShapedSupervisor(t *testing.T, c shape, tables []record.TableDefinition) *Supervisor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Tables = tables
	if cfg.Tables == nil {
		cfg.Tables = []record.TableDefinition{{TableID: 0, NumRecords: testRecords}}
	}
	cfg.QueueBackend = c.backend
	cfg.Scheduler.Threads = c.sched
	cfg.Scheduler.HelperThreads = c.helpers
	if c.shards > 0 {
		cfg.Scheduler.MergingShards = c.shards
	}
	cfg.Scheduler.BatchSize = 100
	if c.batch > 0 {
		cfg.Scheduler.BatchSize = c.batch
	}
	cfg.Executor.Threads = c.exec
	if c.depth != nil {
		cfg.Executor.MaxBlockerDepth = *c.depth
	}
	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// overlappingWorkload makes action i write records i..i+9 and read records
// i+10..i+19, modulo the table size. Every record ends up written by exactly
// testActions*testLocks/testRecords actions.
func overlappingWorkload(t *testing.T) []*transaction.Action {
	t.Helper()
	actions := make([]*transaction.Action, 0, testActions)
	for i := 0; i < testActions; i++ {
		var writes, reads []record.Key
		for j := 0; j < testLocks; j++ {
			writes = append(writes, record.Key{Key: uint64((i + j) % testRecords)})
			reads = append(reads, record.Key{Key: uint64((i + j + testLocks) % testRecords)})
		}
		act, err := transaction.NewWithKeys(uint64(i), writes, reads, transaction.ReadModifyWrite{})
		require.NoError(t, err)
		actions = append(actions, act)
	}
	return actions
}

func waitAll(t *testing.T, s *Supervisor, n int) []*transaction.Action {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := s.WaitForOutput(ctx, n)
	require.NoError(t, err)
	return out
}

func requireAllRecords(t *testing.T, s *Supervisor, want int64) {
	t.Helper()
	values, err := s.Storage().Values(0)
	require.NoError(t, err)
	for i, v := range values {
		require.Equal(t, want, v, "record %d", i)
	}
}

// --- Tests ---

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Tables = nil
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.QueueBackend = "lockfree"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MaxRWSetSize = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := New(cfg, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSupervisor_ConsistentReadModifyWrite(t *testing.T) {
	configs := []shape{
		{sched: 1, exec: 2, backend: queue.BackendSpin},
		{sched: 2, exec: 1, backend: queue.BackendSpin},
		{sched: 2, exec: 2, backend: queue.BackendSpin},
		{sched: 2, exec: 2, backend: queue.BackendChannel},
		{sched: 3, helpers: 2, shards: 4, exec: 3, batch: 37, backend: queue.BackendSpin},
		{sched: 4, helpers: 1, shards: 7, exec: 2, depth: depth(0), batch: 13, backend: queue.BackendChannel},
		{sched: 2, shards: 100, exec: 4, depth: depth(1), batch: 1, backend: queue.BackendSpin},
	}
	for _, c := range configs {
		t.Run(c.String(), func(t *testing.T) {
			s := newShapedSupervisor(t, c, nil)
			actions := overlappingWorkload(t)

			require.NoError(t, s.SetSimulationWorkload(actions))
			require.NoError(t, s.Start(context.Background()))
			out := waitAll(t, s, testActions)
			require.NoError(t, s.Stop())
			require.NoError(t, s.Err())

			require.Len(t, out, testActions)
			seen := make(map[uint64]bool, testActions)
			for _, act := range out {
				require.Equal(t, transaction.StateDone, act.State())
				require.False(t, seen[act.ID], "action %d surfaced twice", act.ID)
				seen[act.ID] = true
			}
			requireAllRecords(t, s, testActions*testLocks/testRecords)
			require.Zero(t, s.Schedule().Table().QueuedStages())
			require.Zero(t, s.Schedule().Table().Pool().Live(), "every stage returns to the pool")
		})
	}
}

func TestSupervisor_RandomWorkloadAcrossTables(t *testing.T) {
	tables := []record.TableDefinition{{TableID: 0, NumRecords: 60}, {TableID: 1, NumRecords: 40}}
	rng := rand.New(rand.NewPCG(3, 7))
	writesPer := map[record.Key]int64{}

	const n = 800
	actions := make([]*transaction.Action, 0, n)
	for i := 0; i < n; i++ {
		keys := map[record.Key]bool{}
		for len(keys) < 2+rng.IntN(7) {
			table := uint32(rng.IntN(2))
			keys[record.Key{TableID: table, Key: rng.Uint64N(tables[table].NumRecords)}] = true
		}
		var writes, reads []record.Key
		for k := range keys {
			if len(writes) == 0 || rng.IntN(2) == 0 {
				writes = append(writes, k)
				writesPer[k]++
			} else {
				reads = append(reads, k)
			}
		}
		act, err := transaction.NewWithKeys(uint64(i), writes, reads, transaction.ReadModifyWrite{})
		require.NoError(t, err)
		actions = append(actions, act)
	}

	s := newShapedSupervisor(t, shape{sched: 4, helpers: 1, shards: 7, exec: 2, depth: depth(0), batch: 13, backend: queue.BackendChannel}, tables)
	require.NoError(t, s.SetSimulationWorkload(actions))
	require.NoError(t, s.Start(context.Background()))
	require.Len(t, waitAll(t, s, n), n)
	require.NoError(t, s.Stop())

	for _, td := range tables {
		values, err := s.Storage().Values(td.TableID)
		require.NoError(t, err)
		require.Len(t, values, int(td.NumRecords))
		for i, v := range values {
			require.Equal(t, writesPer[record.Key{TableID: td.TableID, Key: uint64(i)}], v, "record %d/%d", td.TableID, i)
		}
	}
	require.Zero(t, s.Schedule().Table().QueuedStages())
	require.Zero(t, s.Schedule().Table().Pool().Live())
}

func TestSupervisor_StreamedWorkload(t *testing.T) {
	s := newTestSupervisor(t, 2, 2, queue.BackendSpin)
	require.NoError(t, s.Start(context.Background()))

	out, err := s.RunWorkload(context.Background(), overlappingWorkload(t))
	require.NoError(t, err)
	require.Len(t, out, testActions)
	requireAllRecords(t, s, testActions*testLocks/testRecords)
	require.Nil(t, s.GetOutput())
}

func TestSupervisor_ResetReplaysIdentically(t *testing.T) {
	s := newTestSupervisor(t, 2, 2, queue.BackendSpin)
	actions := overlappingWorkload(t)

	run := func() uint64 {
		require.NoError(t, s.SetSimulationWorkload(actions))
		require.NoError(t, s.Start(context.Background()))
		waitAll(t, s, testActions)
		require.NoError(t, s.Stop())
		return s.Storage().Checksum()
	}

	first := run()
	firstRun := s.RunID()

	require.NoError(t, s.Reset())
	requireAllRecords(t, s, 0)
	require.NotEqual(t, firstRun, s.RunID())
	for _, act := range actions {
		act.Reset()
	}

	require.Equal(t, first, run())
	requireAllRecords(t, s, testActions*testLocks/testRecords)
}

func TestSupervisor_RejectsInvalidActions(t *testing.T) {
	s := newTestSupervisor(t, 1, 1, queue.BackendSpin)

	unknown, err := transaction.NewWithKeys(1, []record.Key{{Key: testRecords}}, nil, nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.SetSimulationWorkload([]*transaction.Action{unknown}), locktable.ErrUnknownRecord)

	otherTable, err := transaction.NewWithKeys(2, nil, []record.Key{{Key: 0, TableID: 7}}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.SetSimulationWorkload([]*transaction.Action{otherTable}), locktable.ErrUnknownRecord)

	valid, err := transaction.NewWithKeys(3, []record.Key{{Key: 0}}, nil, nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.AddAction(valid), ErrSystemNotRunning)
	require.ErrorIs(t, s.Flush(), ErrSystemNotRunning)
}

func TestSupervisor_Lifecycle(t *testing.T) {
	s := newTestSupervisor(t, 1, 1, queue.BackendSpin)

	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Running())
	require.ErrorIs(t, s.Start(context.Background()), ErrSystemRunning)
	require.ErrorIs(t, s.Reset(), ErrSystemRunning)
	require.Len(t, s.SchedulerStates(), 1)

	require.NoError(t, s.Stop())
	require.False(t, s.Running())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Reset())

	_, err := s.RunWorkload(context.Background(), nil)
	require.ErrorIs(t, err, ErrSystemNotRunning)
}

func TestSupervisor_InputQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tables = []record.TableDefinition{{TableID: 0, NumRecords: testRecords}}
	cfg.Scheduler.BatchSize = 10
	cfg.Scheduler.InputQueueCapacity = 2
	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	err = s.SetSimulationWorkload(overlappingWorkload(t)[:50])
	require.ErrorIs(t, err, ErrInputQueueFull)
}
