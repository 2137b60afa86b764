package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFactory_GenerateDisjointKeys(t *testing.T) {
	spec := Specification{
		Writes: LockDistribution{Low: 0, High: 99, AvgLocks: 5, StdDevLocks: 2},
		Reads:  LockDistribution{Low: 0, High: 99, AvgLocks: 5, StdDevLocks: 2},
	}
	f, err := NewFactory(spec, 42)
	require.NoError(t, err)

	actions, err := f.Generate(200)
	require.NoError(t, err)
	require.Len(t, actions, 200)

	for i, act := range actions {
		require.Equal(t, uint64(i), act.ID)
		require.True(t, act.Sealed())
		writes := make(map[uint64]bool)
		for _, k := range act.WriteSet() {
			require.LessOrEqual(t, k.Key, uint64(99))
			writes[k.Key] = true
		}
		for _, k := range act.ReadSet() {
			require.False(t, writes[k.Key], "read and write sets must be disjoint")
		}
	}
}

func TestFactory_Deterministic(t *testing.T) {
	spec := Specification{Writes: LockDistribution{Low: 0, High: 9, AvgLocks: 3, StdDevLocks: 1}}

	f1, err := NewFactory(spec, 7)
	require.NoError(t, err)
	f2, err := NewFactory(spec, 7)
	require.NoError(t, err)

	a1, err := f1.Generate(50)
	require.NoError(t, err)
	a2, err := f2.Generate(50)
	require.NoError(t, err)
	for i := range a1 {
		require.Equal(t, a1[i].WriteSet(), a2[i].WriteSet())
	}
}

func TestFactory_DenseSampling(t *testing.T) {
	// Every key of the range is written by every action.
	spec := Specification{Writes: LockDistribution{Low: 10, High: 14, AvgLocks: 5}}
	f, err := NewFactory(spec, 1)
	require.NoError(t, err)

	actions, err := f.Generate(3)
	require.NoError(t, err)
	for _, act := range actions {
		require.Len(t, act.WriteSet(), 5)
		require.Empty(t, act.ReadSet())
	}
}

func TestFactory_InvalidSpec(t *testing.T) {
	_, err := NewFactory(Specification{Writes: LockDistribution{Low: 5, High: 1}}, 1)
	require.ErrorIs(t, err, ErrInvalidDistribution)

	f, err := NewFactory(Specification{Writes: LockDistribution{Low: 0, High: 1, AvgLocks: 5}}, 1)
	require.NoError(t, err)
	_, err = f.Generate(1)
	require.ErrorIs(t, err, ErrInvalidDistribution)
}
