package memstore

import (
	"testing"

	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	layout, err := record.NewLayout([]record.TableDefinition{
		{TableID: 0, NumRecords: 4},
		{TableID: 1, NumRecords: 2},
	})
	require.NoError(t, err)
	return New(layout)
}

func TestStore_ReadWrite(t *testing.T) {
	s := newTestStore(t)

	s.WriteRecordValue(record.Key{TableID: 1, Key: 1}, 42)
	require.Equal(t, int64(42), s.ReadRecordValue(record.Key{TableID: 1, Key: 1}))
	require.Equal(t, int64(0), s.ReadRecordValue(record.Key{TableID: 0, Key: 1}))

	vals, err := s.Values(1)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 42}, vals)

	_, err = s.Values(9)
	require.ErrorIs(t, err, ErrUnknownTable)

	require.Panics(t, func() { s.ReadRecordValue(record.Key{TableID: 0, Key: 4}) })
}

func TestStore_ChecksumAndReset(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)
	empty := a.Checksum()
	require.Equal(t, empty, b.Checksum())

	a.WriteRecordValue(record.Key{TableID: 0, Key: 2}, 7)
	require.NotEqual(t, empty, a.Checksum())

	b.WriteRecordValue(record.Key{TableID: 0, Key: 2}, 7)
	require.Equal(t, a.Checksum(), b.Checksum())

	a.Reset()
	require.Equal(t, empty, a.Checksum())
}
