package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyCompare(t *testing.T) {
	a := Key{TableID: 0, Key: 10}
	b := Key{TableID: 1, Key: 0}
	c := Key{TableID: 1, Key: 5}

	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, c.Compare(b))
	require.Equal(t, 0, b.Compare(Key{TableID: 1, Key: 0}))
	require.True(t, a.Less(c))
	require.False(t, c.Less(a))
}

func TestNewLayout_Validation(t *testing.T) {
	_, err := NewLayout(nil)
	require.ErrorIs(t, err, ErrEmptyLayout)

	_, err = NewLayout([]TableDefinition{{TableID: 0, NumRecords: 0}})
	require.ErrorIs(t, err, ErrEmptyTable)

	_, err = NewLayout([]TableDefinition{{TableID: 3, NumRecords: 1}, {TableID: 3, NumRecords: 2}})
	require.ErrorIs(t, err, ErrDuplicateTable)
}

func TestLayout_OrdinalRoundTrip(t *testing.T) {
	l, err := NewLayout([]TableDefinition{{TableID: 7, NumRecords: 3}, {TableID: 2, NumRecords: 4}})
	require.NoError(t, err)
	require.Equal(t, 7, l.Size())

	// Table 2 sorts first.
	ord, ok := l.Ordinal(Key{TableID: 2, Key: 0})
	require.True(t, ok)
	require.Equal(t, 0, ord)

	ord, ok = l.Ordinal(Key{TableID: 7, Key: 2})
	require.True(t, ok)
	require.Equal(t, 6, ord)

	_, ok = l.Ordinal(Key{TableID: 7, Key: 3})
	require.False(t, ok)
	_, ok = l.Ordinal(Key{TableID: 1, Key: 0})
	require.False(t, ok)

	prev := Key{}
	for i := 0; i < l.Size(); i++ {
		k := l.KeyAt(i)
		got, ok := l.Ordinal(k)
		require.True(t, ok)
		require.Equal(t, i, got)
		if i > 0 {
			require.True(t, prev.Less(k), "ordinal order must follow key order")
		}
		prev = k
	}
	require.Panics(t, func() { l.KeyAt(l.Size()) })
}

func TestLayout_Shards(t *testing.T) {
	l, err := NewLayout([]TableDefinition{{TableID: 0, NumRecords: 10}})
	require.NoError(t, err)

	shards, err := l.Shards(3)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	require.Equal(t, KeyRange{From: Key{Key: 0}, To: Key{Key: 3}}, shards[0])
	require.Equal(t, KeyRange{From: Key{Key: 4}, To: Key{Key: 6}}, shards[1])
	require.Equal(t, KeyRange{From: Key{Key: 7}, To: Key{Key: 9}}, shards[2])

	for i := uint64(0); i < 10; i++ {
		hits := 0
		for _, s := range shards {
			if s.Contains(Key{Key: i}) {
				hits++
			}
		}
		require.Equal(t, 1, hits, "key %d must belong to exactly one shard", i)
	}

	_, err = l.Shards(0)
	require.ErrorIs(t, err, ErrInvalidShards)
	_, err = l.Shards(11)
	require.ErrorIs(t, err, ErrInvalidShards)
}
