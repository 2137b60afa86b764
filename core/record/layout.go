package record

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmptyLayout     = errors.New("layout must contain at least one table")
	ErrEmptyTable      = errors.New("table must contain at least one record")
	ErrDuplicateTable  = errors.New("table defined more than once")
	ErrInvalidShards   = errors.New("shard count must be positive and no larger than the layout")
	ErrOrdinalOutRange = errors.New("ordinal out of range")
)

// TableDefinition declares a table of NumRecords records keyed [0, NumRecords).
type TableDefinition struct {
	TableID    uint32 `yaml:"table_id"`
	NumRecords uint64 `yaml:"num_records"`
}

// Layout maps every key of every table onto a dense ordinal space. Tables are
// laid out in ascending TableID order, so ordinal order equals key order.
// A Layout is immutable after construction.
type Layout struct {
	tables []TableDefinition
	// offsets[i] is the ordinal of key 0 of tables[i].
	offsets []int
	index   map[uint32]int
	size    int
}

// NewLayout builds the layout for the given tables.
func NewLayout(defs []TableDefinition) (*Layout, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyLayout
	}
	tables := make([]TableDefinition, len(defs))
	copy(tables, defs)
	sort.Slice(tables, func(i, j int) bool { return tables[i].TableID < tables[j].TableID })

	l := &Layout{
		tables:  tables,
		offsets: make([]int, len(tables)),
		index:   make(map[uint32]int, len(tables)),
	}
	for i, t := range tables {
		if t.NumRecords == 0 {
			return nil, fmt.Errorf("table %d: %w", t.TableID, ErrEmptyTable)
		}
		if _, dup := l.index[t.TableID]; dup {
			return nil, fmt.Errorf("table %d: %w", t.TableID, ErrDuplicateTable)
		}
		l.index[t.TableID] = i
		l.offsets[i] = l.size
		l.size += int(t.NumRecords)
	}
	return l, nil
}

// Size is the total number of records across all tables.
func (l *Layout) Size() int { return l.size }

// Tables returns the table definitions in key order.
func (l *Layout) Tables() []TableDefinition {
	out := make([]TableDefinition, len(l.tables))
	copy(out, l.tables)
	return out
}

// Table returns the definition of tableID.
func (l *Layout) Table(tableID uint32) (TableDefinition, bool) {
	i, ok := l.index[tableID]
	if !ok {
		return TableDefinition{}, false
	}
	return l.tables[i], true
}

// Ordinal returns the dense position of k, or false when k is not part of
// the layout.
func (l *Layout) Ordinal(k Key) (int, bool) {
	i, ok := l.index[k.TableID]
	if !ok || k.Key >= l.tables[i].NumRecords {
		return 0, false
	}
	return l.offsets[i] + int(k.Key), true
}

// Contains reports whether k is a record of the layout.
func (l *Layout) Contains(k Key) bool {
	_, ok := l.Ordinal(k)
	return ok
}

// KeyAt is the inverse of Ordinal. It panics on an out of range ordinal.
func (l *Layout) KeyAt(ord int) Key {
	if ord < 0 || ord >= l.size {
		panic(fmt.Sprintf("%v: %d", ErrOrdinalOutRange, ord))
	}
	i := sort.Search(len(l.offsets), func(i int) bool { return l.offsets[i] > ord }) - 1
	return Key{TableID: l.tables[i].TableID, Key: uint64(ord - l.offsets[i])}
}

// First and Last are the smallest and largest keys of the layout.
func (l *Layout) First() Key { return l.KeyAt(0) }
func (l *Layout) Last() Key { return l.KeyAt(l.size - 1) }

// Shards splits the ordinal space into n contiguous, non-overlapping,
// inclusive key ranges that together cover the whole layout.
func (l *Layout) Shards(n int) ([]KeyRange, error) {
	if n <= 0 || n > l.size {
		return nil, fmt.Errorf("%w: %d shards for %d records", ErrInvalidShards, n, l.size)
	}
	ranges := make([]KeyRange, 0, n)
	per, extra := l.size/n, l.size%n
	start := 0
	for i := 0; i < n; i++ {
		width := per
		if i < extra {
			width++
		}
		ranges = append(ranges, KeyRange{From: l.KeyAt(start), To: l.KeyAt(start + width - 1)})
		start += width
	}
	return ranges, nil
}
