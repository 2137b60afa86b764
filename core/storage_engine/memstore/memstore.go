// Package memstore is the in-memory record store actions execute against.
// There is one int64 slot per record of the layout.
//
// The store performs no synchronisation of its own: the lock schedule
// guarantees that a record is written by at most one action at a time and
// never read while written.
package memstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/kyungjunlee/multiversioning/core/record"
)

var ErrUnknownTable = errors.New("unknown table")

// Store implements transaction.Storage over a record.Layout.
type Store struct {
	layout *record.Layout
	values []int64
}

// New allocates a zeroed store for every record of layout.
func New(layout *record.Layout) *Store {
	return &Store{
		layout: layout,
		values: make([]int64, layout.Size()),
	}
}

// Layout returns the layout the store was built for.
func (s *Store) Layout() *record.Layout { return s.layout }

func (s *Store) ordinal(k record.Key) int {
	ord, ok := s.layout.Ordinal(k)
	if !ok {
		// Keys are validated against the layout before admission.
		panic(fmt.Sprintf("memstore: record %s is not part of the layout", k))
	}
	return ord
}

// ReadRecordValue returns the current value of k.
func (s *Store) ReadRecordValue(k record.Key) int64 {
	return s.values[s.ordinal(k)]
}

// WriteRecordValue overwrites the value of k.
func (s *Store) WriteRecordValue(k record.Key, v int64) {
	s.values[s.ordinal(k)] = v
}

// Values returns a copy of every value of tableID, indexed by key.
func (s *Store) Values(tableID uint32) ([]int64, error) {
	def, ok := s.layout.Table(tableID)
	if !ok {
		return nil, fmt.Errorf("memstore: %w %d", ErrUnknownTable, tableID)
	}
	start, _ := s.layout.Ordinal(record.Key{TableID: tableID})
	out := make([]int64, def.NumRecords)
	copy(out, s.values[start:start+int(def.NumRecords)])
	return out, nil
}

// Checksum hashes every value in key order. Two stores over the same layout
// with the same contents have the same checksum.
func (s *Store) Checksum() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range s.values {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Reset zeroes every record.
func (s *Store) Reset() {
	clear(s.values)
}
