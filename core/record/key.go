// Package record defines record identities and the dense key layout shared by
// the lock table and the storage engine.
package record

import "fmt"

// Key identifies one record. Keys are totally ordered by (TableID, Key).
type Key struct {
	Key     uint64
	TableID uint32
}

// Compare returns -1, 0 or 1 depending on whether k sorts before, equal to or
// after other.
func (k Key) Compare(other Key) int {
	switch {
	case k.TableID < other.TableID:
		return -1
	case k.TableID > other.TableID:
		return 1
	case k.Key < other.Key:
		return -1
	case k.Key > other.Key:
		return 1
	}
	return 0
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.TableID, k.Key)
}

// KeyRange is an inclusive range of keys.
type KeyRange struct {
	From Key
	To   Key
}

// Contains reports whether k lies inside the range.
func (r KeyRange) Contains(k Key) bool {
	return r.From.Compare(k) <= 0 && k.Compare(r.To) <= 0
}
