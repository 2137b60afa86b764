package transaction

import (
	"fmt"
	"math/rand/v2"

	"github.com/kyungjunlee/multiversioning/core/record"
)

// LockDistribution describes how many locks of one kind an action takes and
// which keys they cover. Keys are drawn uniformly from [Low, High].
type LockDistribution struct {
	Low         uint64  `yaml:"low"`
	High        uint64  `yaml:"high"`
	AvgLocks    float64 `yaml:"avg_locks"`
	StdDevLocks float64 `yaml:"std_dev_locks"`
}

func (d LockDistribution) space() uint64 { return d.High - d.Low + 1 }

func (d LockDistribution) validate() error {
	if d.High < d.Low {
		return fmt.Errorf("%w: high %d < low %d", ErrInvalidDistribution, d.High, d.Low)
	}
	if d.AvgLocks < 0 || d.StdDevLocks < 0 {
		return fmt.Errorf("%w: negative lock count parameters", ErrInvalidDistribution)
	}
	return nil
}

// Specification is the shape of generated actions. Read and write keys of a
// single action never overlap.
type Specification struct {
	TableID uint32           `yaml:"table_id"`
	Writes  LockDistribution `yaml:"writes"`
	Reads   LockDistribution `yaml:"reads"`
}

// Factory generates synthetic workloads.
type Factory struct {
	spec  Specification
	rng   *rand.Rand
	limit int
}

// NewFactory validates spec and returns a factory seeded with seed, so that
// a given (spec, seed) pair always yields the same workload.
func NewFactory(spec Specification, seed uint64) (*Factory, error) {
	if err := spec.Writes.validate(); err != nil {
		return nil, fmt.Errorf("writes: %w", err)
	}
	if err := spec.Reads.validate(); err != nil {
		return nil, fmt.Errorf("reads: %w", err)
	}
	return &Factory{
		spec:  spec,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		limit: DefaultMaxRWSetSize,
	}, nil
}

// Generate creates n sealed ReadModifyWrite actions with ids 0..n-1.
func (f *Factory) Generate(n int) ([]*Action, error) {
	actions := make([]*Action, 0, n)
	for i := 0; i < n; i++ {
		act, err := f.generate(uint64(i))
		if err != nil {
			return nil, err
		}
		actions = append(actions, act)
	}
	return actions, nil
}

func (f *Factory) generate(id uint64) (*Action, error) {
	numWrites := f.lockCount(f.spec.Writes)
	numReads := f.lockCount(f.spec.Reads)
	if numWrites+numReads > f.limit {
		return nil, fmt.Errorf("%w: %d locks exceed limit %d", ErrRWSetFull, numWrites+numReads, f.limit)
	}

	writes, err := f.sample(f.spec.Writes, numWrites, nil)
	if err != nil {
		return nil, fmt.Errorf("writes: %w", err)
	}
	reads, err := f.sample(f.spec.Reads, numReads, writes)
	if err != nil {
		return nil, fmt.Errorf("reads: %w", err)
	}

	act := NewWithLimit(id, f.limit, ReadModifyWrite{})
	for k := range writes {
		if err := act.AddWriteKey(record.Key{TableID: f.spec.TableID, Key: k}); err != nil {
			return nil, err
		}
	}
	for k := range reads {
		if err := act.AddReadKey(record.Key{TableID: f.spec.TableID, Key: k}); err != nil {
			return nil, err
		}
	}
	act.Seal()
	return act, nil
}

// lockCount draws a non-negative lock count from the normal distribution.
func (f *Factory) lockCount(d LockDistribution) int {
	if d.AvgLocks == 0 {
		return 0
	}
	for {
		v := f.rng.NormFloat64()*d.StdDevLocks + d.AvgLocks
		if v >= 0 {
			return int(v)
		}
	}
}

// sample draws n distinct keys from d that are not in exclude.
func (f *Factory) sample(d LockDistribution, n int, exclude map[uint64]struct{}) (map[uint64]struct{}, error) {
	excluded := 0
	for k := range exclude {
		if k >= d.Low && k <= d.High {
			excluded++
		}
	}
	space := d.space()
	if uint64(n+excluded) > space {
		return nil, fmt.Errorf("%w: cannot draw %d keys from %d candidates", ErrInvalidDistribution, n, space-uint64(excluded))
	}

	out := make(map[uint64]struct{}, n)
	if uint64(n+excluded)*2 > space {
		// Dense: start from every legal key and reject at random.
		for k := d.Low; k <= d.High; k++ {
			if _, skip := exclude[k]; !skip {
				out[k] = struct{}{}
			}
		}
		for len(out) > n {
			delete(out, d.Low+f.rng.Uint64N(space))
		}
		return out, nil
	}
	for len(out) < n {
		k := d.Low + f.rng.Uint64N(space)
		if _, skip := exclude[k]; !skip {
			out[k] = struct{}{}
		}
	}
	return out, nil
}
