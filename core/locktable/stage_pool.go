package locktable

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kyungjunlee/multiversioning/core/transaction"
)

// StageID is a generation-checked handle to a pooled lock stage: the low 32
// bits index a slot, the high 32 bits are the slot generation at allocation.
// A handle outlives its stage safely; lookups of a released stage fail.
type StageID uint64

func makeStageID(slot, gen uint32) StageID { return StageID(uint64(gen)<<32 | uint64(slot)) }

func (id StageID) slot() uint32 { return uint32(id) }
func (id StageID) gen() uint32  { return uint32(id >> 32) }

func (id StageID) String() string {
	return fmt.Sprintf("%d#%d", id.slot(), id.gen())
}

// DefaultMaxLockStages bounds the number of simultaneously live stages.
const DefaultMaxLockStages = 1 << 22

const chunkSize = 4096

type stageSlot struct {
	gen   uint32
	stage atomic.Pointer[LockStage]
}

type stageChunk [chunkSize]stageSlot

// StagePool is the arena lock stages are allocated from. Chunks of slots
// are allocated lazily and never moved, so lookups need no lock.
type StagePool struct {
	mu     sync.Mutex
	chunks []atomic.Pointer[stageChunk]
	free   []uint32
	next   uint32

	capacity      int
	stageCapacity int
	live          atomic.Int64
}

// NewStagePool creates a pool for up to capacity live stages, each shared
// stage holding at most stageCapacity requesters.
func NewStagePool(capacity, stageCapacity int) *StagePool {
	if capacity <= 0 {
		capacity = DefaultMaxLockStages
	}
	if stageCapacity <= 0 {
		stageCapacity = DefaultMaxRequestersPerStage
	}
	return &StagePool{
		chunks:        make([]atomic.Pointer[stageChunk], (capacity+chunkSize-1)/chunkSize),
		capacity:      capacity,
		stageCapacity: stageCapacity,
	}
}

func (p *StagePool) slotFor(idx uint32) *stageSlot {
	c := p.chunks[idx/chunkSize].Load()
	if c == nil {
		return nil
	}
	return &c[idx%chunkSize]
}

// Alloc creates a stage holding first as its only requester.
func (p *StagePool) Alloc(lockType LockType, first *transaction.Action) (*LockStage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		if int(p.next) >= p.capacity {
			return nil, fmt.Errorf("%w: %d live stages", ErrStagePoolExhausted, p.live.Load())
		}
		idx = p.next
		p.next++
		if c := &p.chunks[idx/chunkSize]; c.Load() == nil {
			c.Store(new(stageChunk))
		}
	}

	slot := p.slotFor(idx)
	slot.gen++
	stage := newLockStage(makeStageID(idx, slot.gen), lockType, p.stageCapacity, first)
	slot.stage.Store(stage)
	p.live.Add(1)
	return stage, nil
}

// Get resolves id to its stage. It fails for released or unknown handles.
func (p *StagePool) Get(id StageID) (*LockStage, bool) {
	idx := id.slot()
	if int(idx/chunkSize) >= len(p.chunks) {
		return nil, false
	}
	slot := p.slotFor(idx)
	if slot == nil {
		return nil, false
	}
	s := slot.stage.Load()
	if s == nil || s.id != id {
		return nil, false
	}
	return s, true
}

// Release returns the slot of id to the pool.
func (p *StagePool) Release(id StageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := id.slot()
	if int(idx) >= int(p.next) {
		return fmt.Errorf("stage %s: %w", id, ErrStaleStage)
	}
	slot := p.slotFor(idx)
	if s := slot.stage.Load(); s == nil || s.id != id {
		return fmt.Errorf("stage %s: %w", id, ErrStaleStage)
	}
	slot.stage.Store(nil)
	p.free = append(p.free, idx)
	p.live.Add(-1)
	return nil
}

// Live is the number of allocated, unreleased stages.
func (p *StagePool) Live() int { return int(p.live.Load()) }

// StageCapacity is the requester bound of shared stages.
func (p *StagePool) StageCapacity() int { return p.stageCapacity }

// Reset releases every stage. Generations are preserved so handles issued
// before the reset stay invalid.
func (p *StagePool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = p.free[:0]
	for idx := uint32(0); idx < p.next; idx++ {
		if slot := p.slotFor(idx); slot.stage.Load() != nil {
			slot.stage.Store(nil)
		}
		p.free = append(p.free, p.next-1-idx)
	}
	p.live.Store(0)
}
