package packing

import (
	"github.com/kyungjunlee/multiversioning/core/record"
	"github.com/kyungjunlee/multiversioning/core/transaction"
)

// Packer extracts packings from a container. Within one packing no two
// actions conflict: a write conflicts with any lock on the same record, a
// read conflicts with a write. A Packer is not safe for concurrent use.
type Packer struct {
	// claimed maps a record to true when it is claimed exclusively in the
	// packing under construction.
	claimed map[record.Key]bool
}

func NewPacker() *Packer {
	return &Packer{claimed: make(map[record.Key]bool)}
}

func (p *Packer) conflicts(act *transaction.Action) bool {
	for _, k := range act.WriteSet() {
		if _, taken := p.claimed[k]; taken {
			return true
		}
	}
	for _, k := range act.ReadSet() {
		if p.claimed[k] {
			return true
		}
	}
	return false
}

func (p *Packer) claim(act *transaction.Action) {
	for _, k := range act.WriteSet() {
		p.claimed[k] = true
	}
	for _, k := range act.ReadSet() {
		if _, taken := p.claimed[k]; !taken {
			p.claimed[k] = false
		}
	}
}

// GetPacking performs one greedy scan over the remaining actions of c and
// returns the ones that form a conflict-free packing. Skipped actions stay in
// the container for the next call.
func (p *Packer) GetPacking(c *ArrayContainer) []*transaction.Action {
	clear(p.claimed)
	var packing []*transaction.Action
	for act, ok := c.PeekCurrent(); ok; act, ok = c.PeekCurrent() {
		if p.conflicts(act) {
			c.Advance()
			continue
		}
		p.claim(act)
		packing = append(packing, c.TakeCurrent())
	}
	c.SortRemaining()
	return packing
}

// Pack drains actions into packings. Every action appears in exactly one
// packing. An empty batch yields no packings.
func (p *Packer) Pack(actions []*transaction.Action) [][]*transaction.Action {
	c := NewArrayContainer(actions)
	var packings [][]*transaction.Action
	for c.Remaining() > 0 {
		packings = append(packings, p.GetPacking(c))
	}
	return packings
}
