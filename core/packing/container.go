// Package packing partitions a batch of actions into an ordered sequence of
// conflict-free packings.
package packing

import (
	"slices"

	"github.com/kyungjunlee/multiversioning/core/transaction"
)

// ArrayContainer holds the actions of one batch while it is being packed.
//
// Actions that have been taken into a packing are compacted in front of the
// barrier; the cursor walks the region behind it. Taking an action swaps it
// with the first element after the barrier, so the only element displaced
// is one the cursor has already visited.
type ArrayContainer struct {
	actions []*transaction.Action
	barrier int
	cursor  int
}

func byWeight(a, b *transaction.Action) int { return a.Weight() - b.Weight() }

// NewArrayContainer takes ownership of actions and orders them by ascending
// weight. Equal weights keep their input order.
func NewArrayContainer(actions []*transaction.Action) *ArrayContainer {
	slices.SortStableFunc(actions, byWeight)
	return &ArrayContainer{actions: actions}
}

// PeekCurrent returns the action under the cursor, or false at the end of a
// scan.
func (c *ArrayContainer) PeekCurrent() (*transaction.Action, bool) {
	if c.cursor >= len(c.actions) {
		return nil, false
	}
	return c.actions[c.cursor], true
}

// Advance leaves the current action in place for a later scan.
func (c *ArrayContainer) Advance() {
	c.cursor++
}

// TakeCurrent removes the action under the cursor from the remaining set and
// returns it.
func (c *ArrayContainer) TakeCurrent() *transaction.Action {
	act := c.actions[c.cursor]
	c.actions[c.cursor], c.actions[c.barrier] = c.actions[c.barrier], act
	c.barrier++
	c.cursor++
	return act
}

// SortRemaining restores weight order behind the barrier and rewinds the
// cursor for the next scan.
func (c *ArrayContainer) SortRemaining() {
	slices.SortStableFunc(c.actions[c.barrier:], byWeight)
	c.cursor = c.barrier
}

// Remaining is the number of actions not yet taken.
func (c *ArrayContainer) Remaining() int {
	return len(c.actions) - c.barrier
}
