package scheduler

import "fmt"

// State is the position of a scheduler thread in its loop. A thread moves
// through the states in this exact order and wraps around.
type State uint32

const (
	StateWaitingForInput State = iota
	StateInput
	StateBatchCreation
	StateWaitingToMerge
	StateBatchMerging
	StateWaitingToSignalExecution
	StateSignalingExecution
)

var stateNames = [...]string{
	"waiting_for_input",
	"input",
	"batch_creation",
	"waiting_to_merge",
	"batch_merging",
	"waiting_to_signal_execution",
	"signaling_execution",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// next is the only state a thread may enter from s.
func (s State) next() State {
	if s == StateSignalingExecution {
		return StateWaitingForInput
	}
	return s + 1
}
