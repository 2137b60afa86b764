package transaction

import "fmt"

// ActionState is the execution state of an action. It is stored atomically on
// the action and only moves through the transitions below.
//
//	Substantiated -> Processing   (claim by an executor)
//	Processing    -> Done         (payload ran, locks about to be released)
//	Processing    -> Substantiated (blocked, handed back)
type ActionState uint32

const (
	StateSubstantiated ActionState = iota // Waiting to be executed
	StateProcessing                       // Claimed by exactly one executor
	StateDone                             // Executed; terminal
)

func (s ActionState) String() string {
	switch s {
	case StateSubstantiated:
		return "substantiated"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("ActionState(%d)", uint32(s))
	}
}
