package transaction

import "errors"

var (
	ErrInvalidTransition   = errors.New("invalid action state transition")
	ErrRWSetFull           = errors.New("action read/write set is full")
	ErrActionSealed        = errors.New("action is sealed and can no longer be modified")
	ErrActionNotSealed     = errors.New("action must be sealed before scheduling")
	ErrInvalidDistribution = errors.New("invalid lock distribution")
)
