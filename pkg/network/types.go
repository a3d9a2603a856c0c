package network

import (
	"errors"
	"fmt"
)

// Primitive names a single topology mutation.
type Primitive string

const (
	OpCreateVLAN   Primitive = "create-vlan"
	OpDeleteVLAN   Primitive = "delete-vlan"
	OpLinkUp       Primitive = "link-up"
	OpLinkDown     Primitive = "link-down"
	OpCreateBridge Primitive = "create-bridge"
	OpDeleteBridge Primitive = "delete-bridge"
	OpAttach       Primitive = "attach"
	OpDetach       Primitive = "detach"
)

// LinkStateOp maps a link state to the primitive that sets it.
func LinkStateOp(state LinkState) Primitive {
	if state == Up {
		return OpLinkUp
	}
	return OpLinkDown
}

// CommandError is returned by an Executor when a primitive fails.
type CommandError struct {
	Op     Primitive
	Target string // link or bridge being mutated
	Master string // bridge, for attach
	Err    error  // OS-reported reason
}

// NewCommandError wraps err for the given primitive. A nil err yields nil.
func NewCommandError(op Primitive, target string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Op: op, Target: target, Err: err}
}

func (e *CommandError) Error() string {
	if e.Master != "" {
		return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Target, e.Master, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsCommandError reports whether err is or wraps a *CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
