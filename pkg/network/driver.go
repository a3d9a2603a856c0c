package network

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotSupported is returned when a backend cannot perform an operation on
// this platform.
var ErrNotSupported = errors.New("operation not supported by this backend")

// Executor performs the individual host mutations that make up a trunk
// topology. Implementations wrap a specific backend (Linux netlink, the ip
// command, a dry run) and the Orchestrator calls these methods instead of
// talking to the kernel directly.
//
// Every method performs exactly one mutation and returns nil or a
// *CommandError. Implementations must treat creating something that already
// exists, and deleting or detaching something that is already gone, as
// success. Bringing an absent link down is also success.
type Executor interface {
	// VLAN sub-interface operations
	CreateVLAN(ctx context.Context, parent string, id int) error
	DeleteVLAN(ctx context.Context, parent string, id int) error

	// Link state
	SetLinkState(ctx context.Context, name string, state LinkState) error

	// Bridge operations
	CreateBridge(ctx context.Context, name string) error
	DeleteBridge(ctx context.Context, name string) error

	// Bridge membership
	Attach(ctx context.Context, child, bridge string) error
	Detach(ctx context.Context, child string) error
}

// Inspector is implemented by backends that can report the current state of
// a link. It is optional; only status reporting needs it.
type Inspector interface {
	LinkInfo(ctx context.Context, name string) (LinkInfo, error)
}

// LinkState is the administrative state of a link.
type LinkState int

const (
	Down LinkState = iota
	Up
)

func (s LinkState) String() string {
	if s == Up {
		return "up"
	}
	return "down"
}

// LinkInfo describes a link returned by an Inspector.
type LinkInfo struct {
	Name   string `json:"name" yaml:"name"`
	Exists bool   `json:"exists" yaml:"exists"`
	Up     bool   `json:"up" yaml:"up"`
	Kind   string `json:"kind,omitempty" yaml:"kind,omitempty"`     // "vlan", "bridge", "device", ...
	Master string `json:"master,omitempty" yaml:"master,omitempty"` // bridge this link is attached to
}

// SubInterface returns the name of the VLAN sub-interface (or sub-bridge)
// derived from parent and id, e.g. "eth1.100".
func SubInterface(parent string, id int) string {
	return fmt.Sprintf("%s.%d", parent, id)
}
