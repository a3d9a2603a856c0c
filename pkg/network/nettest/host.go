// Package nettest provides an in-memory network namespace that implements
// network.Executor and network.Inspector for tests.
package nettest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/schreiberstein/trunktap/pkg/network"
)

// Errors reported by the fake host. They mirror what the kernel reports.
var (
	ErrNotFound   = errors.New("link not found")
	ErrWrongKind  = errors.New("link exists with a different kind")
	ErrNotBridge  = errors.New("master is not a bridge")
	ErrLinkDown   = errors.New("link is administratively down")
	ErrParentGone = errors.New("parent link not found")
	ErrInjected   = errors.New("injected failure")
)

// Call is one recorded Executor invocation.
type Call struct {
	Op     network.Primitive
	Target string
	Master string
}

func (c Call) String() string {
	if c.Master != "" {
		return fmt.Sprintf("%s %s %s", c.Op, c.Target, c.Master)
	}
	return fmt.Sprintf("%s %s", c.Op, c.Target)
}

type link struct {
	kind   string
	up     bool
	master string
	parent string
}

// Host is a fake network namespace. The zero value is not usable; use NewHost.
type Host struct {
	// StrictOrdering makes Attach fail unless both the child and the bridge
	// are up, which turns ordering mistakes into errors.
	StrictOrdering bool

	mu       sync.Mutex
	links    map[string]*link
	calls    []Call
	failures map[Call]error
}

// NewHost returns a Host with the given physical devices present and down.
func NewHost(devices ...string) *Host {
	h := &Host{
		links:    make(map[string]*link),
		failures: make(map[Call]error),
	}
	for _, d := range devices {
		h.links[d] = &link{kind: "device"}
	}
	return h
}

// FailOn makes the next and every later call matching op and target return
// err (ErrInjected when err is nil) without mutating anything.
func (h *Host) FailOn(op network.Primitive, target string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	h.failures[Call{Op: op, Target: target}] = err
}

// ClearFailures removes every injected failure.
func (h *Host) ClearFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = make(map[Call]error)
}

// Calls returns a copy of the recorded calls in the order they were issued.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// ResetCalls forgets recorded calls.
func (h *Host) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

// Snapshot returns the state of every link keyed by name.
func (h *Host) Snapshot() map[string]network.LinkInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]network.LinkInfo, len(h.links))
	for name, l := range h.links {
		out[name] = network.LinkInfo{Name: name, Exists: true, Up: l.up, Kind: l.kind, Master: l.master}
	}
	return out
}

// Names returns the sorted names of every link on the host.
func (h *Host) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.links))
	for name := range h.links {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// record logs the call and returns an injected failure, if any.
// Must be called with h.mu held.
func (h *Host) record(c Call) error {
	h.calls = append(h.calls, c)
	if err, ok := h.failures[Call{Op: c.Op, Target: c.Target}]; ok {
		return err
	}
	return nil
}

// ─── Executor ────────────────────────────────────────────────────────────────

func (h *Host) CreateVLAN(_ context.Context, parent string, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := network.SubInterface(parent, id)
	if err := h.record(Call{Op: network.OpCreateVLAN, Target: name}); err != nil {
		return network.NewCommandError(network.OpCreateVLAN, name, err)
	}
	if existing, ok := h.links[name]; ok {
		if existing.kind != "vlan" {
			return network.NewCommandError(network.OpCreateVLAN, name, ErrWrongKind)
		}
		return nil
	}
	if _, ok := h.links[parent]; !ok {
		return network.NewCommandError(network.OpCreateVLAN, name, ErrParentGone)
	}
	h.links[name] = &link{kind: "vlan", parent: parent}
	return nil
}

func (h *Host) DeleteVLAN(_ context.Context, parent string, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := network.SubInterface(parent, id)
	if err := h.record(Call{Op: network.OpDeleteVLAN, Target: name}); err != nil {
		return network.NewCommandError(network.OpDeleteVLAN, name, err)
	}
	existing, ok := h.links[name]
	if !ok {
		return nil
	}
	if existing.kind != "vlan" {
		return network.NewCommandError(network.OpDeleteVLAN, name, ErrWrongKind)
	}
	h.remove(name)
	return nil
}

func (h *Host) SetLinkState(_ context.Context, name string, state network.LinkState) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	op := network.LinkStateOp(state)
	if err := h.record(Call{Op: op, Target: name}); err != nil {
		return network.NewCommandError(op, name, err)
	}
	l, ok := h.links[name]
	if !ok {
		if state == network.Down {
			return nil
		}
		return network.NewCommandError(op, name, ErrNotFound)
	}
	l.up = state == network.Up
	return nil
}

func (h *Host) CreateBridge(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.record(Call{Op: network.OpCreateBridge, Target: name}); err != nil {
		return network.NewCommandError(network.OpCreateBridge, name, err)
	}
	if existing, ok := h.links[name]; ok {
		if existing.kind != "bridge" {
			return network.NewCommandError(network.OpCreateBridge, name, ErrWrongKind)
		}
		return nil
	}
	h.links[name] = &link{kind: "bridge"}
	return nil
}

func (h *Host) DeleteBridge(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.record(Call{Op: network.OpDeleteBridge, Target: name}); err != nil {
		return network.NewCommandError(network.OpDeleteBridge, name, err)
	}
	existing, ok := h.links[name]
	if !ok {
		return nil
	}
	if existing.kind != "bridge" {
		return network.NewCommandError(network.OpDeleteBridge, name, ErrWrongKind)
	}
	h.remove(name)
	return nil
}

func (h *Host) Attach(_ context.Context, child, bridge string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.record(Call{Op: network.OpAttach, Target: child, Master: bridge}); err != nil {
		return &network.CommandError{Op: network.OpAttach, Target: child, Master: bridge, Err: err}
	}
	fail := func(err error) error {
		return &network.CommandError{Op: network.OpAttach, Target: child, Master: bridge, Err: err}
	}
	c, ok := h.links[child]
	if !ok {
		return fail(ErrNotFound)
	}
	br, ok := h.links[bridge]
	if !ok {
		return fail(ErrNotFound)
	}
	if br.kind != "bridge" {
		return fail(ErrNotBridge)
	}
	if h.StrictOrdering && (!c.up || !br.up) {
		return fail(ErrLinkDown)
	}
	c.master = bridge
	return nil
}

func (h *Host) Detach(_ context.Context, child string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.record(Call{Op: network.OpDetach, Target: child}); err != nil {
		return network.NewCommandError(network.OpDetach, child, err)
	}
	if c, ok := h.links[child]; ok {
		c.master = ""
	}
	return nil
}

// ─── Inspector ───────────────────────────────────────────────────────────────

func (h *Host) LinkInfo(_ context.Context, name string) (network.LinkInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.links[name]
	if !ok {
		return network.LinkInfo{Name: name}, nil
	}
	return network.LinkInfo{Name: name, Exists: true, Up: l.up, Kind: l.kind, Master: l.master}, nil
}

// remove deletes a link the way the kernel does: ports of a deleted bridge
// lose their master and VLANs stacked on a deleted link go with it.
// Must be called with h.mu held.
func (h *Host) remove(name string) {
	delete(h.links, name)
	for n, l := range h.links {
		if l.master == name {
			l.master = ""
		}
		if l.parent == name {
			h.remove(n)
		}
	}
}

var (
	_ network.Executor  = (*Host)(nil)
	_ network.Inspector = (*Host)(nil)
)
