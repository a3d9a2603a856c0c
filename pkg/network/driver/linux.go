//go:build linux

package driver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	nw "github.com/schreiberstein/trunktap/pkg/network"
)

// Linux implements nw.Executor using netlink syscalls against the network
// namespace of the calling thread.
type Linux struct {
	log *zap.SugaredLogger
}

// NewLinux returns an Executor backed by Linux netlink.
func NewLinux(log *zap.SugaredLogger) *Linux {
	return &Linux{
		log: log.Named("linux-driver"),
	}
}

// ─── VLAN Operations ─────────────────────────────────────────────────────────

func (d *Linux) CreateVLAN(ctx context.Context, parent string, id int) error {
	name := nw.SubInterface(parent, id)
	if err := ctx.Err(); err != nil {
		return nw.NewCommandError(nw.OpCreateVLAN, name, err)
	}

	p, err := netlink.LinkByName(parent)
	if err != nil {
		return nw.NewCommandError(nw.OpCreateVLAN, name, fmt.Errorf("netlink lookup parent %s: %w", parent, err))
	}

	existing, err := netlink.LinkByName(name)
	switch {
	case err == nil:
		if err := sameVLAN(existing, p, id); err != nil {
			return nw.NewCommandError(nw.OpCreateVLAN, name, err)
		}
		d.log.Debugw("VLAN interface already exists", "name", name)
		return nil
	case !isNotFound(err):
		return nw.NewCommandError(nw.OpCreateVLAN, name, fmt.Errorf("netlink lookup %s: %w", name, err))
	}

	vl := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{Name: name, ParentIndex: p.Attrs().Index},
		VlanId:    id,
	}
	if err := netlink.LinkAdd(vl); err != nil && !errors.Is(err, unix.EEXIST) {
		return nw.NewCommandError(nw.OpCreateVLAN, name, fmt.Errorf("netlink vlan add %s: %w", name, err))
	}
	d.log.Infow("VLAN interface created", "name", name, "parent", parent, "vid", id)
	return nil
}

func (d *Linux) DeleteVLAN(ctx context.Context, parent string, id int) error {
	name := nw.SubInterface(parent, id)
	if err := ctx.Err(); err != nil {
		return nw.NewCommandError(nw.OpDeleteVLAN, name, err)
	}

	link, err := netlink.LinkByName(name)
	if isNotFound(err) {
		d.log.Debugw("VLAN interface already gone", "name", name)
		return nil
	}
	if err != nil {
		return nw.NewCommandError(nw.OpDeleteVLAN, name, fmt.Errorf("netlink lookup %s: %w", name, err))
	}
	if _, ok := link.(*netlink.Vlan); !ok {
		return nw.NewCommandError(nw.OpDeleteVLAN, name, fmt.Errorf("%q is not a VLAN interface (type %s)", name, link.Type()))
	}
	if err := netlink.LinkDel(link); err != nil && !isNotFound(err) {
		return nw.NewCommandError(nw.OpDeleteVLAN, name, fmt.Errorf("netlink del %s: %w", name, err))
	}
	d.log.Infow("VLAN interface deleted", "name", name)
	return nil
}

// ─── Link State ──────────────────────────────────────────────────────────────

func (d *Linux) SetLinkState(ctx context.Context, name string, state nw.LinkState) error {
	op := nw.LinkStateOp(state)
	if err := ctx.Err(); err != nil {
		return nw.NewCommandError(op, name, err)
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		if state == nw.Down && isNotFound(err) {
			d.log.Debugw("link already gone, nothing to bring down", "name", name)
			return nil
		}
		return nw.NewCommandError(op, name, fmt.Errorf("netlink lookup %s: %w", name, err))
	}

	if state == nw.Up {
		err = netlink.LinkSetUp(link)
	} else {
		err = netlink.LinkSetDown(link)
	}
	if err != nil {
		return nw.NewCommandError(op, name, fmt.Errorf("netlink link %s %s: %w", state, name, err))
	}
	d.log.Infow("link state set", "name", name, "state", state.String())
	return nil
}

// ─── Bridge Operations ───────────────────────────────────────────────────────

func (d *Linux) CreateBridge(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return nw.NewCommandError(nw.OpCreateBridge, name, err)
	}

	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{
			Name: name,
			// -1 keeps the kernel default; 0 would mean a zero-length TX queue.
			TxQLen: -1,
		},
	}
	err := netlink.LinkAdd(br)
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return nw.NewCommandError(nw.OpCreateBridge, name, fmt.Errorf("netlink bridge add %s: %w", name, err))
	}
	if err != nil {
		// Already there; make sure it really is a bridge.
		if _, err := bridgeByName(name); err != nil {
			return nw.NewCommandError(nw.OpCreateBridge, name, err)
		}
		d.log.Debugw("bridge already exists", "name", name)
		return nil
	}
	d.log.Infow("bridge created", "name", name)
	return nil
}

func (d *Linux) DeleteBridge(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return nw.NewCommandError(nw.OpDeleteBridge, name, err)
	}

	link, err := netlink.LinkByName(name)
	if isNotFound(err) {
		d.log.Debugw("bridge already gone", "name", name)
		return nil
	}
	if err != nil {
		return nw.NewCommandError(nw.OpDeleteBridge, name, fmt.Errorf("netlink lookup %s: %w", name, err))
	}
	if _, ok := link.(*netlink.Bridge); !ok {
		return nw.NewCommandError(nw.OpDeleteBridge, name, fmt.Errorf("%q is not a bridge (type %s)", name, link.Type()))
	}
	if err := netlink.LinkDel(link); err != nil && !isNotFound(err) {
		return nw.NewCommandError(nw.OpDeleteBridge, name, fmt.Errorf("netlink bridge del %s: %w", name, err))
	}
	d.log.Infow("bridge deleted", "name", name)
	return nil
}

// ─── Bridge Membership ───────────────────────────────────────────────────────

func (d *Linux) Attach(ctx context.Context, child, bridge string) error {
	fail := func(err error) error {
		return &nw.CommandError{Op: nw.OpAttach, Target: child, Master: bridge, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	br, err := bridgeByName(bridge)
	if err != nil {
		return fail(err)
	}
	p, err := netlink.LinkByName(child)
	if err != nil {
		return fail(fmt.Errorf("netlink lookup port %s: %w", child, err))
	}
	if err := netlink.LinkSetMaster(p, br); err != nil {
		return fail(fmt.Errorf("netlink set master %s -> %s: %w", child, bridge, err))
	}
	d.log.Infow("port attached", "bridge", bridge, "port", child)
	return nil
}

func (d *Linux) Detach(ctx context.Context, child string) error {
	if err := ctx.Err(); err != nil {
		return nw.NewCommandError(nw.OpDetach, child, err)
	}

	p, err := netlink.LinkByName(child)
	if isNotFound(err) {
		d.log.Debugw("port already gone, nothing to detach", "port", child)
		return nil
	}
	if err != nil {
		return nw.NewCommandError(nw.OpDetach, child, fmt.Errorf("netlink lookup port %s: %w", child, err))
	}
	if p.Attrs().MasterIndex == 0 {
		return nil
	}
	if err := netlink.LinkSetNoMaster(p); err != nil {
		return nw.NewCommandError(nw.OpDetach, child, fmt.Errorf("netlink set no master %s: %w", child, err))
	}
	d.log.Infow("port detached", "port", child)
	return nil
}

// ─── Introspection ───────────────────────────────────────────────────────────

func (d *Linux) LinkInfo(_ context.Context, name string) (nw.LinkInfo, error) {
	link, err := netlink.LinkByName(name)
	if isNotFound(err) {
		return nw.LinkInfo{Name: name}, nil
	}
	if err != nil {
		return nw.LinkInfo{}, fmt.Errorf("netlink lookup %s: %w", name, err)
	}

	info := nw.LinkInfo{
		Name:   name,
		Exists: true,
		Up:     link.Attrs().Flags&net.FlagUp != 0,
		Kind:   link.Type(),
	}
	if idx := link.Attrs().MasterIndex; idx > 0 {
		master, err := netlink.LinkByIndex(idx)
		if err == nil {
			info.Master = master.Attrs().Name
		}
	}
	return info, nil
}

// sameVLAN checks that an existing link is VLAN id stacked on parent.
func sameVLAN(existing, parent netlink.Link, id int) error {
	name := existing.Attrs().Name
	v, ok := existing.(*netlink.Vlan)
	switch {
	case !ok:
		return fmt.Errorf("%q already exists but is not VLAN %d (type %s)", name, id, existing.Type())
	case v.VlanId != id:
		return fmt.Errorf("%q already exists as VLAN %d, not %d", name, v.VlanId, id)
	case v.ParentIndex != parent.Attrs().Index:
		return fmt.Errorf("%q already exists on another parent (index %d), not %s", name, v.ParentIndex, parent.Attrs().Name)
	}
	return nil
}

func bridgeByName(name string) (*netlink.Bridge, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("netlink lookup bridge %s: %w", name, err)
	}
	br, ok := l.(*netlink.Bridge)
	if !ok {
		return nil, fmt.Errorf("%q already exists but is not a bridge", name)
	}
	return br, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf netlink.LinkNotFoundError
	return errors.As(err, &nf) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENOENT)
}

// Ensure Linux implements Executor and Inspector at compile time.
var (
	_ nw.Executor  = (*Linux)(nil)
	_ nw.Inspector = (*Linux)(nil)
)
