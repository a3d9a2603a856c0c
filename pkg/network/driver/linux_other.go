//go:build !linux

package driver

import (
	"context"

	"go.uber.org/zap"

	nw "github.com/schreiberstein/trunktap/pkg/network"
)

// Linux is unavailable off Linux; every primitive fails with
// nw.ErrNotSupported. Use the iproute2 or dry-run backend instead.
type Linux struct {
	log *zap.SugaredLogger
}

// NewLinux returns a stub Executor.
func NewLinux(log *zap.SugaredLogger) *Linux {
	return &Linux{log: log.Named("linux-driver")}
}

func (d *Linux) CreateVLAN(_ context.Context, parent string, id int) error {
	return nw.NewCommandError(nw.OpCreateVLAN, nw.SubInterface(parent, id), nw.ErrNotSupported)
}

func (d *Linux) DeleteVLAN(_ context.Context, parent string, id int) error {
	return nw.NewCommandError(nw.OpDeleteVLAN, nw.SubInterface(parent, id), nw.ErrNotSupported)
}

func (d *Linux) SetLinkState(_ context.Context, name string, state nw.LinkState) error {
	return nw.NewCommandError(nw.LinkStateOp(state), name, nw.ErrNotSupported)
}

func (d *Linux) CreateBridge(_ context.Context, name string) error {
	return nw.NewCommandError(nw.OpCreateBridge, name, nw.ErrNotSupported)
}

func (d *Linux) DeleteBridge(_ context.Context, name string) error {
	return nw.NewCommandError(nw.OpDeleteBridge, name, nw.ErrNotSupported)
}

func (d *Linux) Attach(_ context.Context, child, bridge string) error {
	return &nw.CommandError{Op: nw.OpAttach, Target: child, Master: bridge, Err: nw.ErrNotSupported}
}

func (d *Linux) Detach(_ context.Context, child string) error {
	return nw.NewCommandError(nw.OpDetach, child, nw.ErrNotSupported)
}

func (d *Linux) LinkInfo(_ context.Context, _ string) (nw.LinkInfo, error) {
	return nw.LinkInfo{}, nw.ErrNotSupported
}

var (
	_ nw.Executor  = (*Linux)(nil)
	_ nw.Inspector = (*Linux)(nil)
)
