package driver

import (
	"context"

	"go.uber.org/zap"

	"github.com/schreiberstein/trunktap/pkg/network"
)

// DryRun implements network.Executor without touching the host. Every
// primitive is logged and reported as successful.
type DryRun struct {
	log *zap.SugaredLogger
}

// NewDryRun returns an Executor that only logs.
func NewDryRun(log *zap.SugaredLogger) *DryRun {
	return &DryRun{log: log.Named("dry-run")}
}

func (d *DryRun) CreateVLAN(_ context.Context, parent string, id int) error {
	d.log.Infow("would create VLAN interface", "name", network.SubInterface(parent, id), "parent", parent, "vid", id)
	return nil
}

func (d *DryRun) DeleteVLAN(_ context.Context, parent string, id int) error {
	d.log.Infow("would delete VLAN interface", "name", network.SubInterface(parent, id))
	return nil
}

func (d *DryRun) SetLinkState(_ context.Context, name string, state network.LinkState) error {
	d.log.Infow("would set link state", "name", name, "state", state.String())
	return nil
}

func (d *DryRun) CreateBridge(_ context.Context, name string) error {
	d.log.Infow("would create bridge", "name", name)
	return nil
}

func (d *DryRun) DeleteBridge(_ context.Context, name string) error {
	d.log.Infow("would delete bridge", "name", name)
	return nil
}

func (d *DryRun) Attach(_ context.Context, child, bridge string) error {
	d.log.Infow("would attach port", "bridge", bridge, "port", child)
	return nil
}

func (d *DryRun) Detach(_ context.Context, child string) error {
	d.log.Infow("would detach port", "port", child)
	return nil
}

var _ network.Executor = (*DryRun)(nil)
