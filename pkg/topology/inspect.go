package topology

import (
	"context"
	"fmt"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/network"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

// ResourceStatus compares one link of the expected topology with the host.
type ResourceStatus struct {
	Name       string `json:"name"`
	WantMaster string `json:"wantMaster,omitempty"`
	network.LinkInfo
}

// OK reports whether the link exists, is up and has the expected master.
func (s ResourceStatus) OK() bool {
	return s.Exists && s.Up && s.Master == s.WantMaster
}

func (s ResourceStatus) String() string {
	state := "missing"
	if s.Exists {
		state = "down"
		if s.Up {
			state = "up"
		}
	}
	out := fmt.Sprintf("%-15s %-7s", s.Name, state)
	if s.WantMaster != "" || s.Master != "" {
		out += fmt.Sprintf(" master=%s (want %s)", orDash(s.Master), orDash(s.WantMaster))
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Inspect reports, for every link a Start with the same inputs would create
// or bring up, whether the host currently matches. The Executor must also
// implement network.Inspector.
func (o *Orchestrator) Inspect(ctx context.Context, cfg config.Config, set vlan.Set) ([]ResourceStatus, error) {
	if err := Validate(cfg, set); err != nil {
		return nil, err
	}
	in, ok := o.exec.(network.Inspector)
	if !ok {
		return nil, fmt.Errorf("inspecting topology: %w", network.ErrNotSupported)
	}

	want := expected(cfg, set)
	out := make([]ResourceStatus, 0, len(want))
	for _, w := range want {
		info, err := in.LinkInfo(ctx, w.Name)
		if err != nil {
			return out, fmt.Errorf("inspecting %s: %w", w.Name, err)
		}
		w.LinkInfo = info
		w.LinkInfo.Name = w.Name
		out = append(out, w)
	}
	return out, nil
}

// expected lists the links of a fully built topology with their masters.
func expected(cfg config.Config, set vlan.Set) []ResourceStatus {
	out := []ResourceStatus{
		{Name: cfg.Trunk, WantMaster: cfg.Bridge},
		{Name: cfg.Bridge},
	}
	for _, id := range set.IDs() {
		out = append(out,
			ResourceStatus{Name: sub(cfg.Trunk, id), WantMaster: sub(cfg.Bridge, id)},
			ResourceStatus{Name: sub(cfg.Bridge, id)},
		)
	}
	if cfg.TapEnabled() {
		out = append(out, ResourceStatus{Name: cfg.Tap})
		for _, id := range set.IDs() {
			out = append(out, ResourceStatus{Name: sub(cfg.Tap, id), WantMaster: sub(cfg.Bridge, id)})
		}
	}
	return out
}
