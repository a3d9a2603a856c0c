package topology

import (
	"context"
	"time"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

// Discoverer yields the VLAN set to converge on. discovery.Source satisfies
// it.
type Discoverer interface {
	Discover(ctx context.Context) (vlan.Set, error)
}

// WatchOpts configures the drift watch loop.
type WatchOpts struct {
	Interval time.Duration // how often to check (default 30s)

	// OnPass, when set, is called after every pass. Used by tests.
	OnPass func(PassResult)
}

// PassResult summarises one watch pass.
type PassResult struct {
	Set     vlan.Set
	Drifted []string // resources that did not match before the pass
	Removed []vlan.ID
	Err     error
}

// Watch re-discovers the VLAN set every interval and re-runs Start whenever
// the host has drifted from it: a link was deleted or downed, a port lost its
// bridge, or a new VLAN id appeared. Start is idempotent, so converging is
// just starting again.
//
// VLANs that disappear from discovery are logged but left in place; only an
// explicit Stop removes topology.
//
// Runs until ctx is cancelled and then returns ctx.Err().
func (o *Orchestrator) Watch(ctx context.Context, cfg config.Config, src Discoverer, opts WatchOpts) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := o.log.Named("watch")
	log.Infow("drift watch started", "interval", interval)

	var last vlan.Set
	pass := func() {
		res := o.watchPass(ctx, cfg, src, last)
		if res.Err == nil {
			last = res.Set
		}
		if opts.OnPass != nil {
			opts.OnPass(res)
		}
	}

	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("drift watch stopped")
			return ctx.Err()
		case <-ticker.C:
			pass()
		}
	}
}

func (o *Orchestrator) watchPass(ctx context.Context, cfg config.Config, src Discoverer, last vlan.Set) PassResult {
	log := o.log.Named("watch")

	set, err := src.Discover(ctx)
	if err != nil {
		log.Warnw("discovery failed, keeping current topology", "error", err)
		return PassResult{Err: err}
	}
	res := PassResult{Set: set}

	for _, id := range last.IDs() {
		if !set.Has(id) {
			res.Removed = append(res.Removed, id)
		}
	}
	if len(res.Removed) > 0 {
		log.Warnw("VLANs no longer discovered; run stop to remove them", "vlans", vlan.NewSet(res.Removed...).String())
	}

	statuses, err := o.Inspect(ctx, cfg, set)
	if err != nil {
		log.Warnw("failed to inspect topology", "error", err)
		res.Err = err
		return res
	}
	for _, s := range statuses {
		if !s.OK() {
			res.Drifted = append(res.Drifted, s.Name)
		}
	}
	if len(res.Drifted) == 0 {
		log.Debugw("watch pass complete, no drift", "vlans", set.String())
		return res
	}

	log.Warnw("drift detected, converging", "resources", res.Drifted)
	if _, err := o.Start(ctx, cfg, set); err != nil {
		log.Errorw("failed to converge topology", "error", err)
		res.Err = err
		return res
	}
	log.Infow("topology converged", "drifts_detected", len(res.Drifted))
	return res
}
