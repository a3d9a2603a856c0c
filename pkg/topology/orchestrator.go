// Package topology builds and tears down the trunk/bridge/tap topology by
// sequencing network.Executor calls.
package topology

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/network"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

// Orchestrator runs topology plans against an Executor. It holds no state
// between calls; the host itself is the state.
type Orchestrator struct {
	exec network.Executor
	log  *zap.SugaredLogger
}

// New returns an Orchestrator that mutates the host through exec.
func New(exec network.Executor, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		exec: exec,
		log:  log.Named("orchestrator"),
	}
}

// Start builds the topology for set. It stops at the first failing step and
// returns a *StartError describing how far it got.
func (o *Orchestrator) Start(ctx context.Context, cfg config.Config, set vlan.Set) (*Report, error) {
	if err := Validate(cfg, set); err != nil {
		return nil, err
	}
	plan := BuildPlan(cfg, set, config.ActionStart)
	return o.run(ctx, cfg, set, plan, PhaseIdle, PhaseComplete)
}

// Stop tears down the topology for set. Every step is attempted even if
// earlier ones fail; failures are returned together as a *StopError.
func (o *Orchestrator) Stop(ctx context.Context, cfg config.Config, set vlan.Set) (*Report, error) {
	if err := Validate(cfg, set); err != nil {
		return nil, err
	}
	plan := BuildPlan(cfg, set, config.ActionStop)
	return o.run(ctx, cfg, set, plan, PhaseComplete, PhaseIdle)
}

// Validate checks cfg and every interface name derived from set. It is what
// Start and Stop check before touching the host.
func Validate(cfg config.Config, set vlan.Set) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return validateNames(cfg, set)
}

// ─── Execution ───────────────────────────────────────────────────────────────

// run executes plan. Start plans are fail-fast, Stop plans best-effort.
func (o *Orchestrator) run(ctx context.Context, cfg config.Config, set vlan.Set, plan Plan, from, to Phase) (*Report, error) {
	failFast := plan.Action == config.ActionStart
	rep := &Report{RunID: uuid.NewString(), Action: plan.Action, Phase: from}
	log := o.log.With(
		"run", rep.RunID,
		"action", string(plan.Action),
		"vlans", set.String(),
		"tap", cfg.TapEnabled(),
	)
	log.Infow("running topology plan", "stages", len(plan.Stages), "steps", len(plan.Steps()))

	r := &recorder{rep: rep}

	for _, st := range plan.Stages {
		log.Debugw("entering stage", "stage", st.Name, "chains", len(st.Chains))

		failed := o.runStage(ctx, cfg, st, r, failFast, log)
		if failed != nil {
			rep.Failures = append(rep.Failures, *failed)
			last, ok := rep.LastCompleted()
			serr := &StartError{Phase: rep.Phase, Failed: failed.Step, Err: failed.Err}
			if ok {
				serr.LastCompleted = &last
			}
			log.Errorw("start aborted",
				"phase", rep.Phase.String(),
				"failed_step", failed.Step.String(),
				"completed", len(rep.Completed),
				"error", failed.Err,
			)
			return rep, serr
		}
		rep.Phase = st.Phase
	}
	rep.Phase = to

	if len(rep.Failures) > 0 {
		log.Warnw("stop finished with failures", "failed", len(rep.Failures), "completed", len(rep.Completed))
		return rep, &StopError{Failures: rep.Failures, Err: r.err()}
	}
	log.Infow("topology plan complete", "phase", rep.Phase.String(), "steps", len(rep.Completed))
	return rep, nil
}

// runStage runs every chain of st. In fail-fast mode it returns the first
// failure; in best-effort mode failures are only recorded and nil is
// returned.
func (o *Orchestrator) runStage(ctx context.Context, cfg config.Config, st Stage, r *recorder, failFast bool, log *zap.SugaredLogger) *StepFailure {
	if cfg.Parallel <= 1 || len(st.Chains) <= 1 {
		for _, ch := range st.Chains {
			if f := o.runChain(ctx, cfg, ch, r, failFast, log); f != nil {
				return f
			}
		}
		return nil
	}

	// A failed teardown step must not cancel the other chains.
	g, gctx := &errgroup.Group{}, ctx
	if failFast {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(cfg.Parallel)

	var (
		mu    sync.Mutex
		first *StepFailure
	)
	for _, ch := range st.Chains {
		g.Go(func() error {
			f := o.runChain(gctx, cfg, ch, r, failFast, log)
			if f == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if first == nil {
				first = f
			}
			return f.Err
		})
	}
	_ = g.Wait()

	if failFast {
		return first
	}
	return nil
}

// runChain runs the steps of ch in order.
func (o *Orchestrator) runChain(ctx context.Context, cfg config.Config, ch Chain, r *recorder, failFast bool, log *zap.SugaredLogger) *StepFailure {
	for _, s := range ch {
		if err := ctx.Err(); err != nil {
			f := StepFailure{Step: s, Err: err}
			if failFast {
				return &f
			}
			r.fail(f)
			log.Warnw("step skipped", "step", s.String(), "error", err)
			continue
		}

		if err := o.apply(ctx, cfg, s); err != nil {
			f := StepFailure{Step: s, Err: err}
			if failFast {
				return &f
			}
			r.fail(f)
			log.Warnw("step failed, continuing teardown", "step", s.String(), "error", err)
			continue
		}
		r.done(s)
		log.Debugw("step complete", "step", s.String())
	}
	return nil
}

// apply issues the Executor call for s, bounded by cfg.CommandTimeout.
func (o *Orchestrator) apply(ctx context.Context, cfg config.Config, s Step) error {
	if cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CommandTimeout)
		defer cancel()
	}

	switch s.Op {
	case network.OpCreateVLAN:
		return o.exec.CreateVLAN(ctx, s.Parent, int(s.VLAN))
	case network.OpDeleteVLAN:
		return o.exec.DeleteVLAN(ctx, s.Parent, int(s.VLAN))
	case network.OpLinkUp:
		return o.exec.SetLinkState(ctx, s.Target, network.Up)
	case network.OpLinkDown:
		return o.exec.SetLinkState(ctx, s.Target, network.Down)
	case network.OpCreateBridge:
		return o.exec.CreateBridge(ctx, s.Target)
	case network.OpDeleteBridge:
		return o.exec.DeleteBridge(ctx, s.Target)
	case network.OpAttach:
		return o.exec.Attach(ctx, s.Target, s.Master)
	case network.OpDetach:
		return o.exec.Detach(ctx, s.Target)
	default:
		return network.NewCommandError(s.Op, s.Target, network.ErrNotSupported)
	}
}

// recorder guards the report while chains run concurrently. Best-effort
// failures are also combined into one error for StopError.
type recorder struct {
	mu   sync.Mutex
	rep  *Report
	errs error
}

func (r *recorder) done(s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rep.Completed = append(r.rep.Completed, s)
}

func (r *recorder) fail(f StepFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rep.Failures = append(r.rep.Failures, f)
	multierr.AppendInto(&r.errs, fmt.Errorf("%s: %w", f.Step, f.Err))
}

func (r *recorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}
