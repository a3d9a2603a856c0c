package topology

import (
	"fmt"
	"strings"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/network"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

// Phase is a state of the topology state machine. Start walks the phases
// forward, Stop walks them back to Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTrunkReady
	PhaseRootBridgeReady
	PhaseVlanBridgesReady
	PhaseTrunkBridged
	PhaseTapReady
	PhaseTapBridged
	PhaseComplete
)

var phaseNames = [...]string{
	PhaseIdle:             "Idle",
	PhaseTrunkReady:       "TrunkReady",
	PhaseRootBridgeReady:  "RootBridgeReady",
	PhaseVlanBridgesReady: "VlanBridgesReady",
	PhaseTrunkBridged:     "TrunkBridged",
	PhaseTapReady:         "TapReady",
	PhaseTapBridged:       "TapBridged",
	PhaseComplete:         "Complete",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Step is one Executor call.
type Step struct {
	Op     network.Primitive
	Target string  // link or bridge mutated
	Master string  // bridge, for attach
	Parent string  // parent link, for VLAN create/delete
	VLAN   vlan.ID // VLAN id, for VLAN create/delete
}

func (s Step) String() string {
	if s.Master != "" {
		return fmt.Sprintf("%s %s -> %s", s.Op, s.Target, s.Master)
	}
	return fmt.Sprintf("%s %s", s.Op, s.Target)
}

// Chain is a sequence of steps that must run in order. Chains within one
// stage are independent of each other.
type Chain []Step

// Stage is a set of independent chains. Every chain of a stage completes
// before the next stage starts. Phase is the state reached once the stage is
// done.
type Stage struct {
	Name   string
	Phase  Phase
	Chains []Chain
}

// Plan is the ordered list of stages for one Start or Stop.
type Plan struct {
	Action config.Action
	Stages []Stage
}

// Steps returns every step of the plan in sequential execution order.
func (p Plan) Steps() []Step {
	var out []Step
	for _, st := range p.Stages {
		for _, ch := range st.Chains {
			out = append(out, ch...)
		}
	}
	return out
}

// String renders the plan one step per line, grouped by stage.
func (p Plan) String() string {
	var b strings.Builder
	n := 0
	for _, st := range p.Stages {
		fmt.Fprintf(&b, "# %s (-> %s)\n", st.Name, st.Phase)
		for _, ch := range st.Chains {
			for _, s := range ch {
				n++
				fmt.Fprintf(&b, "%3d  %s\n", n, s)
			}
		}
	}
	return b.String()
}

// ─── Step Constructors ───────────────────────────────────────────────────────

func linkUp(name string) Step   { return Step{Op: network.OpLinkUp, Target: name} }
func linkDown(name string) Step { return Step{Op: network.OpLinkDown, Target: name} }

func createVLAN(parent string, id vlan.ID) Step {
	return Step{Op: network.OpCreateVLAN, Target: network.SubInterface(parent, int(id)), Parent: parent, VLAN: id}
}

func deleteVLAN(parent string, id vlan.ID) Step {
	return Step{Op: network.OpDeleteVLAN, Target: network.SubInterface(parent, int(id)), Parent: parent, VLAN: id}
}

func createBridge(name string) Step { return Step{Op: network.OpCreateBridge, Target: name} }
func deleteBridge(name string) Step { return Step{Op: network.OpDeleteBridge, Target: name} }

func attach(child, bridge string) Step {
	return Step{Op: network.OpAttach, Target: child, Master: bridge}
}

func detach(child string) Step { return Step{Op: network.OpDetach, Target: child} }

func sub(parent string, id vlan.ID) string { return network.SubInterface(parent, int(id)) }

// perVLAN builds one chain per id.
func perVLAN(ids []vlan.ID, fn func(id vlan.ID) Chain) []Chain {
	out := make([]Chain, 0, len(ids))
	for _, id := range ids {
		out = append(out, fn(id))
	}
	return out
}

// ─── Plans ───────────────────────────────────────────────────────────────────

// BuildPlan returns the plan for action. The set is read once here, so
// every layer of the plan uses exactly the same VLAN ids.
func BuildPlan(cfg config.Config, set vlan.Set, action config.Action) Plan {
	if action == config.ActionStop {
		return Plan{Action: action, Stages: stopStages(cfg, set.Descending())}
	}
	return Plan{Action: config.ActionStart, Stages: startStages(cfg, set.IDs())}
}

func startStages(cfg config.Config, ids []vlan.ID) []Stage {
	stages := []Stage{
		{
			Name:   "trunk up",
			Phase:  PhaseIdle,
			Chains: []Chain{{linkUp(cfg.Trunk)}},
		},
		{
			Name:  "trunk VLAN interfaces",
			Phase: PhaseTrunkReady,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{createVLAN(cfg.Trunk, id), linkUp(sub(cfg.Trunk, id))}
			}),
		},
		{
			Name:  "root bridge",
			Phase: PhaseRootBridgeReady,
			Chains: []Chain{{
				createBridge(cfg.Bridge),
				linkUp(cfg.Bridge),
				attach(cfg.Trunk, cfg.Bridge),
			}},
		},
		{
			Name:  "VLAN bridges",
			Phase: PhaseVlanBridgesReady,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{createBridge(sub(cfg.Bridge, id)), linkUp(sub(cfg.Bridge, id))}
			}),
		},
		{
			Name:  "bridge trunk VLANs",
			Phase: PhaseTrunkBridged,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{attach(sub(cfg.Trunk, id), sub(cfg.Bridge, id))}
			}),
		},
	}
	if !cfg.TapEnabled() {
		return stages
	}

	return append(stages,
		Stage{
			Name:   "tap up",
			Phase:  PhaseTrunkBridged,
			Chains: []Chain{{linkUp(cfg.Tap)}},
		},
		Stage{
			Name:  "tap VLAN interfaces",
			Phase: PhaseTapReady,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{createVLAN(cfg.Tap, id), linkUp(sub(cfg.Tap, id))}
			}),
		},
		Stage{
			Name:  "bridge tap VLANs",
			Phase: PhaseTapBridged,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{attach(sub(cfg.Tap, id), sub(cfg.Bridge, id))}
			}),
		},
	)
}

// stopStages undoes startStages: every attach is undone before anything is
// deleted, and children go before their parents. ids are descending.
func stopStages(cfg config.Config, ids []vlan.ID) []Stage {
	var stages []Stage
	if cfg.TapEnabled() {
		stages = append(stages,
			Stage{
				Name:  "unbridge tap VLANs",
				Phase: PhaseTapReady,
				Chains: perVLAN(ids, func(id vlan.ID) Chain {
					return Chain{detach(sub(cfg.Tap, id))}
				}),
			},
			Stage{
				Name:  "tap VLAN interfaces",
				Phase: PhaseTrunkBridged,
				Chains: perVLAN(ids, func(id vlan.ID) Chain {
					return Chain{linkDown(sub(cfg.Tap, id)), deleteVLAN(cfg.Tap, id)}
				}),
			},
			Stage{
				Name:   "tap down",
				Phase:  PhaseTrunkBridged,
				Chains: []Chain{{linkDown(cfg.Tap)}},
			},
		)
	}

	return append(stages,
		Stage{
			Name:  "unbridge trunk VLANs",
			Phase: PhaseVlanBridgesReady,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{detach(sub(cfg.Trunk, id))}
			}),
		},
		Stage{
			Name:  "VLAN bridges",
			Phase: PhaseRootBridgeReady,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{linkDown(sub(cfg.Bridge, id)), deleteBridge(sub(cfg.Bridge, id))}
			}),
		},
		Stage{
			Name:  "root bridge",
			Phase: PhaseTrunkReady,
			Chains: []Chain{{
				detach(cfg.Trunk),
				linkDown(cfg.Bridge),
				deleteBridge(cfg.Bridge),
			}},
		},
		Stage{
			Name:  "trunk VLAN interfaces",
			Phase: PhaseIdle,
			Chains: perVLAN(ids, func(id vlan.ID) Chain {
				return Chain{linkDown(sub(cfg.Trunk, id)), deleteVLAN(cfg.Trunk, id)}
			}),
		},
	)
}

// validateNames checks every interface name the plan derives against the
// kernel limit. The longest names belong to the largest VLAN id.
func validateNames(cfg config.Config, set vlan.Set) error {
	if set.Len() == 0 {
		return nil
	}
	parents := []string{cfg.Trunk, cfg.Bridge}
	if cfg.TapEnabled() {
		parents = append(parents, cfg.Tap)
	}
	for _, p := range parents {
		name := sub(p, set.Max())
		if err := config.ValidateInterfaceName(name); err != nil {
			return &config.ConfigError{Field: "names", Reason: err.Error()}
		}
	}
	return nil
}
