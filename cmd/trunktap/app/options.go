package app

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/schreiberstein/trunktap/pkg/config"
)

// Options holds the command-line flags shared by every subcommand.
type Options struct {
	ConfigFile string
	Trunk      string
	Tap        string
	Bridge     string
	VLANDir    string
	NoTap      bool
	Backend    string
	IPBinary   string
	DryRun     bool
	Strict     bool
	Parallel   int
	Timeout    time.Duration
	StateFile  string
	Debug      bool
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", "", "YAML config file. Flags override its values.")
	fs.StringVarP(&o.Trunk, "interface", "i", "", "Trunk interface carrying tagged VLAN traffic, e.g. eth1.")
	fs.StringVarP(&o.Tap, "tap-interface", "t", "", "Tap interface to extend the VLANs into, e.g. tap0.")
	fs.StringVarP(&o.Bridge, "bridge", "b", "", "Name of the root bridge; VLAN bridges are named <bridge>.<vid>.")
	fs.StringVarP(&o.VLANDir, "vlan-dir", "v", config.DefaultVLANDir, "Directory whose entry names are the VLAN ids to configure.")
	fs.BoolVar(&o.NoTap, "no-tap", false, "Skip the tap layer entirely.")
	fs.StringVar(&o.Backend, "backend", config.BackendNetlink, "How to change the host: netlink or iproute2.")
	fs.StringVar(&o.IPBinary, "ip-binary", "ip", "ip(8) binary used by the iproute2 backend.")
	fs.BoolVar(&o.DryRun, "dry-run", false, "Log every change instead of applying it.")
	fs.BoolVar(&o.Strict, "strict", false, "Fail when the VLAN directory holds entries that are not VLAN ids.")
	fs.IntVar(&o.Parallel, "parallel", 0, "Per-VLAN steps to run concurrently within a stage (<=1 is sequential).")
	fs.DurationVar(&o.Timeout, "timeout", 0, "Bound on each host change, e.g. 10s (0 = none).")
	fs.StringVar(&o.StateFile, "state-file", "", "Record the last run here so stop also removes VLANs that were dropped since start.")
	fs.BoolVar(&o.Debug, "debug", false, "Human-readable debug logging.")
}

// ActionOptions are the root command's start/stop switches.
type ActionOptions struct {
	Start bool
	Stop  bool
	Plan  bool
}

func (o *ActionOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Start, "start", false, "Build the topology.")
	fs.BoolVar(&o.Stop, "stop", false, "Tear the topology down.")
	fs.BoolVar(&o.Plan, "plan", false, "Print the steps start or stop would run and exit.")
}

// Config builds the run configuration: defaults, then the config file, then
// every flag set explicitly on the command line.
func (o *Options) Config(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if o.ConfigFile != "" {
		loaded, err := config.Load(o.ConfigFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("interface", func() { cfg.Trunk = o.Trunk })
	set("tap-interface", func() { cfg.Tap = o.Tap })
	set("bridge", func() { cfg.Bridge = o.Bridge })
	set("vlan-dir", func() { cfg.VLANDir = o.VLANDir; cfg.VLANs = nil })
	set("no-tap", func() { cfg.NoTap = o.NoTap })
	set("backend", func() { cfg.Backend = o.Backend })
	set("strict", func() { cfg.Strict = o.Strict })
	set("parallel", func() { cfg.Parallel = o.Parallel })
	set("timeout", func() { cfg.CommandTimeout = o.Timeout })

	return cfg, cfg.Validate()
}
