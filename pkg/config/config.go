// Package config holds the immutable per-run configuration of a trunk
// topology and loads it from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultVLANDir is where VLAN id files are looked up when no directory is
// given.
const DefaultVLANDir = "./vlans/"

// MaxInterfaceNameLength is the longest Linux interface name. IFNAMSIZ is 16
// including the terminating NUL.
const MaxInterfaceNameLength = 15

// Backend names accepted by Config.Backend.
const (
	BackendNetlink  = "netlink"
	BackendIPRoute2 = "iproute2"
)

// Config is the configuration of one Start or Stop run. It is built once,
// validated, and then only read.
type Config struct {
	// Topology
	Trunk   string `yaml:"trunk"`   // e.g. "eth1"
	Tap     string `yaml:"tap"`     // e.g. "tap0"
	Bridge  string `yaml:"bridge"`  // e.g. "trunk0"
	VLANDir string `yaml:"vlanDir"` // e.g. "./vlans/"
	NoTap   bool   `yaml:"noTap"`

	// VLANs, when set, replaces directory discovery.
	VLANs []int `yaml:"vlans,omitempty"`

	// Execution
	Backend        string        `yaml:"backend"`        // "netlink" or "iproute2"
	Strict         bool          `yaml:"strict"`         // reject stray entries in VLANDir
	Parallel       int           `yaml:"parallel"`       // per-VLAN chains run at once, <=1 = sequential
	CommandTimeout time.Duration `yaml:"commandTimeout"` // bound on each host mutation, 0 = none
}

// Default returns a Config with defaults filled in.
func Default() Config {
	return Config{
		VLANDir: DefaultVLANDir,
		Backend: BackendNetlink,
	}
}

// TapEnabled reports whether the tap layer is part of the topology.
func (c Config) TapEnabled() bool { return !c.NoTap }

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigError{Field: "config", Reason: err.Error()}
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, &ConfigError{Field: "config", Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	return cfg, nil
}

// Validate checks that every required value is present and well formed.
func (c Config) Validate() error {
	var missing []string
	if c.Trunk == "" {
		missing = append(missing, "trunk interface (-i)")
	}
	if c.Tap == "" && c.TapEnabled() {
		missing = append(missing, "tap interface (-t)")
	}
	if c.Bridge == "" {
		missing = append(missing, "bridge name (-b)")
	}
	if c.VLANDir == "" && len(c.VLANs) == 0 {
		missing = append(missing, "VLAN directory (-v)")
	}
	if len(missing) > 0 {
		return &ConfigError{Field: "required", Reason: fmt.Sprintf("missing %v", missing)}
	}

	names := []struct{ field, name string }{
		{"trunk", c.Trunk},
		{"bridge", c.Bridge},
	}
	if c.TapEnabled() {
		names = append(names, struct{ field, name string }{"tap", c.Tap})
	}
	for _, f := range names {
		if err := ValidateInterfaceName(f.name); err != nil {
			return &ConfigError{Field: f.field, Reason: err.Error()}
		}
	}
	if c.Trunk == c.Bridge || (c.TapEnabled() && (c.Tap == c.Bridge || c.Trunk == c.Tap)) {
		return &ConfigError{Field: "names", Reason: "trunk, tap and bridge must be distinct"}
	}

	switch c.Backend {
	case "", BackendNetlink, BackendIPRoute2:
	default:
		return &ConfigError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	if c.Parallel < 0 {
		return &ConfigError{Field: "parallel", Reason: "must not be negative"}
	}
	if c.CommandTimeout < 0 {
		return &ConfigError{Field: "commandTimeout", Reason: "must not be negative"}
	}
	return nil
}

// ValidateInterfaceName checks a Linux interface name.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return errors.New("interface name is empty")
	}
	if len(name) > MaxInterfaceNameLength {
		return fmt.Errorf("interface name %q exceeds maximum length of %d characters (got %d)",
			name, MaxInterfaceNameLength, len(name))
	}
	for _, r := range name {
		if r == '/' || r == ' ' || r == ':' || r < 0x21 || r > 0x7e {
			return fmt.Errorf("interface name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// ─── Action ──────────────────────────────────────────────────────────────────

// Action selects what a run does.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ActionFrom returns the action selected by the start/stop switches.
// Exactly one of them must be set.
func ActionFrom(start, stop bool) (Action, error) {
	switch {
	case start && stop:
		return "", &ConfigError{Field: "action", Reason: "specify either -start or -stop, not both"}
	case start:
		return ActionStart, nil
	case stop:
		return ActionStop, nil
	default:
		return "", &ConfigError{Field: "action", Reason: "specify either -start or -stop"}
	}
}

// ─── Errors ──────────────────────────────────────────────────────────────────

// ConfigError reports a missing or conflicting configuration value. It is
// always returned before the host is touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration (%s): %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
