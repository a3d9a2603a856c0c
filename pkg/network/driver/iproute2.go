package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/schreiberstein/trunktap/pkg/network"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// IPRoute2 implements network.Executor by running the iproute2 "ip" command,
// one invocation per primitive. It is the fallback for hosts where netlink
// from this process is not an option (e.g. when ip is wrapped by sudo).
type IPRoute2 struct {
	bin    string
	runner Runner
	log    *zap.SugaredLogger
}

// NewIPRoute2 returns an Executor that runs bin (default "ip") through runner
// (default ExecRunner).
func NewIPRoute2(bin string, runner Runner, log *zap.SugaredLogger) *IPRoute2 {
	if bin == "" {
		bin = "ip"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &IPRoute2{
		bin:    bin,
		runner: runner,
		log:    log.Named("iproute2-driver"),
	}
}

// ─── VLAN Operations ─────────────────────────────────────────────────────────

func (d *IPRoute2) CreateVLAN(ctx context.Context, parent string, id int) error {
	name := network.SubInterface(parent, id)
	err := d.ip(ctx, "link", "add", "link", parent, "name", name, "type", "vlan", "id", fmt.Sprint(id))
	if isExists(err) {
		if err := d.checkExistingVLAN(ctx, parent, id); err != nil {
			return network.NewCommandError(network.OpCreateVLAN, name, err)
		}
		d.log.Debugw("VLAN interface already exists", "name", name)
		return nil
	}
	if err != nil {
		return network.NewCommandError(network.OpCreateVLAN, name, err)
	}
	d.log.Infow("VLAN interface created", "name", name, "parent", parent, "vid", id)
	return nil
}

func (d *IPRoute2) DeleteVLAN(ctx context.Context, parent string, id int) error {
	name := network.SubInterface(parent, id)
	err := d.ip(ctx, "link", "delete", "dev", name, "type", "vlan")
	if isMissing(err) {
		d.log.Debugw("VLAN interface already gone", "name", name)
		return nil
	}
	if err != nil {
		return network.NewCommandError(network.OpDeleteVLAN, name, err)
	}
	d.log.Infow("VLAN interface deleted", "name", name)
	return nil
}

// ─── Link State ──────────────────────────────────────────────────────────────

func (d *IPRoute2) SetLinkState(ctx context.Context, name string, state network.LinkState) error {
	err := d.ip(ctx, "link", "set", "dev", name, state.String())
	if state == network.Down && isMissing(err) {
		d.log.Debugw("link already gone, nothing to bring down", "name", name)
		return nil
	}
	if err != nil {
		return network.NewCommandError(network.LinkStateOp(state), name, err)
	}
	d.log.Infow("link state set", "name", name, "state", state.String())
	return nil
}

// ─── Bridge Operations ───────────────────────────────────────────────────────

func (d *IPRoute2) CreateBridge(ctx context.Context, name string) error {
	err := d.ip(ctx, "link", "add", "name", name, "type", "bridge")
	if isExists(err) {
		l, ok, err := d.show(ctx, name)
		if err != nil {
			return network.NewCommandError(network.OpCreateBridge, name, err)
		}
		if !ok || l.LinkInfo.InfoKind != "bridge" {
			return network.NewCommandError(network.OpCreateBridge, name,
				fmt.Errorf("%q already exists but is not a bridge (type %s)", name, l.kind()))
		}
		d.log.Debugw("bridge already exists", "name", name)
		return nil
	}
	if err != nil {
		return network.NewCommandError(network.OpCreateBridge, name, err)
	}
	d.log.Infow("bridge created", "name", name)
	return nil
}

func (d *IPRoute2) DeleteBridge(ctx context.Context, name string) error {
	err := d.ip(ctx, "link", "delete", "dev", name, "type", "bridge")
	if isMissing(err) {
		d.log.Debugw("bridge already gone", "name", name)
		return nil
	}
	if err != nil {
		return network.NewCommandError(network.OpDeleteBridge, name, err)
	}
	d.log.Infow("bridge deleted", "name", name)
	return nil
}

// ─── Bridge Membership ───────────────────────────────────────────────────────

func (d *IPRoute2) Attach(ctx context.Context, child, bridge string) error {
	if err := d.ip(ctx, "link", "set", "dev", child, "master", bridge); err != nil {
		return &network.CommandError{Op: network.OpAttach, Target: child, Master: bridge, Err: err}
	}
	d.log.Infow("port attached", "bridge", bridge, "port", child)
	return nil
}

func (d *IPRoute2) Detach(ctx context.Context, child string) error {
	err := d.ip(ctx, "link", "set", "dev", child, "nomaster")
	if isMissing(err) {
		d.log.Debugw("port already gone, nothing to detach", "port", child)
		return nil
	}
	if err != nil {
		return network.NewCommandError(network.OpDetach, child, err)
	}
	d.log.Infow("port detached", "port", child)
	return nil
}

// ─── Introspection ───────────────────────────────────────────────────────────

// ipLink is the subset of `ip -j -d link show` output we read.
type ipLink struct {
	IfName   string   `json:"ifname"`
	Flags    []string `json:"flags"`
	Master   string   `json:"master"`
	Link     string   `json:"link"` // parent, for stacked links
	LinkInfo struct {
		InfoKind string `json:"info_kind"`
		InfoData struct {
			ID int `json:"id"` // VLAN id
		} `json:"info_data"`
	} `json:"linkinfo"`
}

func (l ipLink) kind() string {
	if l.LinkInfo.InfoKind == "" {
		return "device"
	}
	return l.LinkInfo.InfoKind
}

// show returns the details of name. ok is false when the link is absent.
func (d *IPRoute2) show(ctx context.Context, name string) (l ipLink, ok bool, err error) {
	args := []string{"-j", "-d", "link", "show", "dev", name}
	out, err := d.runner.Run(ctx, d.bin, args...)
	if err != nil {
		cmdErr := &ipError{args: args, output: strings.TrimSpace(string(out)), err: err}
		if isMissing(cmdErr) {
			return ipLink{}, false, nil
		}
		return ipLink{}, false, cmdErr
	}

	var links []ipLink
	if err := json.Unmarshal(out, &links); err != nil {
		return ipLink{}, false, fmt.Errorf("parsing ip output for %s: %w", name, err)
	}
	if len(links) == 0 {
		return ipLink{}, false, nil
	}
	return links[0], true, nil
}

// checkExistingVLAN verifies that the link in the way of a VLAN create is
// that very VLAN: kind vlan, the same id, stacked on parent.
func (d *IPRoute2) checkExistingVLAN(ctx context.Context, parent string, id int) error {
	name := network.SubInterface(parent, id)
	l, ok, err := d.show(ctx, name)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		return fmt.Errorf("%q reported as existing but cannot be inspected", name)
	case l.kind() != "vlan":
		return fmt.Errorf("%q already exists but is not a VLAN interface (type %s)", name, l.kind())
	case l.LinkInfo.InfoData.ID != id:
		return fmt.Errorf("%q already exists as VLAN %d, not %d", name, l.LinkInfo.InfoData.ID, id)
	case l.Link != parent:
		return fmt.Errorf("%q already exists on parent %q, not %q", name, l.Link, parent)
	}
	return nil
}

func (d *IPRoute2) LinkInfo(ctx context.Context, name string) (network.LinkInfo, error) {
	l, ok, err := d.show(ctx, name)
	if err != nil {
		return network.LinkInfo{}, err
	}
	if !ok {
		return network.LinkInfo{Name: name}, nil
	}

	info := network.LinkInfo{
		Name:   name,
		Exists: true,
		Kind:   l.kind(),
		Master: l.Master,
	}
	for _, f := range l.Flags {
		if f == "UP" {
			info.Up = true
		}
	}
	return info, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// ipError carries the output of a failed ip invocation.
type ipError struct {
	args   []string
	output string
	err    error
}

func (e *ipError) Error() string {
	if e.output == "" {
		return fmt.Sprintf("ip %s: %v", strings.Join(e.args, " "), e.err)
	}
	return fmt.Sprintf("ip %s: %v: %s", strings.Join(e.args, " "), e.err, e.output)
}

func (e *ipError) Unwrap() error { return e.err }

func (d *IPRoute2) ip(ctx context.Context, args ...string) error {
	d.log.Debugw("running ip", "args", args)
	out, err := d.runner.Run(ctx, d.bin, args...)
	if err != nil {
		return &ipError{args: args, output: strings.TrimSpace(string(out)), err: err}
	}
	return nil
}

func isExists(err error) bool {
	var ie *ipError
	return errors.As(err, &ie) && strings.Contains(ie.output, "File exists")
}

func isMissing(err error) bool {
	var ie *ipError
	if !errors.As(err, &ie) {
		return false
	}
	return strings.Contains(ie.output, "Cannot find device") ||
		strings.Contains(ie.output, "does not exist") ||
		strings.Contains(ie.output, "No such device")
}

var (
	_ network.Executor  = (*IPRoute2)(nil)
	_ network.Inspector = (*IPRoute2)(nil)
)
