package app

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/network"
	"github.com/schreiberstein/trunktap/pkg/network/nettest"
)

// useHost routes every run of the test through host.
func useHost(t *testing.T, host *nettest.Host) {
	t.Helper()
	orig := newExecutor
	newExecutor = func(config.Config, *Options, *zap.SugaredLogger) (network.Executor, error) {
		return host, nil
	}
	t.Cleanup(func() { newExecutor = orig })
}

func vlanDir(t *testing.T, ids ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, id := range ids {
		if err := os.WriteFile(filepath.Join(dir, id), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	code := Main(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func topologyArgs(action, dir string) []string {
	return []string{action, "-i", "eth1", "-t", "tap0", "-b", "trunk0", "-v", dir}
}

func TestNormalizeArgs(t *testing.T) {
	got := normalizeArgs([]string{"-start", "-i", "eth1", "-stop", "--", "-start"})
	want := []string{"--start", "-i", "eth1", "--stop", "--", "-start"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeArgs = %v, want %v", got, want)
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	host.StrictOrdering = true
	useHost(t, host)
	dir := vlanDir(t, "100", "105", "README")

	code, _, stderr := run(topologyArgs("-start", dir)...)
	if code != ExitOK {
		t.Fatalf("start exit %d: %s", code, stderr)
	}
	if len(host.Names()) != 9 {
		t.Errorf("expected 9 links after start, got %v", host.Names())
	}

	code, _, stderr = run(topologyArgs("-stop", dir)...)
	if code != ExitOK {
		t.Fatalf("stop exit %d: %s", code, stderr)
	}
	if got := strings.Join(host.Names(), ","); got != "eth1,tap0" {
		t.Errorf("expected clean host after stop, got %s", got)
	}
}

func TestUsageErrors(t *testing.T) {
	useHost(t, nettest.NewHost("eth1", "tap0"))
	dir := vlanDir(t, "100")

	tests := []struct {
		name string
		args []string
	}{
		{"neither start nor stop", []string{"-i", "eth1", "-t", "tap0", "-b", "trunk0", "-v", dir}},
		{"both start and stop", append(topologyArgs("-start", dir), "-stop")},
		{"missing trunk", []string{"-start", "-t", "tap0", "-b", "trunk0", "-v", dir}},
		{"unknown flag", append(topologyArgs("-start", dir), "--frobnicate")},
		{"stray argument", append(topologyArgs("-start", dir), "extra")},
		{"derived name too long", []string{"-start", "-i", "eth1", "-t", "tap0", "-b", "verylongbridge", "-v", vlanDir(t, "4000")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(tt.args...)
			if code != ExitUsage {
				t.Errorf("expected exit %d, got %d: %s", ExitUsage, code, stderr)
			}
		})
	}
}

func TestDiscoveryFailure(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	useHost(t, host)

	code, _, _ := run(topologyArgs("-start", filepath.Join(t.TempDir(), "missing"))...)
	if code != ExitFailure {
		t.Errorf("expected exit %d, got %d", ExitFailure, code)
	}
	if len(host.Calls()) != 0 {
		t.Error("host must not be touched when discovery fails")
	}
}

func TestStrictDiscovery(t *testing.T) {
	useHost(t, nettest.NewHost("eth1", "tap0"))
	dir := vlanDir(t, "100", "notes.txt")

	code, _, _ := run(append(topologyArgs("-start", dir), "--strict")...)
	if code != ExitFailure {
		t.Errorf("expected strict discovery to fail, got exit %d", code)
	}
}

func TestStartFailureExitCode(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	host.FailOn(network.OpCreateBridge, "trunk0.105", nil)
	useHost(t, host)

	code, _, stderr := run(topologyArgs("-start", vlanDir(t, "100", "105"))...)
	if code != ExitFailure {
		t.Fatalf("expected exit %d, got %d", ExitFailure, code)
	}
	if !strings.Contains(stderr, `first failing step "create-bridge trunk0.105"`) {
		t.Errorf("stderr lacks failing step: %s", stderr)
	}
}

func TestStopFailuresDoNotFailRun(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	useHost(t, host)
	dir := vlanDir(t, "100")

	if code, _, stderr := run(topologyArgs("-start", dir)...); code != ExitOK {
		t.Fatalf("start exit %d: %s", code, stderr)
	}
	host.FailOn(network.OpDeleteBridge, "trunk0.100", nil)

	code, _, stderr := run(topologyArgs("-stop", dir)...)
	if code != ExitOK {
		t.Fatalf("expected exit 0 for partial stop, got %d", code)
	}
	if !strings.Contains(stderr, "stop finished with 1 failed step(s)") ||
		!strings.Contains(stderr, "  - delete-bridge trunk0.100") {
		t.Errorf("stderr lacks failure list: %s", stderr)
	}
}

func TestPlanPrintsWithoutTouchingHost(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	useHost(t, host)

	code, stdout, stderr := run(append(topologyArgs("-start", vlanDir(t, "100")), "-plan")...)
	if code != ExitOK {
		t.Fatalf("plan exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "attach tap0.100 -> trunk0.100") {
		t.Errorf("plan output lacks tap attach:\n%s", stdout)
	}
	if len(host.Calls()) != 0 {
		t.Error("plan must not touch the host")
	}
}

func TestConfigFileWithFlagOverride(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0", "eth2")
	useHost(t, host)

	path := filepath.Join(t.TempDir(), "trunktap.yaml")
	cfg := "trunk: eth2\ntap: tap0\nbridge: br0\nvlans: [7]\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := run("-start", "--config", path, "-i", "eth1", "--no-tap")
	if code != ExitOK {
		t.Fatalf("start exit %d: %s", code, stderr)
	}
	snap := host.Snapshot()
	if snap["eth1.7"].Master != "br0.7" {
		t.Errorf("flag should override trunk from the file: %+v", snap["eth1.7"])
	}
	if _, ok := snap["tap0.7"]; ok {
		t.Error("--no-tap should skip the tap layer")
	}
}

func TestStateFileCoversDroppedVLANs(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	useHost(t, host)
	dir := vlanDir(t, "100", "105")
	statePath := filepath.Join(t.TempDir(), "state.yaml")

	args := func(action string) []string {
		return append(topologyArgs(action, dir), "--state-file", statePath)
	}
	if code, _, stderr := run(args("-start")...); code != ExitOK {
		t.Fatalf("start exit %d: %s", code, stderr)
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("expected run record: %v", err)
	}

	// VLAN 105 is dropped from the directory before stop.
	if err := os.Remove(filepath.Join(dir, "105")); err != nil {
		t.Fatal(err)
	}
	if code, _, stderr := run(args("-stop")...); code != ExitOK {
		t.Fatalf("stop exit %d: %s", code, stderr)
	}
	if got := strings.Join(host.Names(), ","); got != "eth1,tap0" {
		t.Errorf("expected VLAN 105 torn down from the record, got %s", got)
	}
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Error("a clean stop should clear the run record")
	}
}

func TestStatus(t *testing.T) {
	host := nettest.NewHost("eth1", "tap0")
	useHost(t, host)
	dir := vlanDir(t, "100")
	statusArgs := []string{"status", "-i", "eth1", "-t", "tap0", "-b", "trunk0", "-v", dir}

	code, stdout, _ := run(statusArgs...)
	if code != ExitFailure {
		t.Errorf("expected status of an unbuilt topology to fail, got %d", code)
	}
	if !strings.Contains(stdout, "trunk0.100") || !strings.Contains(stdout, "missing") {
		t.Errorf("unexpected status output:\n%s", stdout)
	}

	if code, _, stderr := run(topologyArgs("-start", dir)...); code != ExitOK {
		t.Fatalf("start exit %d: %s", code, stderr)
	}
	code, stdout, stderr := run(append(statusArgs, "-o", "json")...)
	if code != ExitOK {
		t.Fatalf("status exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"wantMaster": "trunk0.100"`) {
		t.Errorf("unexpected json output:\n%s", stdout)
	}
}
