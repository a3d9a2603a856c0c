package state

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Trunk = "eth1"
	cfg.Tap = "tap0"
	cfg.Bridge = "trunk0"
	return cfg
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s := NewStore(path)

	if _, ok, err := s.Load(); err != nil || ok {
		t.Fatalf("expected no record yet, got ok=%v err=%v", ok, err)
	}

	rec := NewRecord("run-1", config.ActionStart, "Complete", testConfig(), vlan.NewSet(105, 100))
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.RunID != "run-1" || got.Action != config.ActionStart || got.Phase != "Complete" {
		t.Errorf("unexpected record %+v", got)
	}
	if !reflect.DeepEqual(got.VLANs, []int{100, 105}) {
		t.Errorf("expected sorted VLANs, got %v", got.VLANs)
	}
	if !got.Matches(testConfig()) {
		t.Error("record should match the config it was made from")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected record file removed, stat err = %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear should be a no-op, got %v", err)
	}
}

func TestDisabledStore(t *testing.T) {
	s := NewStore("")
	if s.Enabled() {
		t.Fatal("empty path should disable the store")
	}
	if err := s.Save(Record{}); err != nil {
		t.Errorf("Save on disabled store: %v", err)
	}
	if _, ok, err := s.Load(); ok || err != nil {
		t.Errorf("Load on disabled store: ok=%v err=%v", ok, err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("vlans: [1, 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewStore(path).Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestRecordMatches(t *testing.T) {
	rec := NewRecord("r", config.ActionStart, "Complete", testConfig(), vlan.NewSet(1))

	other := testConfig()
	other.Bridge = "trunk1"
	if rec.Matches(other) {
		t.Error("different bridge must not match")
	}
	other = testConfig()
	other.NoTap = true
	if rec.Matches(other) {
		t.Error("different tap mode must not match")
	}
}

func TestRecordSetDropsInvalid(t *testing.T) {
	rec := Record{VLANs: []int{0, 100, 5000, 7}}
	if got := rec.Set().String(); got != "[7,100]" {
		t.Errorf("Set() = %s, want [7,100]", got)
	}
}

func TestUnion(t *testing.T) {
	got := Union(vlan.NewSet(1, 5), vlan.NewSet(5, 9))
	if got.String() != "[1,5,9]" {
		t.Errorf("Union = %s", got)
	}
}
