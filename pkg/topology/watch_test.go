package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/schreiberstein/trunktap/pkg/network"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

type fakeSource struct {
	mu  sync.Mutex
	set vlan.Set
	err error
}

func (s *fakeSource) Discover(context.Context) (vlan.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set, s.err
}

func (s *fakeSource) setIDs(ids ...vlan.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = vlan.NewSet(ids...)
}

func TestWatchPassConverges(t *testing.T) {
	o, host := newTestOrchestrator()
	ctx := context.Background()
	cfg := testConfig()
	src := &fakeSource{set: vlan.NewSet(100)}

	res := o.watchPass(ctx, cfg, src, vlan.Set{})
	if res.Err != nil {
		t.Fatalf("first pass: %v", res.Err)
	}
	if len(res.Drifted) == 0 {
		t.Error("expected a fresh host to report drift")
	}

	res = o.watchPass(ctx, cfg, src, res.Set)
	if res.Err != nil || len(res.Drifted) != 0 {
		t.Fatalf("expected a clean second pass, got drift=%v err=%v", res.Drifted, res.Err)
	}

	// Knock a port off its bridge and a bridge down.
	if err := host.Detach(ctx, "tap0.100"); err != nil {
		t.Fatal(err)
	}
	if err := host.SetLinkState(ctx, "trunk0.100", network.Down); err != nil {
		t.Fatal(err)
	}

	res = o.watchPass(ctx, cfg, src, res.Set)
	if res.Err != nil {
		t.Fatalf("repair pass: %v", res.Err)
	}
	if len(res.Drifted) != 2 {
		t.Errorf("expected 2 drifted resources, got %v", res.Drifted)
	}
	snap := host.Snapshot()
	if snap["tap0.100"].Master != "trunk0.100" || !snap["trunk0.100"].Up {
		t.Errorf("drift not repaired: %+v %+v", snap["tap0.100"], snap["trunk0.100"])
	}
}

func TestWatchPassNewAndRemovedVLANs(t *testing.T) {
	o, host := newTestOrchestrator()
	ctx := context.Background()
	cfg := testConfig()
	src := &fakeSource{set: vlan.NewSet(100, 200)}

	res := o.watchPass(ctx, cfg, src, vlan.Set{})
	if res.Err != nil {
		t.Fatal(res.Err)
	}

	src.setIDs(100, 300)
	res = o.watchPass(ctx, cfg, src, res.Set)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != 200 {
		t.Errorf("expected VLAN 200 reported removed, got %v", res.Removed)
	}
	snap := host.Snapshot()
	if _, ok := snap["trunk0.300"]; !ok {
		t.Error("new VLAN 300 was not built")
	}
	if _, ok := snap["trunk0.200"]; !ok {
		t.Error("removed VLAN 200 must be left for an explicit stop")
	}
}

func TestWatchPassDiscoveryFailure(t *testing.T) {
	o, host := newTestOrchestrator()
	boom := errors.New("boom")
	src := &fakeSource{err: boom}

	res := o.watchPass(context.Background(), testConfig(), src, vlan.Set{})
	if !errors.Is(res.Err, boom) {
		t.Fatalf("expected discovery error, got %v", res.Err)
	}
	if len(host.Calls()) != 0 {
		t.Error("no mutation expected when discovery fails")
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{set: vlan.NewSet(100)}

	passes := make(chan PassResult, 16)
	done := make(chan error, 1)
	go func() {
		done <- o.Watch(ctx, testConfig(), src, WatchOpts{
			Interval: 5 * time.Millisecond,
			OnPass: func(r PassResult) {
				select {
				case passes <- r:
				default:
				}
			},
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case r := <-passes:
			if r.Err != nil {
				t.Fatalf("pass %d: %v", i, r.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for watch pass")
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
