// Package state persists a record of the last topology run so that a later
// Stop can tear down VLANs that have since disappeared from discovery.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

// Record is the persisted outcome of one Start or Stop.
type Record struct {
	RunID     string        `yaml:"runID"`
	Action    config.Action `yaml:"action"`
	Phase     string        `yaml:"phase"`
	Trunk     string        `yaml:"trunk"`
	Tap       string        `yaml:"tap,omitempty"`
	Bridge    string        `yaml:"bridge"`
	NoTap     bool          `yaml:"noTap,omitempty"`
	VLANs     []int         `yaml:"vlans"`
	UpdatedAt time.Time     `yaml:"updatedAt"`
}

// NewRecord captures cfg and set for a run.
func NewRecord(runID string, action config.Action, phase string, cfg config.Config, set vlan.Set) Record {
	ids := set.IDs()
	vlans := make([]int, len(ids))
	for i, id := range ids {
		vlans[i] = int(id)
	}
	return Record{
		RunID:     runID,
		Action:    action,
		Phase:     phase,
		Trunk:     cfg.Trunk,
		Tap:       cfg.Tap,
		Bridge:    cfg.Bridge,
		NoTap:     cfg.NoTap,
		VLANs:     vlans,
		UpdatedAt: time.Now().UTC(),
	}
}

// Matches reports whether r describes the same trunk, tap and bridge as cfg.
// Records of another topology must not influence this one.
func (r Record) Matches(cfg config.Config) bool {
	return r.Trunk == cfg.Trunk && r.Bridge == cfg.Bridge && r.Tap == cfg.Tap && r.NoTap == cfg.NoTap
}

// Set returns the recorded VLAN ids. Invalid ids are dropped.
func (r Record) Set() vlan.Set {
	ids := make([]vlan.ID, 0, len(r.VLANs))
	for _, n := range r.VLANs {
		if id, err := vlan.Validate(n); err == nil {
			ids = append(ids, id)
		}
	}
	return vlan.NewSet(ids...)
}

// Store loads and saves a Record as a YAML file. An empty path disables it.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Enabled reports whether the store has a backing file.
func (s *Store) Enabled() bool { return s != nil && s.path != "" }

// Load returns the stored record. ok is false when there is none.
func (s *Store) Load() (rec Record, ok bool, err error) {
	if !s.Enabled() {
		return Record{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading run record %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("parsing run record %s: %w", s.path, err)
	}
	return rec, true, nil
}

// Save writes rec, replacing the file atomically.
func (s *Store) Save(rec Record) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".trunktap-state-*")
	if err != nil {
		return fmt.Errorf("writing run record to %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing run record to %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing run record to %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing run record to %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the record. A missing file is not an error.
func (s *Store) Clear() error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing run record %s: %w", s.path, err)
	}
	return nil
}

// Union returns the ids present in either set.
func Union(a, b vlan.Set) vlan.Set {
	return vlan.NewSet(append(a.IDs(), b.IDs()...)...)
}
