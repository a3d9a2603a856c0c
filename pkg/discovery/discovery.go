// Package discovery enumerates the VLAN ids a topology is built from.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/schreiberstein/trunktap/pkg/vlan"
)

// Source produces the VLAN set for one run.
type Source interface {
	Discover(ctx context.Context) (vlan.Set, error)
}

// DiscoveryError is returned when the VLAN source cannot be enumerated, or,
// in strict mode, when it holds an entry that is not a VLAN id.
type DiscoveryError struct {
	Source string
	Entry  string // offending entry, empty when the source itself failed
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("discovering VLANs in %s: entry %q: %v", e.Source, e.Entry, e.Err)
	}
	return fmt.Sprintf("discovering VLANs in %s: %v", e.Source, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// IsDiscoveryError reports whether err is or wraps a *DiscoveryError.
func IsDiscoveryError(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}

// ─── Directory Source ────────────────────────────────────────────────────────

// DirSource reads VLAN ids from the entry names of a directory, e.g. a
// directory holding empty files "100" and "105". Entry contents are ignored.
//
// In lenient mode (the default) entries that are not valid VLAN ids are
// skipped with a warning; hidden entries are skipped silently. In strict mode
// the first invalid entry fails discovery.
type DirSource struct {
	Dir    string
	Strict bool
	Log    *zap.SugaredLogger
}

// NewDirSource returns a lenient DirSource for dir.
func NewDirSource(dir string, log *zap.SugaredLogger) *DirSource {
	return &DirSource{Dir: dir, Log: log.Named("discovery")}
}

func (s *DirSource) Discover(ctx context.Context) (vlan.Set, error) {
	if err := ctx.Err(); err != nil {
		return vlan.Set{}, &DiscoveryError{Source: s.Dir, Err: err}
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return vlan.Set{}, &DiscoveryError{Source: s.Dir, Err: err}
	}

	var ids []vlan.ID
	skipped := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		id, err := vlan.Parse(name)
		if err != nil {
			if s.Strict {
				return vlan.Set{}, &DiscoveryError{Source: s.Dir, Entry: name, Err: err}
			}
			skipped++
			s.logger().Warnw("skipping entry that is not a VLAN id", "dir", s.Dir, "entry", name, "error", err)
			continue
		}
		ids = append(ids, id)
	}

	set := vlan.NewSet(ids...)
	s.logger().Infow("VLAN discovery complete", "dir", s.Dir, "vlans", set.String(), "skipped", skipped)
	return set, nil
}

func (s *DirSource) logger() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

// ─── Static Source ───────────────────────────────────────────────────────────

// StaticSource returns a fixed list of ids, typically from a config file.
// Every id must be valid.
type StaticSource struct {
	IDs []int
}

func (s StaticSource) Discover(_ context.Context) (vlan.Set, error) {
	ids := make([]vlan.ID, 0, len(s.IDs))
	for _, n := range s.IDs {
		id, err := vlan.Validate(n)
		if err != nil {
			return vlan.Set{}, &DiscoveryError{Source: "config", Entry: fmt.Sprint(n), Err: err}
		}
		ids = append(ids, id)
	}
	return vlan.NewSet(ids...), nil
}
