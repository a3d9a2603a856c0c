// Package vlan holds 802.1Q VLAN identifiers and the ordered sets the
// topology is built from.
package vlan

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// MinID and MaxID bound the usable 802.1Q VLAN identifiers. 0 and 4095
	// are reserved by the standard.
	MinID = 1
	MaxID = 4094
)

// ID is a validated VLAN identifier.
type ID int

// Parse converts s to an ID. Only plain decimal digits are accepted: a
// directory entry named " 100" or "+100" is a stray file, not VLAN 100.
func Parse(s string) (ID, error) {
	if s == "" || strings.TrimSpace(s) != s || s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("invalid VLAN id %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid VLAN id %q: not a number", s)
	}
	return Validate(n)
}

// Validate checks that n is in [MinID, MaxID].
func Validate(n int) (ID, error) {
	if n < MinID || n > MaxID {
		return 0, fmt.Errorf("VLAN id %d out of range [%d, %d]", n, MinID, MaxID)
	}
	return ID(n), nil
}

// Set is an immutable, sorted, duplicate-free set of VLAN ids.
type Set struct {
	ids []ID
}

// NewSet builds a Set from ids, dropping duplicates. Callers validate ids
// beforehand.
func NewSet(ids ...ID) Set {
	s := sets.New[ID](ids...)
	return Set{ids: sets.List(s)}
}

// IDs returns the ids in ascending order. The slice is a copy.
func (s Set) IDs() []ID {
	out := make([]ID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Descending returns the ids in descending order.
func (s Set) Descending() []ID {
	out := make([]ID, len(s.ids))
	for i, id := range s.ids {
		out[len(s.ids)-1-i] = id
	}
	return out
}

// Len returns the number of ids in the set.
func (s Set) Len() int { return len(s.ids) }

// Max returns the largest id, or 0 for an empty set.
func (s Set) Max() ID {
	if len(s.ids) == 0 {
		return 0
	}
	return s.ids[len(s.ids)-1]
}

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s Set) String() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
