// Package registry holds the ordered set of OIDs the agent serves, each bound
// to an accessor over a value owned by the caller.
package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/oid"
)

var (
	// ErrNotFound is returned by Find when no registration answers the request.
	ErrNotFound = errors.New("no such object")

	// ErrDuplicate is returned by Add when the resolved OID is already registered.
	ErrDuplicate = errors.New("object already registered")
)

// Registration binds an OID to an accessor.
type Registration struct {
	// OID is the suffix appended to the registry prefix, or the absolute OID
	// when OverwritePrefix is set.
	OID             string
	Settable        bool
	OverwritePrefix bool
	Accessor        Accessor

	resolved string
	arcs     []uint32
}

// Type returns the wire tag of the registration's values.
func (r *Registration) Type() ber.Tag {
	return r.Accessor.Type()
}

// Resolved returns the absolute OID the registration answers to. It is set by Add.
func (r *Registration) Resolved() string {
	return r.resolved
}

// Registry is an ordered collection of registrations. It is not safe for
// concurrent use; mutate it only between dispatch cycles.
type Registry struct {
	prefix  string
	entries []*Registration
}

// New creates an empty registry applying prefix to relative registrations.
func New(prefix string) (*Registry, error) {
	if prefix != "" && !oid.Valid(prefix) {
		return nil, fmt.Errorf("invalid OID prefix %q: %w", prefix, oid.ErrInvalid)
	}
	return &Registry{prefix: prefix}, nil
}

// Prefix returns the configured OID prefix.
func (r *Registry) Prefix() string {
	return r.prefix
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Add appends reg to the tail without re-sorting.
func (r *Registry) Add(reg *Registration) error {
	if reg == nil || reg.Accessor == nil {
		return fmt.Errorf("registration for %q has no accessor", regOID(reg))
	}

	resolved := reg.OID
	if !reg.OverwritePrefix {
		resolved = oid.Join(r.prefix, reg.OID)
	}
	arcs, err := oid.Parse(resolved)
	if err != nil {
		return fmt.Errorf("invalid OID for registration %q: %w", reg.OID, err)
	}
	resolved = oid.Format(arcs)

	for _, e := range r.entries {
		if e == reg {
			return fmt.Errorf("%w: registration %s added twice", ErrDuplicate, resolved)
		}
		if e.resolved == resolved {
			return fmt.Errorf("%w: %s", ErrDuplicate, resolved)
		}
	}

	reg.resolved = resolved
	reg.arcs = arcs
	r.entries = append(r.entries, reg)
	return nil
}

// Remove splices reg out by identity. The remaining entries keep their order.
func (r *Registry) Remove(reg *Registration) bool {
	for i, e := range r.entries {
		if e == reg {
			r.entries = slices.Delete(r.entries, i, i+1)
			return true
		}
	}
	return false
}

// Sort orders the registrations by numeric OID comparison, parents before
// children. It returns the number of entries that changed position, which is
// zero for an already sorted registry.
func (r *Registry) Sort() int {
	if slices.IsSortedFunc(r.entries, compareEntries) {
		return 0
	}

	before := slices.Clone(r.entries)
	slices.SortStableFunc(r.entries, compareEntries)

	moved := 0
	for i := range before {
		if before[i] != r.entries[i] {
			moved++
		}
	}
	return moved
}

// Find resolves a requested OID. With wantNext it returns the successor used
// by GetNext: the entry after an exact match, or the smallest registered OID
// greater than the request when it is not registered itself.
func (r *Registry) Find(requested string, wantNext bool) (*Registration, error) {
	requested = oid.Normalize(requested)

	for i, e := range r.entries {
		if e.resolved != requested {
			continue
		}
		if !wantNext {
			return e, nil
		}
		if i+1 < len(r.entries) {
			return r.entries[i+1], nil
		}
		return nil, ErrNotFound
	}

	if !wantNext {
		return nil, ErrNotFound
	}

	arcs, err := oid.Parse(requested)
	if err != nil {
		return nil, ErrNotFound
	}

	var best *Registration
	for _, e := range r.entries {
		if oid.CompareArcs(e.arcs, arcs) <= 0 {
			continue
		}
		if best == nil || oid.CompareArcs(e.arcs, best.arcs) < 0 {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// All returns the registrations in their current order.
func (r *Registry) All() []*Registration {
	return slices.Clone(r.entries)
}

func compareEntries(a, b *Registration) int {
	return oid.CompareArcs(a.arcs, b.arcs)
}

func regOID(reg *Registration) string {
	if reg == nil {
		return ""
	}
	return reg.OID
}
