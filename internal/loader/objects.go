package loader

import (
	"errors"
	"fmt"
	"math"

	"github.com/geekxflood/proteus/internal/oid"
	"github.com/geekxflood/proteus/internal/registry"
)

// Kind names the value type of a definition as written in CUE.
type Kind string

// Definition kinds.
const (
	KindInteger   Kind = "integer"
	KindFloat     Kind = "float"
	KindString    Kind = "string"
	KindOID       Kind = "oid"
	KindCounter32 Kind = "counter32"
	KindGauge32   Kind = "gauge32"
	KindTimeTicks Kind = "timeticks"
	KindCounter64 Kind = "counter64"
)

// Definition is one decoded object. Only the value field matching Type is set.
type Definition struct {
	OID         string `json:"oid"`
	Type        Kind   `json:"type"`
	Settable    bool   `json:"settable"`
	Absolute    bool   `json:"absolute"`
	Description string `json:"description,omitempty"`
	Capacity    int    `json:"capacity,omitempty"`
	Source      string `json:"-"`

	Int   int64   `json:"-"`
	Uint  uint64  `json:"-"`
	Float float64 `json:"-"`
	Text  string  `json:"-"`
}

// Object owns the value a definition describes and the registration
// exposing it.
type Object struct {
	Definition

	integer int32
	tenths  int32
	octets  []byte
	objID   string
	unsig   uint32
	wide    uint64

	reg *registry.Registration
}

// NewObject allocates the value for def and builds its registration.
func NewObject(def Definition) (*Object, error) {
	if !oid.Valid(def.OID) {
		return nil, fmt.Errorf("invalid OID %q: %w", def.OID, oid.ErrInvalid)
	}

	o := &Object{Definition: def}
	var acc registry.Accessor

	switch def.Type {
	case KindInteger:
		if def.Int < math.MinInt32 || def.Int > math.MaxInt32 {
			return nil, fmt.Errorf("integer %d out of range", def.Int)
		}
		o.integer = int32(def.Int)
		acc = registry.Integer{Ptr: &o.integer}
	case KindFloat:
		scaled := math.Round(def.Float * registry.FixedPointScale)
		if math.IsNaN(scaled) || scaled < math.MinInt32 || scaled > math.MaxInt32 {
			return nil, fmt.Errorf("float %g out of range", def.Float)
		}
		o.tenths = int32(scaled)
		acc = registry.FixedPoint{Ptr: &o.tenths}
	case KindString:
		if len(def.Text) > def.Capacity {
			return nil, fmt.Errorf("string value of %d bytes exceeds capacity %d", len(def.Text), def.Capacity)
		}
		o.octets = append(make([]byte, 0, def.Capacity), def.Text...)
		acc = registry.OctetString{Ptr: &o.octets}
	case KindOID:
		if !oid.Valid(def.Text) {
			return nil, fmt.Errorf("invalid OID value %q: %w", def.Text, oid.ErrInvalid)
		}
		o.objID = oid.Normalize(def.Text)
		acc = registry.ObjectIdentifier{Ptr: &o.objID}
	case KindCounter32, KindGauge32, KindTimeTicks:
		if def.Uint > math.MaxUint32 {
			return nil, fmt.Errorf("%s %d out of range", def.Type, def.Uint)
		}
		o.unsig = uint32(def.Uint)
		switch def.Type {
		case KindCounter32:
			acc = registry.Counter32{Ptr: &o.unsig}
		case KindGauge32:
			acc = registry.Gauge32{Ptr: &o.unsig}
		default:
			acc = registry.TimeTicks{Ptr: &o.unsig}
		}
	case KindCounter64:
		o.wide = def.Uint
		acc = registry.Counter64{Ptr: &o.wide}
	default:
		return nil, fmt.Errorf("unknown type %q", def.Type)
	}

	o.reg = &registry.Registration{
		OID:             def.OID,
		Settable:        def.Settable,
		OverwritePrefix: def.Absolute,
		Accessor:        acc,
	}
	return o, nil
}

// Registration returns the registry entry for the object.
func (o *Object) Registration() *registry.Registration {
	return o.reg
}

// ObjectSet is the result of one load.
type ObjectSet struct {
	Objects []*Object
	Files   []string
}

// Len returns the number of objects.
func (s *ObjectSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Objects)
}

// Install replaces previous with s in reg and re-sorts. On failure reg is
// left holding previous, and any registration of previous that could not be
// put back is reported alongside the install error. Call it only between
// dispatch cycles.
func (s *ObjectSet) Install(reg *registry.Registry, previous *ObjectSet) error {
	if previous != nil {
		for _, o := range previous.Objects {
			reg.Remove(o.reg)
		}
	}

	for i, o := range s.Objects {
		if err := reg.Add(o.reg); err != nil {
			errs := []error{fmt.Errorf("failed to install %s from %s: %w", o.OID, o.Source, err)}
			for _, added := range s.Objects[:i] {
				reg.Remove(added.reg)
			}
			if previous != nil {
				for _, p := range previous.Objects {
					if err := reg.Add(p.reg); err != nil {
						errs = append(errs, fmt.Errorf("failed to restore %s from %s: %w", p.OID, p.Source, err))
					}
				}
			}
			reg.Sort()
			return errors.Join(errs...)
		}
	}

	reg.Sort()
	return nil
}
