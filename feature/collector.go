package feature

import (
	"fmt"
	"slices"

	"github.com/hupe1980/fcarchive/distance"
	"github.com/hupe1980/fcarchive/record"
)

// Kind tags a feature variant inside a collector.
type Kind uint8

const (
	// KindFloats is a plain global float vector.
	KindFloats Kind = 1
	// KindVLAD is a VLAD aggregated vector.
	KindVLAD Kind = 2
	// KindORB is a group of ORB binary local features.
	KindORB Kind = 3
)

// GroupORB selects the ORB group for count and sample operations.
const GroupORB = record.GroupKind(KindORB)

// Selectors of the global features for SampleFeatures.
const (
	SelectFloats = record.FeatureKind(KindFloats)
	SelectVLAD   = record.FeatureKind(KindVLAD)
)

func (k Kind) String() string {
	switch k {
	case KindFloats:
		return "floats"
	case KindVLAD:
		return "vlad"
	case KindORB:
		return "orb"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind converts a kind name as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindFloats, KindVLAD, KindORB} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("feature: unknown kind %q", s)
}

// Feature is one member of the tagged union held by a Collector.
type Feature interface {
	Kind() Kind
}

// Floats is a global float vector.
type Floats []float32

// Kind implements Feature.
func (Floats) Kind() Kind { return KindFloats }

// VLAD is a vector of locally aggregated descriptors.
type VLAD []float32

// Kind implements Feature.
func (VLAD) Kind() Kind { return KindVLAD }

// Normalized returns an L2 normalized copy. A zero vector is returned as is.
func (v VLAD) Normalized() VLAD {
	out, ok := distance.NormalizeL2Copy(v)
	if !ok {
		return slices.Clone(v)
	}
	return out
}

// KeyPoint locates a local feature in its image.
type KeyPoint struct {
	X, Y        float32
	Orientation float32
	Scale       float32
}

// ORB is a 256 bit binary descriptor with an optional key point.
type ORB struct {
	KeyPoint *KeyPoint
	Data     [4]uint64
}

// Distance returns the Hamming distance between two descriptors.
func (o ORB) Distance(other ORB) int {
	return distance.Hamming64(o.Data[:], other.Data[:])
}

// ORBGroup holds the ORB features extracted from one image.
type ORBGroup []ORB

// Kind implements Feature.
func (ORBGroup) Kind() Kind { return KindORB }

// Collector is the record kind stored by feature archives.
type Collector struct {
	id       record.ID
	Features []Feature
}

var (
	_ record.Grouped          = (*Collector)(nil)
	_ record.Selector         = (*Collector)(nil)
	_ record.KeyPointStripper = (*Collector)(nil)
)

// New returns a collector holding the given features.
func New(id record.ID, features ...Feature) *Collector {
	return &Collector{id: id, Features: features}
}

// ID implements record.Record.
func (c *Collector) ID() record.ID { return c.id }

// Feature returns the first feature of the given kind, or nil.
func (c *Collector) Feature(kind Kind) Feature {
	for _, f := range c.Features {
		if f.Kind() == kind {
			return f
		}
	}
	return nil
}

// Vector returns the float vector of the given kind, or nil.
func (c *Collector) Vector(kind Kind) []float32 {
	switch f := c.Feature(kind).(type) {
	case Floats:
		return f
	case VLAD:
		return f
	}
	return nil
}

// ORB returns the ORB group, or nil.
func (c *Collector) ORB() ORBGroup {
	g, _ := c.Feature(KindORB).(ORBGroup)
	return g
}

// GroupLen implements record.Grouped.
func (c *Collector) GroupLen(kind record.GroupKind) int {
	if Kind(kind) != KindORB {
		return 0
	}
	return len(c.ORB())
}

// Project implements record.Grouped.
func (c *Collector) Project(kind record.GroupKind, keep []int) record.Record {
	if Kind(kind) != KindORB {
		return New(c.id)
	}
	g := c.ORB()
	sel := make(ORBGroup, 0, len(keep))
	for _, i := range keep {
		if i >= 0 && i < len(g) {
			sel = append(sel, g[i])
		}
	}
	return New(c.id, sel)
}

// Select implements record.Selector.
func (c *Collector) Select(kind record.FeatureKind) (record.Record, bool) {
	f := c.Feature(Kind(kind))
	if f == nil {
		return nil, false
	}
	return New(c.id, f), true
}

// WithoutKeyPoints implements record.KeyPointStripper.
func (c *Collector) WithoutKeyPoints() record.Record {
	out := &Collector{id: c.id, Features: make([]Feature, len(c.Features))}
	for i, f := range c.Features {
		g, ok := f.(ORBGroup)
		if !ok {
			out.Features[i] = f
			continue
		}
		stripped := make(ORBGroup, len(g))
		for j, o := range g {
			stripped[j] = ORB{Data: o.Data}
		}
		out.Features[i] = stripped
	}
	return out
}

// Equal reports whether two collectors hold the same identifier and features.
func (c *Collector) Equal(other *Collector) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.id != other.id || len(c.Features) != len(other.Features) {
		return false
	}
	for i, f := range c.Features {
		if !featureEqual(f, other.Features[i]) {
			return false
		}
	}
	return true
}

func featureEqual(a, b Feature) bool {
	switch x := a.(type) {
	case Floats:
		y, ok := b.(Floats)
		return ok && slices.Equal(x, y)
	case VLAD:
		y, ok := b.(VLAD)
		return ok && slices.Equal(x, y)
	case ORBGroup:
		y, ok := b.(ORBGroup)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i].Data != y[i].Data {
				return false
			}
			kx, ky := x[i].KeyPoint, y[i].KeyPoint
			if (kx == nil) != (ky == nil) || (kx != nil && *kx != *ky) {
				return false
			}
		}
		return true
	}
	return false
}
