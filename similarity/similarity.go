// Package similarity provides the distance functions evaluated by archive
// searches.
//
// A Similarity returns a non-negative distance for comparable records and a
// negative value when the pair cannot be compared (for example when a record
// lacks the required feature). Negative results are never offered to result
// queues. A Bounded similarity additionally accepts the worst distance still
// kept by the query and may return a negative value as soon as it knows the
// candidate cannot beat it.
package similarity

import (
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/fcarchive/distance"
	"github.com/hupe1980/fcarchive/feature"
	"github.com/hupe1980/fcarchive/record"
)

// Skip is returned for pairs that must not be offered to a result queue.
const Skip = -1.0

// Similarity computes the distance between two records.
type Similarity interface {
	Distance(a, b record.Record) float64
}

// Bounded is a Similarity with early termination.
type Bounded interface {
	Similarity
	// DistanceBounded returns the distance, or a negative value once it is
	// known to exceed limit.
	DistanceBounded(a, b record.Record, limit float64) float64
}

// Func adapts a plain function to Similarity.
type Func func(a, b record.Record) float64

// Distance implements Similarity.
func (f Func) Distance(a, b record.Record) float64 { return f(a, b) }

// Vector compares one global vector feature of two collectors.
type Vector struct {
	Kind   feature.Kind
	Metric distance.Metric
}

var _ Bounded = Vector{}

// L2 returns the Euclidean similarity over the given vector kind.
func L2(kind feature.Kind) Vector { return Vector{Kind: kind, Metric: distance.MetricL2} }

// Cosine returns the cosine similarity over the given vector kind.
func Cosine(kind feature.Kind) Vector { return Vector{Kind: kind, Metric: distance.MetricCosine} }

// Dot returns the inner product similarity over the given vector kind, on the
// scale of distance.DotDistance.
func Dot(kind feature.Kind) Vector { return Vector{Kind: kind, Metric: distance.MetricDot} }

func (v Vector) vectors(a, b record.Record) ([]float32, []float32, bool) {
	fa, ok := a.(*feature.Collector)
	if !ok {
		return nil, nil, false
	}
	fb, ok := b.(*feature.Collector)
	if !ok {
		return nil, nil, false
	}
	va, vb := fa.Vector(v.Kind), fb.Vector(v.Kind)
	if va == nil || vb == nil || len(va) != len(vb) {
		return nil, nil, false
	}
	return va, vb, true
}

// Distance implements Similarity.
func (v Vector) Distance(a, b record.Record) float64 {
	va, vb, ok := v.vectors(a, b)
	if !ok {
		return Skip
	}
	fn, err := distance.Provider(v.Metric)
	if err != nil {
		return Skip
	}
	return float64(fn(va, vb))
}

// DistanceBounded implements Bounded. Only the Euclidean metric terminates
// early; other metrics compute the full distance.
func (v Vector) DistanceBounded(a, b record.Record, limit float64) float64 {
	if v.Metric != distance.MetricL2 || math.IsInf(limit, 1) {
		return v.Distance(a, b)
	}
	va, vb, ok := v.vectors(a, b)
	if !ok {
		return Skip
	}
	// The slack keeps pruning conservative: a pruned pair always has a
	// rounded distance strictly above limit.
	sq, ok := distance.SquaredL2Bounded(va, vb, float32(limit*limit*(1+boundSlack)))
	if !ok {
		return Skip
	}
	return float64(float32(math.Sqrt(float64(sq))))
}

const boundSlack = 1e-5

func (v Vector) String() string {
	return strings.ToLower(v.Metric.String()) + ":" + v.Kind.String()
}

// ORBMatch compares the ORB groups of two collectors. The distance is the
// mean, over both directions, of each descriptor's best Hamming match in the
// other group, normalized to [0, 1].
type ORBMatch struct{}

var _ Similarity = ORBMatch{}

const orbBits = 256

// Distance implements Similarity.
func (ORBMatch) Distance(a, b record.Record) float64 {
	fa, ok := a.(*feature.Collector)
	if !ok {
		return Skip
	}
	fb, ok := b.(*feature.Collector)
	if !ok {
		return Skip
	}
	ga, gb := fa.ORB(), fb.ORB()
	if len(ga) == 0 || len(gb) == 0 {
		return Skip
	}
	return (bestMatchMean(ga, gb) + bestMatchMean(gb, ga)) / 2 / orbBits
}

func bestMatchMean(from, to feature.ORBGroup) float64 {
	var total int
	for _, o := range from {
		best := orbBits
		for _, p := range to {
			if d := o.Distance(p); d < best {
				best = d
				if best == 0 {
					break
				}
			}
		}
		total += best
	}
	return float64(total) / float64(len(from))
}

func (ORBMatch) String() string { return "orb" }

// Parse builds a similarity from its textual form: "orb", or
// "<metric>:<kind>" such as "l2:floats" or "cosine:vlad".
func Parse(s string) (Similarity, error) {
	if strings.EqualFold(s, "orb") {
		return ORBMatch{}, nil
	}
	metric, kind, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("similarity: expected <metric>:<kind>, got %q", s)
	}
	m, err := distance.ParseMetric(metric)
	if err != nil {
		return nil, fmt.Errorf("similarity: %w", err)
	}
	if m == distance.MetricHamming {
		return nil, fmt.Errorf("similarity: hamming applies to orb groups, use \"orb\"")
	}
	k, err := feature.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("similarity: %w", err)
	}
	if k == feature.KindORB {
		return nil, fmt.Errorf("similarity: %s is not a vector kind", k)
	}
	return Vector{Kind: k, Metric: m}, nil
}
