package similarity

import (
	"math"
	"testing"

	"github.com/hupe1980/fcarchive/distance"
	"github.com/hupe1980/fcarchive/feature"
	"github.com/hupe1980/fcarchive/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(id string, v ...float32) *feature.Collector {
	return feature.New(record.StringID(id), feature.Floats(v))
}

func TestVector_Distance(t *testing.T) {
	l2 := L2(feature.KindFloats)

	assert.InDelta(t, 5.0, l2.Distance(vec("a", 0, 0), vec("b", 3, 4)), 1e-6)
	assert.InDelta(t, 0.0, l2.Distance(vec("a", 1, 2), vec("b", 1, 2)), 1e-6)

	// Missing feature or length mismatch is skipped.
	assert.Equal(t, Skip, l2.Distance(vec("a", 1), vec("b", 1, 2)))
	assert.Equal(t, Skip, L2(feature.KindVLAD).Distance(vec("a", 1), vec("b", 1)))

	cos := Cosine(feature.KindFloats)
	assert.InDelta(t, 1.0, cos.Distance(vec("a", 1, 0), vec("b", 0, 1)), 1e-6)

	// A positive inner product must not look incomparable.
	dot := Dot(feature.KindFloats)
	q := vec("q", 1, 1)
	near, far := dot.Distance(q, vec("a", 2, 2)), dot.Distance(q, vec("b", 1, 0))
	assert.GreaterOrEqual(t, near, 0.0)
	assert.Less(t, near, far)
	assert.Equal(t, near, dot.DistanceBounded(q, vec("a", 2, 2), 0.1))
}

func TestVector_DistanceBounded(t *testing.T) {
	l2 := L2(feature.KindFloats)
	a := vec("a", make([]float32, 32)...)
	far := make([]float32, 32)
	for i := range far {
		far[i] = 1
	}
	b := vec("b", far...)

	assert.InDelta(t, math.Sqrt(32), l2.DistanceBounded(a, b, math.Inf(1)), 1e-6)
	assert.InDelta(t, math.Sqrt(32), l2.DistanceBounded(a, b, 10), 1e-6)
	assert.Less(t, l2.DistanceBounded(a, b, 2), 0.0)

	// Unpruned bounded results match the plain distance exactly.
	assert.Equal(t, l2.Distance(a, b), l2.DistanceBounded(a, b, 10))
	assert.Equal(t, l2.Distance(a, b), l2.DistanceBounded(a, b, l2.Distance(a, b)))
}

func TestORBMatch(t *testing.T) {
	g1 := feature.ORBGroup{{Data: [4]uint64{0, 0, 0, 0}}, {Data: [4]uint64{1, 0, 0, 0}}}
	g2 := feature.ORBGroup{{Data: [4]uint64{0, 0, 0, 0}}}

	a := feature.New(record.StringID("a"), g1)
	b := feature.New(record.StringID("b"), g2)

	var m ORBMatch
	assert.InDelta(t, 0.0, m.Distance(a, a), 1e-9)
	// a->b: best matches 0 and 1, mean 0.5. b->a: 0. Mean 0.25 bits over 256.
	assert.InDelta(t, 0.25/256, m.Distance(a, b), 1e-9)
	assert.InDelta(t, m.Distance(a, b), m.Distance(b, a), 1e-12)
	assert.Equal(t, Skip, m.Distance(a, vec("c", 1)))
}

func TestParse(t *testing.T) {
	s, err := Parse("l2:floats")
	require.NoError(t, err)
	assert.Equal(t, Vector{Kind: feature.KindFloats, Metric: distance.MetricL2}, s)

	s, err = Parse("Cosine:vlad")
	require.NoError(t, err)
	assert.Equal(t, "cosine:vlad", s.(Vector).String())

	s, err = Parse("dot:floats")
	require.NoError(t, err)
	assert.Equal(t, Dot(feature.KindFloats), s)

	s, err = Parse("orb")
	require.NoError(t, err)
	assert.Equal(t, ORBMatch{}, s)

	for _, bad := range []string{"l2", "hamming:floats", "l2:orb", "l2:sift", "foo:floats"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestFunc(t *testing.T) {
	f := Func(func(a, b record.Record) float64 { return 7 })
	assert.Equal(t, 7.0, f.Distance(nil, nil))
}
