package distance

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strings"
)

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// SquaredL2 returns the squared Euclidean distance of two equal-length
// vectors. It sums in the same order as SquaredL2Bounded, so both agree
// bit for bit when the bounded form runs to the end.
func SquaredL2(a, b []float32) float32 {
	sum, _ := SquaredL2Bounded(a, b, float32(math.Inf(1)))
	return sum
}

func squaredL2Block(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return s0 + s1 + s2 + s3
}

// boundedBlock is the number of dimensions summed between limit checks.
const boundedBlock = 16

// SquaredL2Bounded is SquaredL2 with early termination: it returns false as
// soon as the partial sum exceeds limit.
func SquaredL2Bounded(a, b []float32, limit float32) (float32, bool) {
	var sum float32
	n := len(a)
	for start := 0; start < n; start += boundedBlock {
		end := min(start+boundedBlock, n)
		sum += squaredL2Block(a[start:end], b[start:end])
		if sum > limit {
			return sum, false
		}
	}
	return sum, true
}

// Hamming64 returns the number of differing bits between two packed
// descriptors of equal length.
func Hamming64(a, b []uint64) int {
	var d int
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// NormalizeL2InPlace scales v to unit length. It reports false for a zero vector.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy is NormalizeL2InPlace on a copy of src.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric names a vector distance.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	case MetricHamming:
		return "Hamming"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// ParseMetric converts a metric name, case-insensitively.
func ParseMetric(s string) (Metric, error) {
	for _, m := range []Metric{MetricL2, MetricCosine, MetricDot, MetricHamming} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

// Func measures two float vectors; smaller is closer.
type Func func(a, b []float32) float32

// Provider returns the Func for m.
//
// MetricL2 yields the Euclidean distance, MetricCosine 1 - cos(a, b) and
// MetricDot DotDistance. All three are non-negative and smaller is closer.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return L2, nil
	case MetricCosine:
		return Cosine, nil
	case MetricDot:
		return DotDistance, nil
	default:
		return nil, fmt.Errorf("unsupported metric for float32: %v", m)
	}
}

// L2 returns the Euclidean distance.
func L2(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// Cosine returns 1 - cos(a, b). Zero vectors are at distance 1 from anything.
func Cosine(a, b []float32) float32 {
	na, nb := Dot(a, a), Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - Dot(a, b)/float32(math.Sqrt(float64(na)*float64(nb)))
}

// DotDistance maps the inner product x of a and b to 1/(1+x) when x >= 0
// and to 1-x below zero. The result is never negative and strictly
// decreases as x grows, so a larger inner product is always closer.
func DotDistance(a, b []float32) float32 {
	x := float64(Dot(a, b))
	if x >= 0 {
		return float32(1 / (1 + x))
	}
	return float32(1 - x)
}
