// Package distance provides the vector kernels used by the similarity
// functions.
//
// # Supported Metrics
//
//   - MetricL2: Euclidean distance
//   - MetricCosine: cosine distance (1 - cosine similarity)
//   - MetricDot: inner product mapped onto a non-negative, decreasing scale
//   - MetricHamming: bit distance between packed binary descriptors
//
// # Usage
//
//	d := distance.SquaredL2(a, b)
//	d, ok := distance.SquaredL2Bounded(a, b, limit) // ok is false once d > limit
//	h := distance.Hamming64(x, y)
package distance
