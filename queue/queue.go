// Package queue provides the per-query result queues filled by archive
// searches.
//
// A Bounded queue collects (value, distance) candidates for one query in one
// of three shapes:
//
//   - KNN keeps the k closest candidates
//   - Range keeps every candidate within a fixed radius
//   - Ordered keeps everything
//
// Equal distances are ordered by insertion. Queues are not safe for
// concurrent use; a search hands each queue to exactly one worker at a time.
package queue

import (
	"fmt"
	"math"
	"sort"
)

// Kind is the shape of a Bounded queue.
type Kind int

const (
	// KNN keeps the k closest candidates.
	KNN Kind = iota
	// Range keeps candidates with distance <= radius.
	Range
	// Ordered keeps every candidate.
	Ordered
)

func (k Kind) String() string {
	switch k {
	case KNN:
		return "knn"
	case Range:
		return "range"
	case Ordered:
		return "ordered"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Item is one result.
type Item[T any] struct {
	Value    T
	Distance float64
}

type entry[T any] struct {
	value    T
	distance float64
	seq      uint64
}

// Bounded is a result queue for a single query.
type Bounded[T any] struct {
	kind   Kind
	k      int
	radius float64
	// items is a max-heap on (distance, seq) for KNN queues and an
	// insertion-ordered slice otherwise.
	items []entry[T]
	seq   uint64
}

// NewKNN returns a queue keeping the k closest candidates. A queue with
// k <= 0 accepts nothing.
func NewKNN[T any](k int) *Bounded[T] {
	return &Bounded[T]{kind: KNN, k: k, items: make([]entry[T], 0, max(k, 0))}
}

// NewRange returns a queue keeping every candidate within radius.
func NewRange[T any](radius float64) *Bounded[T] {
	return &Bounded[T]{kind: Range, radius: radius}
}

// NewOrdered returns a queue keeping every candidate.
func NewOrdered[T any]() *Bounded[T] {
	return &Bounded[T]{kind: Ordered}
}

// Kind returns the queue shape.
func (q *Bounded[T]) Kind() Kind { return q.kind }

// K returns the capacity of a KNN queue.
func (q *Bounded[T]) K() int { return q.k }

// Radius returns the radius of a Range queue.
func (q *Bounded[T]) Radius() float64 { return q.radius }

// Len returns the number of kept candidates.
func (q *Bounded[T]) Len() int { return len(q.items) }

// WorstDistance returns the pruning threshold: a candidate farther than this
// can never be kept. It is +Inf for a KNN queue under capacity and for
// Ordered queues, and the radius for Range queues.
func (q *Bounded[T]) WorstDistance() float64 {
	switch q.kind {
	case KNN:
		if q.k <= 0 {
			return math.Inf(-1)
		}
		if len(q.items) < q.k {
			return math.Inf(1)
		}
		return q.items[0].distance
	case Range:
		return q.radius
	default:
		return math.Inf(1)
	}
}

// Offer submits a candidate and reports whether it was kept. NaN distances
// are rejected.
func (q *Bounded[T]) Offer(v T, d float64) bool {
	if math.IsNaN(d) {
		return false
	}
	switch q.kind {
	case KNN:
		return q.offerKNN(v, d)
	case Range:
		if d > q.radius {
			return false
		}
	}
	q.items = append(q.items, entry[T]{value: v, distance: d, seq: q.seq})
	q.seq++
	return true
}

func (q *Bounded[T]) offerKNN(v T, d float64) bool {
	if q.k <= 0 {
		return false
	}
	e := entry[T]{value: v, distance: d, seq: q.seq}
	if len(q.items) < q.k {
		q.seq++
		q.items = append(q.items, e)
		q.siftUp(len(q.items) - 1)
		return true
	}
	if d >= q.items[0].distance {
		return false
	}
	q.seq++
	q.items[0] = e
	q.siftDown(0)
	return true
}

// Results returns the kept candidates sorted by ascending distance, equal
// distances in insertion order. The queue is left unchanged.
func (q *Bounded[T]) Results() []Item[T] {
	sorted := make([]entry[T], len(q.items))
	copy(sorted, q.items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].distance != sorted[j].distance {
			return sorted[i].distance < sorted[j].distance
		}
		return sorted[i].seq < sorted[j].seq
	})

	out := make([]Item[T], len(sorted))
	for i, e := range sorted {
		out[i] = Item[T]{Value: e.value, Distance: e.distance}
	}
	return out
}

// Reset empties the queue, keeping its shape.
func (q *Bounded[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.seq = 0
}

// less orders the KNN heap: the worst (farthest, then latest) entry on top.
func (q *Bounded[T]) less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.distance != b.distance {
		return a.distance > b.distance
	}
	return a.seq > b.seq
}

func (q *Bounded[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *Bounded[T]) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}
