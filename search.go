package fcarchive

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fcarchive/queue"
	"github.com/hupe1980/fcarchive/record"
	"github.com/hupe1980/fcarchive/similarity"
)

// Hit is a search candidate.
type Hit struct {
	Position int
	ID       record.ID
	// Record is nil when the search ran WithOnlyID.
	Record record.Record
}

// Queue collects the best hits of one query.
type Queue = queue.Bounded[Hit]

// Result is a hit with its distance to the query.
type Result = queue.Item[Hit]

// Search compares every query with every archive record and offers each
// non-negative distance to the query's queue. queues[i] belongs to
// queries[i]; a queue must not be shared between queries.
//
// The archive is read once, in batches. Each batch is split across the
// workers granted by the resource controller, one contiguous range of queries
// per worker. Results do not depend on batch size or worker count.
func (a *Archive) Search(ctx context.Context, queries []record.Record, queues []*Queue, sim similarity.Similarity, optFns ...SearchOption) error {
	if len(queries) != len(queues) {
		return fmt.Errorf("%w: %d queries but %d queues", ErrInvalidArgument, len(queries), len(queues))
	}
	if sim == nil {
		return fmt.Errorf("%w: nil similarity", ErrInvalidArgument)
	}
	if err := checkQueues(queues); err != nil {
		return err
	}
	o := applySearchOptions(optFns)
	bounded, _ := sim.(similarity.Bounded)

	return a.runSearch(ctx, len(queries), o, func(batch []Hit, lo, hi int) {
		for qi := lo; qi < hi; qi++ {
			q, qq := queries[qi], queues[qi]
			for _, h := range batch {
				if d := evaluate(sim, bounded, q, h.Record, qq.WorstDistance()); d >= 0 {
					qq.Offer(o.hit(h), d)
				}
			}
		}
	})
}

// SearchMulti is Search for several similarities at once. queues is indexed
// by similarity, then by query. Each batch is read once and every similarity
// is evaluated on each (query, record) pair.
func (a *Archive) SearchMulti(ctx context.Context, queries []record.Record, queues [][]*Queue, sims []similarity.Similarity, optFns ...SearchOption) error {
	if len(queues) != len(sims) {
		return fmt.Errorf("%w: %d similarities but %d queue sets", ErrInvalidArgument, len(sims), len(queues))
	}
	for m, qs := range queues {
		if len(qs) != len(queries) {
			return fmt.Errorf("%w: queue set %d has %d queues for %d queries", ErrInvalidArgument, m, len(qs), len(queries))
		}
		if sims[m] == nil {
			return fmt.Errorf("%w: nil similarity %d", ErrInvalidArgument, m)
		}
		if err := checkQueues(qs); err != nil {
			return err
		}
	}
	o := applySearchOptions(optFns)
	bounded := make([]similarity.Bounded, len(sims))
	for m, sim := range sims {
		bounded[m], _ = sim.(similarity.Bounded)
	}

	return a.runSearch(ctx, len(queries), o, func(batch []Hit, lo, hi int) {
		for qi := lo; qi < hi; qi++ {
			q := queries[qi]
			for _, h := range batch {
				for m, sim := range sims {
					qq := queues[m][qi]
					if d := evaluate(sim, bounded[m], q, h.Record, qq.WorstDistance()); d >= 0 {
						qq.Offer(o.hit(h), d)
					}
				}
			}
		}
	})
}

// checkQueues rejects queues that could never keep a result.
func checkQueues(queues []*Queue) error {
	for i, q := range queues {
		switch {
		case q == nil:
			return fmt.Errorf("%w: queue %d is nil", ErrInvalidArgument, i)
		case q.Kind() == queue.KNN && q.K() <= 0:
			return fmt.Errorf("%w: queue %d: k must be positive, got %d", ErrInvalidArgument, i, q.K())
		case q.Kind() == queue.Range && !(q.Radius() >= 0):
			return fmt.Errorf("%w: queue %d: radius must be non-negative, got %v", ErrInvalidArgument, i, q.Radius())
		}
	}
	return nil
}

// KNN returns the k nearest records of each query.
func (a *Archive) KNN(ctx context.Context, queries []record.Record, k int, sim similarity.Similarity, optFns ...SearchOption) ([][]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	return a.collect(ctx, queries, func() *Queue { return queue.NewKNN[Hit](k) }, sim, optFns)
}

// Range returns, for each query, every record within distance r.
func (a *Archive) Range(ctx context.Context, queries []record.Record, r float64, sim similarity.Similarity, optFns ...SearchOption) ([][]Result, error) {
	if r < 0 || math.IsNaN(r) {
		return nil, fmt.Errorf("%w: radius must be non-negative, got %v", ErrInvalidArgument, r)
	}
	return a.collect(ctx, queries, func() *Queue { return queue.NewRange[Hit](r) }, sim, optFns)
}

// Ordered returns every comparable record for each query, nearest first.
func (a *Archive) Ordered(ctx context.Context, queries []record.Record, sim similarity.Similarity, optFns ...SearchOption) ([][]Result, error) {
	return a.collect(ctx, queries, queue.NewOrdered[Hit], sim, optFns)
}

func (a *Archive) collect(ctx context.Context, queries []record.Record, newQueue func() *Queue, sim similarity.Similarity, optFns []SearchOption) ([][]Result, error) {
	queues := make([]*Queue, len(queries))
	for i := range queues {
		queues[i] = newQueue()
	}
	if err := a.Search(ctx, queries, queues, sim, optFns...); err != nil {
		return nil, err
	}
	out := make([][]Result, len(queues))
	for i, q := range queues {
		out[i] = q.Results()
	}
	return out, nil
}

// evaluate passes the worst kept distance to bounded similarities while it
// can prune anything.
func evaluate(sim similarity.Similarity, bounded similarity.Bounded, q, o record.Record, worst float64) float64 {
	if bounded != nil && !math.IsInf(worst, 1) {
		return bounded.DistanceBounded(q, o, worst)
	}
	return sim.Distance(q, o)
}

func (o searchOptions) hit(h Hit) Hit {
	if o.onlyID {
		h.Record = nil
	}
	return h
}

// batchWork processes queries [lo, hi) against one batch.
type batchWork func(batch []Hit, lo, hi int)

func (a *Archive) runSearch(ctx context.Context, nq int, o searchOptions, work batchWork) error {
	start := time.Now()
	scanned, err := a.scanBatches(ctx, nq, o, "search", work)
	a.metrics.RecordSearch(nq, scanned, time.Since(start), err)
	a.logger.LogSearch(ctx, nq, scanned, time.Since(start), err)
	return err
}

// scanBatches feeds the archive (or the filtered positions) to work in
// batches of o.batchSize records and returns the number of records visited.
func (a *Archive) scanBatches(ctx context.Context, nq int, o searchOptions, op string, work batchWork) (int, error) {
	batch := make([]Hit, 0, min(o.batchSize, max(a.Size(), 1)))
	var batchBytes int64
	scanned := 0
	prog := newProgress(a.logger, op, a.Size())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := a.runBatch(ctx, batch, batchBytes, nq, work)
		scanned += len(batch)
		batch = batch[:0]
		batchBytes = 0
		prog.tick(ctx, scanned)
		return err
	}

	for e, err := range a.entries(ctx, o.filter) {
		if err != nil {
			return scanned, err
		}
		batch = append(batch, Hit{Position: e.Position, ID: e.Record.ID(), Record: e.Record})
		batchBytes += int64(e.Size)
		if len(batch) == o.batchSize {
			if err := flush(); err != nil {
				return scanned, err
			}
		}
	}
	return scanned, flush()
}

// entries yields the records selected by filter, or all of them. Sparse
// filters are served by random access instead of a full scan.
func (a *Archive) entries(ctx context.Context, filter *roaring.Bitmap) iter.Seq2[Entry, error] {
	if filter == nil {
		return a.Iterate(ctx)
	}
	size := a.Size()
	if filter.GetCardinality()*sparseFilterRatio >= uint64(size) {
		return func(yield func(Entry, error) bool) {
			for e, err := range a.Iterate(ctx) {
				if err == nil && !filter.Contains(uint32(e.Position)) {
					continue
				}
				if !yield(e, err) || err != nil {
					return
				}
			}
		}
	}
	return func(yield func(Entry, error) bool) {
		it := filter.Iterator()
		for it.HasNext() {
			pos := int(it.Next())
			if pos >= size {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			data, err := a.ReadRaw(pos)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			rec, err := a.codec.Decode(data)
			if err != nil {
				yield(Entry{}, fmt.Errorf("%w: record %d: %w", ErrFormat, pos, err))
				return
			}
			if !yield(Entry{Position: pos, Record: rec, Size: len(data)}, nil) {
				return
			}
		}
	}
}

// sparseFilterRatio selects random access when fewer than one record in
// sparseFilterRatio passes the filter.
const sparseFilterRatio = 64

// runBatch splits n units of work (queries or matrix rows) into contiguous
// shards, one per worker granted by the resource controller plus the
// caller's own, and waits for all of them. Batch memory and workers are
// released when the batch completes.
func (a *Archive) runBatch(ctx context.Context, batch []Hit, batchBytes int64, n int, work batchWork) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.rc.AcquireMemory(ctx, batchBytes); err != nil {
		return err
	}
	defer a.rc.ReleaseMemory(batchBytes)

	reserved := a.rc.ReserveWorkers(n - 1)
	defer a.rc.ReleaseWorkers(reserved)

	shards := reserved + 1
	per := (n + shards - 1) / shards
	errs := make([]error, shards)

	var g errgroup.Group
	for s := range shards {
		lo, hi := s*per, min((s+1)*per, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			errs[s] = runShard(batch, lo, hi, work)
			return errs[s]
		})
	}
	if g.Wait() != nil {
		return errors.Join(errs...)
	}
	return nil
}

func runShard(batch []Hit, lo, hi int, work batchWork) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: range [%d, %d): %v", ErrWorkerFailed, lo, hi, r)
		}
	}()
	work(batch, lo, hi)
	return nil
}
