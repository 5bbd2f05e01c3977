package fcarchive

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fcarchive/record"
)

// Shuffle writes every record of a to a new archive at dstPath in a uniformly
// random order and returns the new archive, still open. Records are copied
// one at a time as raw bytes. WithRand selects the random source.
//
// On failure the partially written archive is closed and left on disk.
func (a *Archive) Shuffle(ctx context.Context, dstPath string, optFns ...SampleOption) (*Archive, error) {
	o := applySampleOptions(optFns)

	dst, err := a.SameType(dstPath)
	if err != nil {
		return nil, err
	}

	n := a.Size()
	perm := o.rng.Perm(n)
	prog := newProgress(a.logger, "shuffle", n)
	for i, pos := range perm {
		if err := ctx.Err(); err != nil {
			_ = dst.Close()
			return nil, err
		}
		if err := a.copyRecord(dst, pos); err != nil {
			_ = dst.Close()
			return nil, err
		}
		prog.tick(ctx, i+1)
	}

	a.logger.InfoContext(ctx, "archive shuffled", "records", n, "dst", dstPath)
	return dst, nil
}

func (a *Archive) copyRecord(dst *Archive, pos int) error {
	data, err := a.ReadRaw(pos)
	if err != nil {
		return err
	}
	var id record.ID
	if a.hdr.idType != record.IDTypeNone {
		if a.ids != nil {
			id = a.ids.At(pos)
		} else if id, err = a.codec.ScanID(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: record %d: %w", ErrFormat, pos, err)
		}
	}
	return dst.AppendRaw(data, id)
}

// Sample is the outcome of a sampling pass.
type Sample struct {
	// Positions holds the archive positions of the records that contributed
	// to the sample.
	Positions *roaring.Bitmap
	// Records holds the sampled records in position order. Group sampling
	// projects each record onto its kept items. Records is nil when the
	// sample was written to an archive with SampleTo.
	Records []record.Record
	// Items is the number of kept group items, or of kept records.
	Items int
	// Probability is the keep probability that was applied.
	Probability float64
	// Missing counts the drawn records that lacked the selected feature.
	// Only SampleFeatures sets it.
	Missing int
}

func (s *Sample) add(pos int, rec record.Record, items int, keep bool) {
	s.Positions.Add(uint32(pos))
	s.Items += items
	if keep {
		s.Records = append(s.Records, rec)
	}
}

// emit applies the output options to a kept record and adds it to s.
func (o sampleOptions) emit(s *Sample, pos int, rec record.Record, items int) error {
	if o.withoutKeyPoints {
		if ks, ok := rec.(record.KeyPointStripper); ok {
			rec = ks.WithoutKeyPoints()
		}
	}
	if o.dst != nil {
		if err := o.dst.Add(rec); err != nil {
			return err
		}
	}
	s.add(pos, rec, items, o.dst == nil)
	return nil
}

func checkProbability(p float64) error {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return fmt.Errorf("%w: probability must be in [0, 1], got %v", ErrInvalidArgument, p)
	}
	return nil
}

func grouped(rec record.Record, pos int) (record.Grouped, error) {
	g, ok := rec.(record.Grouped)
	if !ok {
		return nil, fmt.Errorf("%w: record %d (%T) has no local feature groups", ErrClassMismatch, pos, rec)
	}
	return g, nil
}

// CountGroupItems returns the total number of local features of the given
// group kind across all records.
func (a *Archive) CountGroupItems(ctx context.Context, kind record.GroupKind) (int, error) {
	total := 0
	prog := newProgress(a.logger, "count", a.Size())
	for e, err := range a.Iterate(ctx) {
		if err != nil {
			return 0, err
		}
		g, err := grouped(e.Record, e.Position)
		if err != nil {
			return 0, err
		}
		total += g.GroupLen(kind)
		prog.tick(ctx, e.Position+1)
	}
	a.logger.InfoContext(ctx, "group items counted", "kind", kind, "items", total)
	return total, nil
}

// SampleGroupItems keeps every local feature of the given group kind
// independently with probability p. Records with kept items are projected
// onto them and, with SampleTo, appended to the side archive.
func (a *Archive) SampleGroupItems(ctx context.Context, kind record.GroupKind, p float64, optFns ...SampleOption) (*Sample, error) {
	if err := checkProbability(p); err != nil {
		return nil, err
	}
	o := applySampleOptions(optFns)
	s := &Sample{Positions: roaring.New(), Probability: p}
	prog := newProgress(a.logger, "sample", a.Size())

	for e, err := range a.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		g, err := grouped(e.Record, e.Position)
		if err != nil {
			return nil, err
		}

		var keep []int
		for i := range g.GroupLen(kind) {
			if o.rng.Float64() < p {
				keep = append(keep, i)
			}
		}
		if len(keep) == 0 {
			continue
		}

		if err := o.emit(s, e.Position, g.Project(kind, keep), len(keep)); err != nil {
			return nil, err
		}
		prog.tick(ctx, e.Position+1)
	}

	a.logger.InfoContext(ctx, "group items sampled", "kind", kind, "probability", p, "items", s.Items)
	return s, nil
}

// SampleGroupItemsMax samples roughly max local features of the given group
// kind. A first pass counts the population and derives p = min(1, max/count);
// the second pass is SampleGroupItems with that p. A negative max keeps
// everything.
func (a *Archive) SampleGroupItemsMax(ctx context.Context, kind record.GroupKind, max int, optFns ...SampleOption) (*Sample, error) {
	p := 1.0
	if max >= 0 {
		total, err := a.CountGroupItems(ctx, kind)
		if err != nil {
			return nil, err
		}
		p = keepProbability(max, total)
	}
	return a.SampleGroupItems(ctx, kind, p, optFns...)
}

// SampleRecords keeps every record independently with probability p.
func (a *Archive) SampleRecords(ctx context.Context, p float64, optFns ...SampleOption) (*Sample, error) {
	if err := checkProbability(p); err != nil {
		return nil, err
	}
	o := applySampleOptions(optFns)
	s := &Sample{Positions: roaring.New(), Probability: p}
	prog := newProgress(a.logger, "sample", a.Size())

	for e, err := range a.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		if o.rng.Float64() >= p {
			continue
		}
		if err := o.emit(s, e.Position, e.Record, 1); err != nil {
			return nil, err
		}
		prog.tick(ctx, e.Position+1)
	}

	a.logger.InfoContext(ctx, "records sampled", "probability", p, "records", s.Items)
	return s, nil
}

// SampleRecordsMax samples roughly max records with p = min(1, max/size).
// A negative max keeps everything.
func (a *Archive) SampleRecordsMax(ctx context.Context, max int, optFns ...SampleOption) (*Sample, error) {
	p := 1.0
	if max >= 0 {
		p = keepProbability(max, a.Size())
	}
	return a.SampleRecords(ctx, p, optFns...)
}

// SampleFeatures keeps one global feature of every record independently
// with probability p. A kept record is reduced to the feature of the given
// kind. The draw is made for every record, so with the same random source
// the drawn positions match SampleRecords; drawn records without the feature
// are skipped and counted in Sample.Missing.
func (a *Archive) SampleFeatures(ctx context.Context, kind record.FeatureKind, p float64, optFns ...SampleOption) (*Sample, error) {
	if err := checkProbability(p); err != nil {
		return nil, err
	}
	o := applySampleOptions(optFns)
	s := &Sample{Positions: roaring.New(), Probability: p}
	prog := newProgress(a.logger, "sample", a.Size())

	for e, err := range a.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		sel, ok := e.Record.(record.Selector)
		if !ok {
			return nil, fmt.Errorf("%w: record %d (%T) has no selectable features", ErrClassMismatch, e.Position, e.Record)
		}
		if o.rng.Float64() >= p {
			continue
		}
		rec, ok := sel.Select(kind)
		if !ok {
			s.Missing++
			a.logger.DebugContext(ctx, "record lacks sampled feature", "position", e.Position, "id", e.Record.ID(), "kind", kind)
			continue
		}
		if err := o.emit(s, e.Position, rec, 1); err != nil {
			return nil, err
		}
		prog.tick(ctx, e.Position+1)
	}

	a.logger.InfoContext(ctx, "features sampled", "kind", kind, "probability", p, "items", s.Items, "missing", s.Missing)
	return s, nil
}

// SampleFeaturesMax samples roughly max features of the given kind with
// p = min(1, max/size). A negative max keeps everything.
func (a *Archive) SampleFeaturesMax(ctx context.Context, kind record.FeatureKind, max int, optFns ...SampleOption) (*Sample, error) {
	p := 1.0
	if max >= 0 {
		p = keepProbability(max, a.Size())
	}
	return a.SampleFeatures(ctx, kind, p, optFns...)
}

func keepProbability(max, population int) float64 {
	if population <= 0 {
		return 1
	}
	return min(1, float64(max)/float64(population))
}
