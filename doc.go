// Package fcarchive provides a persistent, append-only archive of feature
// records with parallel similarity search.
//
// An archive is one container file holding a small header followed by
// serialized records, plus two sibling index files: the offset index
// (<path>.off) mapping positions to byte offsets, and the optional
// identifier index (<path>.id) mapping identifiers to positions. Index files
// older than the container are rebuilt by a sequential scan on Open.
//
// # Quick Start
//
//	a, err := fcarchive.Create("faces.fca", feature.CollectorType, record.IDTypeString)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	err = a.Add(feature.New(record.StringID("img-001"), feature.Floats(hist), orbs))
//
//	rec, ok, err := a.GetByID(record.StringID("img-001"))
//
// # Search
//
// Search reads the archive once in batches and evaluates every query against
// every record, sharding the queries of each batch across workers granted by
// a resource.Controller:
//
//	results, err := a.KNN(ctx, queries, 10, similarity.L2(feature.KindFloats))
//
// Each query owns a bounded result queue (k-nearest, range or full order).
// Results do not depend on the batch size or the number of workers.
// SearchMulti evaluates several similarities in the same pass.
//
// # Maintenance
//
// Shuffle rewrites an archive in random order, SampleRecords and
// SampleGroupItems draw independent samples of records or of their local
// features, and WriteInterDistances exports the full distance matrix.
//
// # Publishing
//
// Publish uploads an archive to a blobstore.Store (local directory, S3 or
// MinIO) as compressed bundles plus a manifest; Fetch restores it.
//
// # Observability
//
// Logging uses log/slog through Logger, and MetricsCollector receives
// counters for appends, reads, rebuilds and searches.
package fcarchive
