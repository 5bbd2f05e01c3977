package fcarchive

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fcarchive/feature"
	"github.com/hupe1980/fcarchive/record"
)

func vec(id string, v ...float32) *feature.Collector {
	return feature.New(record.StringID(id), feature.Floats(v))
}

func orbRecord(id string, n int, rng *rand.Rand) *feature.Collector {
	g := make(feature.ORBGroup, n)
	for i := range g {
		g[i] = feature.ORB{
			KeyPoint: &feature.KeyPoint{X: float32(i), Y: float32(2 * i), Scale: 1},
			Data:     [4]uint64{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()},
		}
	}
	return feature.New(record.StringID(id), g)
}

func newTestArchive(t *testing.T, idType record.IDType, optFns ...Option) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.fca")
	a, err := Create(path, feature.CollectorType, idType, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// randomArchive fills an archive with n random 8-dimensional vectors.
func randomArchive(t *testing.T, n int, seed uint64, optFns ...Option) *Archive {
	t.Helper()
	a := newTestArchive(t, record.IDTypeString, optFns...)
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := range n {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()
		}
		require.NoError(t, a.Add(vec(fmt.Sprintf("r%04d", i), v...)))
	}
	return a
}

func randomQueries(n int, seed uint64) []record.Record {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]record.Record, n)
	for i := range out {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()
		}
		out[i] = vec(fmt.Sprintf("q%d", i), v...)
	}
	return out
}

func collector(t *testing.T, rec record.Record) *feature.Collector {
	t.Helper()
	fc, ok := rec.(*feature.Collector)
	require.True(t, ok, "unexpected record type %T", rec)
	return fc
}

type foreignRecord struct{}

func (foreignRecord) ID() record.ID { return record.StringID("foreign") }
