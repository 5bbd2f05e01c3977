package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fcarchive"
	"github.com/hupe1980/fcarchive/feature"
	"github.com/hupe1980/fcarchive/record"
)

// writeArchive creates an archive of n records, each holding a 4-dimensional
// vector and an ORB group of i%3 descriptors.
func writeArchive(t *testing.T, dir, name string, n int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	a, err := fcarchive.Create(path, feature.CollectorType, record.IDTypeString)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range n {
		orb := make(feature.ORBGroup, i%3)
		for j := range orb {
			orb[j] = feature.ORB{
				KeyPoint: &feature.KeyPoint{X: float32(j), Y: float32(j)},
				Data:     [4]uint64{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()},
			}
		}
		v := feature.Floats{float32(i), 0, 0, 0}
		require.NoError(t, a.Add(feature.New(record.StringID(fmt.Sprintf("%s-%02d", name, i)), v, orb)))
	}
	require.NoError(t, a.Close())
	return path
}

func TestCreateAndInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.fca")

	out, err := execute(t, "create", path, "--id-type", "int64")
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	out, err = execute(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "contains 0 records")
	assert.Contains(t, out, "identifier: int64")

	_, err = execute(t, "create", filepath.Join(t.TempDir(), "x.fca"), "--codec", "nope")
	assert.Error(t, err)
	_, err = execute(t, "create", filepath.Join(t.TempDir(), "y.fca"), "--id-type", "float")
	assert.Error(t, err)
}

func TestInfo_Rebuilt(t *testing.T) {
	path := writeArchive(t, t.TempDir(), "a", 5)
	require.NoError(t, os.Remove(path+fcarchive.OffsetsSuffix))

	out, err := execute(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, "contains 5 records")
	assert.Contains(t, out, "indexes were rebuilt")
}

func TestSearchCommand(t *testing.T) {
	dir := t.TempDir()
	db := writeArchive(t, dir, "db", 10)
	queries := writeArchive(t, dir, "q", 2)

	out, err := execute(t, "search", db, queries, "--k", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "l2:floats\tq-00\t1\tdb-00\t0\t0", lines[0])
	assert.Equal(t, "l2:floats\tq-00\t2\tdb-01\t1\t1", lines[1])
	assert.Equal(t, "l2:floats\tq-01\t1\tdb-01\t1\t0", lines[2])

	out, err = execute(t, "search", db, queries, "--radius", "1.5", "--similarity", "l2:floats,cosine:floats")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "l2:floats\tq-01\t"), "db-00, db-01 and db-02 are within the radius")
	assert.Contains(t, out, "\tdb-02\t2\t1\n")
	assert.Contains(t, out, "cosine:floats\tq-01\t")

	out, err = execute(t, "search", db, queries, "--all", "--only-id")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 20)

	_, err = execute(t, "search", db, queries, "--similarity", "manhattan:floats")
	assert.Error(t, err)

	out, err = execute(t, "search", db, queries, "--similarity", "dot:floats", "--k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "dot:floats\tq-01\t1\tdb-09\t9\t")
}

func TestSearchCommand_InvalidFlags(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.fca")
	for _, args := range [][]string{
		{"--k", "0"},
		{"--k", "-3"},
		{"--radius", "-1"},
	} {
		// Rejected before either archive is opened.
		_, err := execute(t, append([]string{"search", missing, missing}, args...)...)
		require.ErrorIs(t, err, fcarchive.ErrInvalidArgument, "%v", args)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	dir := t.TempDir()
	src := writeArchive(t, dir, "src", 30)

	out, err := execute(t, "count", src)
	require.NoError(t, err)
	assert.Equal(t, "30\n", out, "0+1+2 descriptors repeated ten times")

	shuffled := filepath.Join(dir, "shuffled.fca")
	out, err = execute(t, "shuffle", src, shuffled, "--seed", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "shuffled 30 records")

	out, err = execute(t, "info", shuffled)
	require.NoError(t, err)
	assert.Contains(t, out, "contains 30 records")

	all := filepath.Join(dir, "all.fca")
	out, err = execute(t, "sample", src, all, "--group", "orb", "--p", "1", "--without-keypoints")
	require.NoError(t, err)
	assert.Contains(t, out, "sampled 30 items from 20 records")

	b, err := fcarchive.Open(all)
	require.NoError(t, err)
	rec, err := b.Get(0)
	require.NoError(t, err)
	for _, o := range rec.(*feature.Collector).ORB() {
		assert.Nil(t, o.KeyPoint)
	}
	require.NoError(t, b.Close())

	out, err = execute(t, "sample", src, filepath.Join(dir, "max.fca"), "--max", "-1")
	require.NoError(t, err)
	assert.Contains(t, out, "sampled 30 items from 30 records")

	vecs := filepath.Join(dir, "vecs.fca")
	out, err = execute(t, "sample", src, vecs, "--feature", "floats", "--p", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "sampled 30 items from 30 records")

	c, err := fcarchive.Open(vecs)
	require.NoError(t, err)
	rec, err = c.Get(1)
	require.NoError(t, err)
	assert.Empty(t, rec.(*feature.Collector).ORB(), "reduced to the float vector")
	assert.Equal(t, []float32{1, 0, 0, 0}, rec.(*feature.Collector).Vector(feature.KindFloats))
	require.NoError(t, c.Close())

	_, err = execute(t, "sample", src, filepath.Join(dir, "both.fca"), "--p", "0.5", "--max", "3")
	assert.Error(t, err)
	_, err = execute(t, "sample", src, filepath.Join(dir, "orbfeat.fca"), "--feature", "orb", "--p", "1")
	assert.Error(t, err)
	_, err = execute(t, "sample", src, filepath.Join(dir, "mixed.fca"), "--feature", "floats", "--group", "orb", "--p", "1")
	assert.Error(t, err)
	_, err = execute(t, "count", src, "--group", "floats")
	assert.Error(t, err)
}

func TestInterDistCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeArchive(t, dir, "src", 4)
	out := filepath.Join(dir, "dist.bin")

	stdout, err := execute(t, "interdist", src, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "4x4")

	m, err := fcarchive.OpenInterDistances(out)
	require.NoError(t, err)
	defer m.Close()
	d, err := m.At(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, d)
}

func TestPublishFetchCommands(t *testing.T) {
	dir := t.TempDir()
	src := writeArchive(t, dir, "src", 12)
	t.Setenv("FCARCHIVE_BLOB_ROOT", filepath.Join(dir, "blobs"))

	out, err := execute(t, "publish", src, "releases/v1", "--compression", "lz4")
	require.NoError(t, err)
	assert.Contains(t, out, "published releases/v1: 12 records")

	dst := filepath.Join(dir, "fetched.fca")
	out, err = execute(t, "fetch", "releases/v1", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "fetched releases/v1: 12 records")

	out, err = execute(t, "info", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "contains 12 records")
	assert.NotContains(t, out, "rebuilt")

	_, err = execute(t, "fetch", "releases/missing", filepath.Join(dir, "missing.fca"))
	assert.Error(t, err)
}
