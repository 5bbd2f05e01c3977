package feature

import (
	"testing"

	"github.com/hupe1980/fcarchive/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Accessors(t *testing.T) {
	fc := sampleCollector(record.StringID("a"))

	assert.Equal(t, record.StringID("a"), fc.ID())
	assert.Equal(t, []float32{1, 2, 3}, fc.Vector(KindFloats))
	assert.Equal(t, []float32{0.5, -0.5}, fc.Vector(KindVLAD))
	assert.Nil(t, fc.Vector(KindORB))
	assert.Len(t, fc.ORB(), 2)
	assert.Equal(t, 2, fc.GroupLen(GroupORB))
	assert.Equal(t, 0, fc.GroupLen(record.GroupKind(KindFloats)))
}

func TestCollector_Project(t *testing.T) {
	fc := sampleCollector(record.StringID("a"))

	p := fc.Project(GroupORB, []int{1}).(*Collector)
	assert.Equal(t, fc.ID(), p.ID())
	require.Len(t, p.ORB(), 1)
	assert.Equal(t, fc.ORB()[1].Data, p.ORB()[0].Data)
	assert.Nil(t, p.Vector(KindFloats))
}

func TestCollector_Select(t *testing.T) {
	fc := sampleCollector(record.StringID("a"))

	r, ok := fc.Select(SelectVLAD)
	require.True(t, ok)
	v := r.(*Collector)
	assert.Equal(t, fc.ID(), v.ID())
	assert.Equal(t, fc.Vector(KindVLAD), v.Vector(KindVLAD))
	assert.Nil(t, v.Vector(KindFloats))
	assert.Nil(t, v.ORB())

	_, ok = New(record.StringID("b"), Floats{1}).Select(SelectVLAD)
	assert.False(t, ok)
}

func TestCollector_WithoutKeyPoints(t *testing.T) {
	fc := sampleCollector(record.StringID("a"))

	s := fc.WithoutKeyPoints().(*Collector)
	for _, o := range s.ORB() {
		assert.Nil(t, o.KeyPoint)
	}
	assert.NotNil(t, fc.ORB()[1].KeyPoint, "original must be untouched")
	assert.Equal(t, fc.Vector(KindFloats), s.Vector(KindFloats))
}

func TestORB_Distance(t *testing.T) {
	a := ORB{Data: [4]uint64{0, 0, 0, 0}}
	b := ORB{Data: [4]uint64{^uint64(0), 1, 0, 0}}
	assert.Equal(t, 65, a.Distance(b))
	assert.Equal(t, 0, b.Distance(b))
}

func TestVLAD_Normalized(t *testing.T) {
	v := VLAD{3, 4}.Normalized()
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	z := VLAD{0, 0}.Normalized()
	assert.Equal(t, VLAD{0, 0}, z)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("orb")
	require.NoError(t, err)
	assert.Equal(t, KindORB, k)

	_, err = ParseKind("sift")
	assert.Error(t, err)
}
