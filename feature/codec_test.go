package feature

import (
	"bytes"
	"io"
	"runtime"
	"testing"

	"github.com/hupe1980/fcarchive/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCollector(id record.ID) *Collector {
	return New(id,
		Floats{1, 2, 3},
		VLAD{0.5, -0.5},
		ORBGroup{
			{Data: [4]uint64{1, 2, 3, 4}},
			{KeyPoint: &KeyPoint{X: 10, Y: 20, Orientation: 0.5, Scale: 2}, Data: [4]uint64{^uint64(0), 0, 7, 9}},
		},
	)
}

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		idType record.IDType
		id     record.ID
	}{
		{"StringID", record.IDTypeString, record.StringID("a")},
		{"Int64ID", record.IDTypeInt64, record.Int64ID(99)},
		{"UUID", record.IDTypeUUID, record.NewUUID()},
		{"NoID", record.IDTypeNone, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec(tt.idType)
			fc := sampleCollector(tt.id)

			data, err := c.Append(nil, fc)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.True(t, fc.Equal(got.(*Collector)))

			got, err = c.DecodeFrom(bytes.NewReader(data))
			require.NoError(t, err)
			assert.True(t, fc.Equal(got.(*Collector)))
		})
	}
}

func TestCodec_Layout(t *testing.T) {
	c := NewCodec(record.IDTypeString)
	data, err := c.Append(nil, New(record.StringID("x"), Floats{1}))
	require.NoError(t, err)

	want := []byte{
		0, 1, 'x', // id
		1,          // feature count
		1,          // kind floats
		0, 0, 0, 1, // len
		0x3f, 0x80, 0, 0, // 1.0
	}
	assert.Equal(t, want, data)
}

func TestCodec_ScanIDConsumesRecord(t *testing.T) {
	c := NewCodec(record.IDTypeString)

	var stream []byte
	var err error
	for _, id := range []string{"a", "bb", "ccc"} {
		stream, err = c.Append(stream, sampleCollector(record.StringID(id)))
		require.NoError(t, err)
	}

	r := bytes.NewReader(stream)
	for _, want := range []string{"a", "bb", "ccc"} {
		id, err := c.ScanID(r)
		require.NoError(t, err)
		assert.Equal(t, record.StringID(want), id)
	}
	_, err = c.ScanID(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCodec_Errors(t *testing.T) {
	c := NewCodec(record.IDTypeString)

	_, err := c.Append(nil, New(record.Int64ID(1)))
	assert.ErrorIs(t, err, record.ErrClassMismatch)

	_, err = c.Append(nil, otherRecord{})
	assert.ErrorIs(t, err, record.ErrClassMismatch)

	data, err := c.Append(nil, sampleCollector(record.StringID("a")))
	require.NoError(t, err)

	_, err = c.Decode(data[:len(data)-3])
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = c.Decode(append(data, 0))
	assert.ErrorIs(t, err, ErrCorrupt)

	bad := []byte{0, 1, 'a', 1, 42}
	_, err = c.Decode(bad)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCodec_DeclaredLengthExceedsRecord(t *testing.T) {
	c := NewCodec(record.IDTypeNone)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "ORBGroup", data: []byte{1, byte(KindORB), 0x04, 0, 0, 0}},
		{name: "Floats", data: []byte{1, byte(KindFloats), 0x04, 0, 0, 0}},
		{name: "VLAD", data: []byte{1, byte(KindVLAD), 0, 0, 0, 2, 0, 0, 0, 0}},
		{name: "ShortORB", data: append([]byte{1, byte(KindORB), 0, 0, 0, 2}, make([]byte, orbMinSize)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := c.Decode(tt.data)
			runtime.ReadMemStats(&after)

			assert.ErrorIs(t, err, ErrCorrupt)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "allocated for a declared length")
		})
	}
}

func TestCodec_LargeVectorFromStream(t *testing.T) {
	c := NewCodec(record.IDTypeNone)
	v := make(Floats, 3*readChunk+7)
	for i := range v {
		v[i] = float32(i)
	}
	data, err := c.Append(nil, New(nil, v))
	require.NoError(t, err)

	// A stream without Len is read in chunks.
	rec, err := c.DecodeFrom(io.MultiReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, []float32(v), rec.(*Collector).Vector(KindFloats))

	_, err = c.DecodeFrom(io.MultiReader(bytes.NewReader(data[:len(data)-1])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCodec_Registered(t *testing.T) {
	c, err := record.Lookup(CollectorType, record.IDTypeInt64)
	require.NoError(t, err)
	assert.Equal(t, CollectorType, c.Type())
	assert.Equal(t, record.IDTypeInt64, c.IDType())
	assert.Equal(t, "feature-collector", CollectorType.String())
}

type otherRecord struct{}

func (otherRecord) ID() record.ID { return record.StringID("other") }
