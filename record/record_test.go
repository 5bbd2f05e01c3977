package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_RoundTrip(t *testing.T) {
	u := NewUUID()
	tests := []struct {
		name string
		id   ID
	}{
		{"String", StringID("img-0001.jpg")},
		{"EmptyString", StringID("")},
		{"Int64", Int64ID(-42)},
		{"UUID", u},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.id.AppendBinary(nil)
			got, err := ReadID(bytes.NewReader(buf), tt.id.IDType())
			require.NoError(t, err)
			assert.Equal(t, tt.id, got)
		})
	}
}

func TestID_Encoding(t *testing.T) {
	assert.Equal(t, []byte{0, 2, 'a', 'b'}, StringID("ab").AppendBinary(nil))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, Int64ID(256).AppendBinary(nil))
}

func TestID_MapKey(t *testing.T) {
	m := map[ID]int{
		StringID("a"): 1,
		Int64ID(1):    2,
	}
	assert.Equal(t, 1, m[StringID("a")])
	assert.Equal(t, 2, m[Int64ID(1)])
	_, ok := m[StringID("1")]
	assert.False(t, ok)
}

func TestReadID_Truncated(t *testing.T) {
	_, err := ReadID(bytes.NewReader([]byte{0, 5, 'a'}), IDTypeString)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadID(bytes.NewReader(nil), IDTypeInt64)
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadID(bytes.NewReader(nil), IDTypeNone)
	assert.ErrorIs(t, err, ErrUnknownIDType)
}

func TestParseID(t *testing.T) {
	id, err := ParseID(IDTypeInt64, "17")
	require.NoError(t, err)
	assert.Equal(t, Int64ID(17), id)

	_, err = ParseID(IDTypeInt64, "x")
	assert.Error(t, err)

	u := NewUUID()
	id, err = ParseID(IDTypeUUID, u.String())
	require.NoError(t, err)
	assert.Equal(t, u, id)
}

func TestParseIDType(t *testing.T) {
	for _, want := range []IDType{IDTypeNone, IDTypeString, IDTypeInt64, IDTypeUUID} {
		got, err := ParseIDType(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIDType("float")
	assert.Error(t, err)
}

func TestCheckID(t *testing.T) {
	assert.NoError(t, CheckID(IDTypeNone, nil))
	assert.NoError(t, CheckID(IDTypeString, StringID("a")))
	assert.ErrorIs(t, CheckID(IDTypeString, Int64ID(1)), ErrClassMismatch)
	assert.ErrorIs(t, CheckID(IDTypeString, nil), ErrClassMismatch)
}

type stubCodec struct{ idType IDType }

func (stubCodec) Type() Type                              { return 9001 }
func (c stubCodec) IDType() IDType                        { return c.idType }
func (stubCodec) Append(dst []byte, _ Record) ([]byte, error) { return dst, nil }
func (stubCodec) Decode([]byte) (Record, error)           { return nil, nil }
func (stubCodec) DecodeFrom(io.Reader) (Record, error)    { return nil, nil }
func (stubCodec) ScanID(io.Reader) (ID, error)            { return nil, nil }

func TestRegistry(t *testing.T) {
	Register(9001, "stub", func(idType IDType) (Codec, error) {
		return stubCodec{idType: idType}, nil
	})

	c, err := Lookup(9001, IDTypeInt64)
	require.NoError(t, err)
	assert.Equal(t, IDTypeInt64, c.IDType())
	assert.Equal(t, "stub", Type(9001).String())

	typ, ok := TypeByName("stub")
	assert.True(t, ok)
	assert.Equal(t, Type(9001), typ)
	assert.Contains(t, Types(), Type(9001))

	_, err = Lookup(9002, IDTypeNone)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Lookup(9001, IDType(77))
	assert.ErrorIs(t, err, ErrUnknownIDType)

	assert.Panics(t, func() {
		Register(9001, "again", func(IDType) (Codec, error) { return nil, nil })
	})
}
