package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalLayout(t *testing.T) {
	t.Parallel()
	var d Dictionary
	d.AddUint8(0, 1)
	d.AddInt32(2, -2)
	d.AddString(4, "Hi")

	b, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		3,
		0, 0, 0, 0, byte(TypeUint), 1, 0, 1,
		2, 0, 0, 0, byte(TypeInt), 4, 0, 0xFE, 0xFF, 0xFF, 0xFF,
		4, 0, 0, 0, byte(TypeString), 3, 0, 'H', 'i', 0,
	}, b)
}

func TestDecodeAccessors(t *testing.T) {
	t.Parallel()
	var src Dictionary
	src.AddUint8(0, 1)
	src.AddInt32(2, -123456)
	src.AddBytes(3, []byte{9, 8, 7})
	src.AddString(999, "žena")
	src.AddUint8(0, 2)

	b, err := src.MarshalBinary()
	require.NoError(t, err)

	var d Dictionary
	require.NoError(t, d.UnmarshalBinary(b))
	assert.Equal(t, 4, d.Len())

	u, ok := d.Uint(0)
	require.True(t, ok)
	assert.Equal(t, uint64(2), u)

	i, ok := d.Int(2)
	require.True(t, ok)
	assert.Equal(t, int64(-123456), i)

	raw, ok := d.Bytes(3)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 8, 7}, raw)

	s, ok := d.String(999)
	require.True(t, ok)
	assert.Equal(t, "žena", s)

	_, ok = d.String(2)
	assert.False(t, ok)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	var d Dictionary
	assert.ErrorIs(t, d.UnmarshalBinary(nil), ErrTruncated)
	assert.ErrorIs(t, d.UnmarshalBinary([]byte{1, 0, 0}), ErrTruncated)
	assert.ErrorIs(t, d.UnmarshalBinary([]byte{1, 0, 0, 0, 0, 1, 5, 0, 'a'}), ErrTruncated)
	assert.ErrorIs(t, d.UnmarshalBinary([]byte{1, 0, 0, 0, 0, 7, 0, 0}), ErrUnknownType)
}

func TestMarshalRejectsOversizedValue(t *testing.T) {
	t.Parallel()
	var d Dictionary
	d.AddBytes(1, make([]byte, maxValueLength+1))
	_, err := d.MarshalBinary()
	assert.ErrorIs(t, err, ErrValueTooLong)
}
