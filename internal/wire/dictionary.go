// Package wire encodes the key/value dictionaries exchanged with the watch.
//
// Layout: tuple count (u8), then per tuple key (u32 LE), type (u8), length (u16 LE) and
// payload. Strings are NUL-terminated; integers are little-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTooManyTuples = errors.New("wire: too many tuples")
	ErrValueTooLong  = errors.New("wire: value too long")
	ErrTruncated     = errors.New("wire: truncated dictionary")
	ErrUnknownType   = errors.New("wire: unknown tuple type")
)

type Type uint8

const (
	TypeBytes  Type = 0
	TypeString Type = 1
	TypeUint   Type = 2
	TypeInt    Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeUint:
		return "uint"
	case TypeInt:
		return "int"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

const (
	maxTuples      = 255
	maxValueLength = 0xFFFF
)

type Tuple struct {
	Key   uint32
	Type  Type
	Value []byte
}

// Dictionary keeps tuples in insertion order; adding an existing key replaces it in place.
type Dictionary struct {
	tuples []Tuple
}

func (d *Dictionary) put(t Tuple) {
	for i := range d.tuples {
		if d.tuples[i].Key == t.Key {
			d.tuples[i] = t
			return
		}
	}
	d.tuples = append(d.tuples, t)
}

func (d *Dictionary) AddUint8(key uint32, v uint8) {
	d.put(Tuple{Key: key, Type: TypeUint, Value: []byte{v}})
}

func (d *Dictionary) AddUint16(key uint32, v uint16) {
	d.put(Tuple{Key: key, Type: TypeUint, Value: binary.LittleEndian.AppendUint16(nil, v)})
}

func (d *Dictionary) AddInt32(key uint32, v int32) {
	d.put(Tuple{Key: key, Type: TypeInt, Value: binary.LittleEndian.AppendUint32(nil, uint32(v))})
}

func (d *Dictionary) AddBytes(key uint32, v []byte) {
	d.put(Tuple{Key: key, Type: TypeBytes, Value: append([]byte(nil), v...)})
}

func (d *Dictionary) AddString(key uint32, v string) {
	b := make([]byte, 0, len(v)+1)
	b = append(b, v...)
	d.put(Tuple{Key: key, Type: TypeString, Value: append(b, 0)})
}

func (d *Dictionary) Len() int { return len(d.tuples) }

// Tuples returns a copy of the tuples in encoding order.
func (d *Dictionary) Tuples() []Tuple { return append([]Tuple(nil), d.tuples...) }

func (d *Dictionary) Get(key uint32) (Tuple, bool) {
	for _, t := range d.tuples {
		if t.Key == key {
			return t, true
		}
	}
	return Tuple{}, false
}

// Uint returns an unsigned tuple widened to uint64.
func (d *Dictionary) Uint(key uint32) (uint64, bool) {
	t, ok := d.Get(key)
	if !ok || (t.Type != TypeUint && t.Type != TypeInt) {
		return 0, false
	}
	return readLE(t.Value), true
}

// Int returns a signed tuple sign-extended to int64.
func (d *Dictionary) Int(key uint32) (int64, bool) {
	t, ok := d.Get(key)
	if !ok || (t.Type != TypeUint && t.Type != TypeInt) {
		return 0, false
	}
	v := readLE(t.Value)
	switch len(t.Value) {
	case 1:
		return int64(int8(v)), true
	case 2:
		return int64(int16(v)), true
	case 4:
		return int64(int32(v)), true
	}
	return int64(v), true
}

func (d *Dictionary) String(key uint32) (string, bool) {
	t, ok := d.Get(key)
	if !ok || t.Type != TypeString {
		return "", false
	}
	return strings.TrimRight(string(t.Value), "\x00"), true
}

func (d *Dictionary) Bytes(key uint32) ([]byte, bool) {
	t, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	return t.Value, true
}

func readLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// MarshalBinary encodes the dictionary.
func (d *Dictionary) MarshalBinary() ([]byte, error) {
	if len(d.tuples) > maxTuples {
		return nil, fmt.Errorf("%w: %d", ErrTooManyTuples, len(d.tuples))
	}
	size := 1
	for _, t := range d.tuples {
		if len(t.Value) > maxValueLength {
			return nil, fmt.Errorf("%w: key %d has %d bytes", ErrValueTooLong, t.Key, len(t.Value))
		}
		size += 7 + len(t.Value)
	}
	out := make([]byte, 0, size)
	out = append(out, byte(len(d.tuples)))
	for _, t := range d.tuples {
		out = binary.LittleEndian.AppendUint32(out, t.Key)
		out = append(out, byte(t.Type))
		out = binary.LittleEndian.AppendUint16(out, uint16(len(t.Value)))
		out = append(out, t.Value...)
	}
	return out, nil
}

// UnmarshalBinary replaces d with the decoded contents of b.
func (d *Dictionary) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return ErrTruncated
	}
	n := int(b[0])
	b = b[1:]
	tuples := make([]Tuple, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < 7 {
			return fmt.Errorf("%w: tuple %d header", ErrTruncated, i)
		}
		t := Tuple{
			Key:  binary.LittleEndian.Uint32(b),
			Type: Type(b[4]),
		}
		if t.Type > TypeInt {
			return fmt.Errorf("%w: %d", ErrUnknownType, b[4])
		}
		l := int(binary.LittleEndian.Uint16(b[5:]))
		b = b[7:]
		if len(b) < l {
			return fmt.Errorf("%w: tuple %d payload", ErrTruncated, i)
		}
		t.Value = append([]byte(nil), b[:l]...)
		b = b[l:]
		tuples = append(tuples, t)
	}
	d.tuples = tuples
	return nil
}
