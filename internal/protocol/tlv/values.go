package tlv

import (
	"encoding/binary"
	"math"
)

// U32 creates a uint32 field.
func U32(id uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeU32, Value: buf}
}

// U64 creates a uint64 field.
func U64(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

// Bool creates a bool field.
func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

// String creates a string field.
func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

// F32 creates a float32 field.
func F32(id uint16, v float32) Field {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return Field{ID: id, Type: TypeF32, Value: buf}
}

// F32s creates a float32 list field. Elements are little-endian IEEE-754,
// matching the vector BLOB layout used by storage.
func F32s(id uint16, v []float32) Field {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return Field{ID: id, Type: TypeF32s, Value: buf}
}

// U64s creates a uint64 list field.
func U64s(id uint16, v []uint64) Field {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint64(buf[8*i:], x)
	}
	return Field{ID: id, Type: TypeU64s, Value: buf}
}

// AsU32 returns the field value as uint32.
func (f Field) AsU32() (uint32, error) {
	if f.Type != TypeU32 {
		return 0, ErrTypeMismatch
	}
	if len(f.Value) != 4 {
		return 0, ErrInvalidLength
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

// AsU64 returns the field value as uint64.
func (f Field) AsU64() (uint64, error) {
	if f.Type != TypeU64 {
		return 0, ErrTypeMismatch
	}
	if len(f.Value) != 8 {
		return 0, ErrInvalidLength
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

// AsBool returns the field value as bool.
func (f Field) AsBool() (bool, error) {
	if f.Type != TypeBool {
		return false, ErrTypeMismatch
	}
	if len(f.Value) != 1 {
		return false, ErrInvalidLength
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

// AsString returns the field value as string.
func (f Field) AsString() (string, error) {
	if f.Type != TypeString {
		return "", ErrTypeMismatch
	}
	return string(f.Value), nil
}

// AsF32 returns the field value as float32.
func (f Field) AsF32() (float32, error) {
	if f.Type != TypeF32 {
		return 0, ErrTypeMismatch
	}
	if len(f.Value) != 4 {
		return 0, ErrInvalidLength
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(f.Value)), nil
}

// AsF32s returns the field value as a float32 list.
func (f Field) AsF32s() ([]float32, error) {
	if f.Type != TypeF32s {
		return nil, ErrTypeMismatch
	}
	if len(f.Value)%4 != 0 {
		return nil, ErrInvalidLength
	}
	out := make([]float32, len(f.Value)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.Value[4*i:]))
	}
	return out, nil
}

// AsU64s returns the field value as a uint64 list.
func (f Field) AsU64s() ([]uint64, error) {
	if f.Type != TypeU64s {
		return nil, ErrTypeMismatch
	}
	if len(f.Value)%8 != 0 {
		return nil, ErrInvalidLength
	}
	out := make([]uint64, len(f.Value)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(f.Value[8*i:])
	}
	return out, nil
}
