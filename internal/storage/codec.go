package storage

import (
	"encoding/binary"
	"errors"
	"math"
)

var ErrInvalidVectorBlob = errors.New("storage: invalid vector blob")

// EncodeVector packs v as little-endian IEEE-754 float32s, 4 bytes each.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrInvalidVectorBlob
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
