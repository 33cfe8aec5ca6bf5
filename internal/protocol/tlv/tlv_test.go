package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		U64(1, 7),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestVectorFieldKeepsBitPattern(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-20}
	got, err := F32s(4, in).AsF32s()
	if err != nil {
		t.Fatalf("as f32s: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("len got=%d want=%d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("element %d got=%v want=%v", i, got[i], in[i])
		}
	}
}

func TestEmptyListsDecodeEmpty(t *testing.T) {
	ids, err := U64s(2, nil).AsU64s()
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty u64s: ids=%v err=%v", ids, err)
	}
}

func TestTypedGettersRejectWrongType(t *testing.T) {
	f := U32(1, 5)
	if _, err := f.AsU64(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := f.AsF32s(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	bad := Field{ID: 1, Type: TypeF32s, Value: []byte{1, 2, 3}}
	if _, err := bad.AsF32s(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	notBool := Field{ID: 1, Type: TypeBool, Value: []byte{2}}
	if _, err := notBool.AsBool(); !errors.Is(err, ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", err)
	}
}
