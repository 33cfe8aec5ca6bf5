package schema

import (
	"testing"

	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/danmuck/vectord/internal/testutil/testlog"
)

func TestValidateCreateRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U64(FieldIndexID, 7),
		tlv.U32(FieldDims, 128),
		tlv.String(FieldDistance, "l2"),
		tlv.String(FieldKind, "flat"),
	}
	if err := Validate(MsgCreate, fields); err != nil {
		t.Fatalf("validate create: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U64(FieldIndexID, 7),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgStat, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U64(FieldIndexID, 7)}
	err := Validate(MsgSearch, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldVector || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U32(FieldIndexID, 7)}
	err := Validate(MsgFlush, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldIndexID || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateResponseErrorShape(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U32(FieldErrorCode, 1),
		tlv.String(FieldErrorMessage, "index 7 does not exist"),
	}
	if err := ValidateResponse(MsgInsert, true, fields); err != nil {
		t.Fatalf("validate error reply: %v", err)
	}
	if err := ValidateResponse(MsgStat, false, fields); err == nil {
		t.Fatalf("expected stat reply without stat fields to fail")
	}
}

func TestValidateResponseVbaseNextNeedsEnd(t *testing.T) {
	testlog.Start(t)
	err := ValidateResponse(MsgVbaseNext, false, []tlv.Field{tlv.U64(FieldPayload, 1)})
	ve, ok := err.(ValidationError)
	if !ok || ve.FieldID != FieldEnd || !ve.Response {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNameCoversEveryMessage(t *testing.T) {
	testlog.Start(t)
	for mt := MsgCreate; mt <= MsgVbaseLeave; mt++ {
		if _, ok := names[mt]; !ok {
			t.Fatalf("missing name for message type %d", mt)
		}
	}
	if got := Name(77); got != "unknown(77)" {
		t.Fatalf("unexpected name: %q", got)
	}
}
