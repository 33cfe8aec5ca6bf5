package schema

import (
	"fmt"

	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs from the wire contract.
const (
	MsgCreate     uint32 = 1
	MsgInsert     uint32 = 2
	MsgDelete     uint32 = 3
	MsgSearch     uint32 = 4
	MsgFlush      uint32 = 5
	MsgDestroy    uint32 = 6
	MsgStat       uint32 = 7
	MsgVbase      uint32 = 8
	MsgCandidate  uint32 = 9
	MsgDecision   uint32 = 10
	MsgVbaseNext  uint32 = 11
	MsgVbaseLeave uint32 = 12
)

// Field IDs from the wire contract.
const (
	FieldIndexID  uint16 = 1
	FieldIndexIDs uint16 = 2

	FieldDims     uint16 = 100
	FieldDistance uint16 = 101
	FieldKind     uint16 = 102

	FieldVector    uint16 = 200
	FieldPayload   uint16 = 201
	FieldK         uint16 = 202
	FieldPrefilter uint16 = 203

	FieldAccept uint16 = 300

	FieldDeleted   uint16 = 400
	FieldDistances uint16 = 401
	FieldPayloads  uint16 = 402
	FieldRecords   uint16 = 403
	FieldBuffered  uint16 = 404
	FieldFlushed   uint16 = 405
	FieldEnd       uint16 = 406
	FieldScore     uint16 = 407

	FieldErrorCode    uint16 = 500
	FieldErrorMessage uint16 = 501
)

var names = map[uint32]string{
	MsgCreate:     "create",
	MsgInsert:     "insert",
	MsgDelete:     "delete",
	MsgSearch:     "search",
	MsgFlush:      "flush",
	MsgDestroy:    "destroy",
	MsgStat:       "stat",
	MsgVbase:      "vbase",
	MsgCandidate:  "candidate",
	MsgDecision:   "decision",
	MsgVbaseNext:  "vbase.next",
	MsgVbaseLeave: "vbase.leave",
}

// Name returns the log label for a message type.
func Name(messageType uint32) string {
	if n, ok := names[messageType]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", messageType)
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	Response    bool
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	dir := "request"
	if e.Response {
		dir = "response"
	}
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: %s %s: %s", Name(e.MessageType), dir, e.Reason)
	}
	return fmt.Sprintf("schema: %s %s field=%d: %s", Name(e.MessageType), dir, e.FieldID, e.Reason)
}

var requests = map[uint32][]Requirement{
	MsgCreate: {
		{FieldIndexID, tlv.TypeU64},
		{FieldDims, tlv.TypeU32},
		{FieldDistance, tlv.TypeString},
		{FieldKind, tlv.TypeString},
	},
	MsgInsert: {
		{FieldIndexID, tlv.TypeU64},
		{FieldVector, tlv.TypeF32s},
		{FieldPayload, tlv.TypeU64},
	},
	MsgDelete: {
		{FieldIndexID, tlv.TypeU64},
	},
	MsgSearch: {
		{FieldIndexID, tlv.TypeU64},
		{FieldVector, tlv.TypeF32s},
		{FieldK, tlv.TypeU32},
		{FieldPrefilter, tlv.TypeBool},
	},
	MsgFlush: {
		{FieldIndexID, tlv.TypeU64},
	},
	MsgDestroy: {
		{FieldIndexIDs, tlv.TypeU64s},
	},
	MsgStat: {
		{FieldIndexID, tlv.TypeU64},
	},
	MsgVbase: {
		{FieldIndexID, tlv.TypeU64},
		{FieldVector, tlv.TypeF32s},
	},
	MsgCandidate: {
		{FieldPayload, tlv.TypeU64},
	},
	MsgDecision: {
		{FieldAccept, tlv.TypeBool},
	},
	MsgVbaseNext:  {},
	MsgVbaseLeave: {},
}

// responses lists the fields of successful replies. Error replies are
// validated against errorReply instead.
var responses = map[uint32][]Requirement{
	MsgCreate: {},
	MsgInsert: {},
	MsgDelete: {
		{FieldDeleted, tlv.TypeU64},
	},
	MsgSearch: {
		{FieldDistances, tlv.TypeF32s},
		{FieldPayloads, tlv.TypeU64s},
	},
	MsgFlush:   {},
	MsgDestroy: {},
	MsgStat: {
		{FieldDims, tlv.TypeU32},
		{FieldDistance, tlv.TypeString},
		{FieldKind, tlv.TypeString},
		{FieldRecords, tlv.TypeU64},
		{FieldBuffered, tlv.TypeU64},
		{FieldFlushed, tlv.TypeU64},
	},
	MsgVbase: {},
	MsgVbaseNext: {
		{FieldEnd, tlv.TypeBool},
	},
}

var errorReply = []Requirement{
	{FieldErrorCode, tlv.TypeU32},
	{FieldErrorMessage, tlv.TypeString},
}

// Validate enforces required fields and required field types for a request
// or callback message. Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requests[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	return check(messageType, false, reqs, fields)
}

// ValidateResponse enforces the reply shape for messageType. isError selects
// the error reply shape.
func ValidateResponse(messageType uint32, isError bool, fields []tlv.Field) error {
	if isError {
		return check(messageType, true, errorReply, fields)
	}
	reqs, ok := responses[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.ValidateResponse unknown message type")
		return ValidationError{MessageType: messageType, Response: true, Reason: "unknown message_type"}
	}
	return check(messageType, true, reqs, fields)
}

func check(messageType uint32, response bool, reqs []Requirement, fields []tlv.Field) error {
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Str("message", Name(messageType)).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, Response: response, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Str("message", Name(messageType)).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, Response: response, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
