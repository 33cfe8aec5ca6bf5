package message

import (
	"fmt"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/protocol/schema"
	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/danmuck/vectord/internal/worker"
)

// RemoteError is an operation error reported by the server.
type RemoteError struct {
	Code    worker.Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Unwrap exposes the worker sentinel for the code so callers can use
// errors.Is(err, worker.ErrNotExist) on either side of the wire.
func (e *RemoteError) Unwrap() error {
	return worker.Sentinel(e.Code)
}

// Reply answers the request described by req.
func Reply(req frame.Header, fields []tlv.Field) frame.Frame {
	return frame.Frame{
		Header: frame.Header{
			MessageID:   req.MessageID,
			MessageType: req.MessageType,
			Flags:       frame.FlagIsResponse,
		},
		Payload: tlv.EncodeFields(fields),
	}
}

// ErrorReply answers req with err classified into a wire code.
func ErrorReply(req frame.Header, err error) frame.Frame {
	fields := []tlv.Field{
		tlv.U32(schema.FieldErrorCode, uint32(worker.CodeOf(err))),
		tlv.String(schema.FieldErrorMessage, err.Error()),
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   req.MessageID,
			MessageType: req.MessageType,
			Flags:       frame.FlagIsResponse | frame.FlagIsError,
		},
		Payload: tlv.EncodeFields(fields),
	}
}

func DeleteFields(n uint64) []tlv.Field {
	return []tlv.Field{tlv.U64(schema.FieldDeleted, n)}
}

func SearchFields(res []worker.Neighbor) []tlv.Field {
	distances := make([]float32, len(res))
	payloads := make([]uint64, len(res))
	for i, n := range res {
		distances[i] = n.Distance
		payloads[i] = uint64(n.Payload)
	}
	return []tlv.Field{
		tlv.F32s(schema.FieldDistances, distances),
		tlv.U64s(schema.FieldPayloads, payloads),
	}
}

func StatFields(st worker.Stat) []tlv.Field {
	return []tlv.Field{
		tlv.U32(schema.FieldDims, st.Options.Dims),
		tlv.String(schema.FieldDistance, string(st.Options.Distance)),
		tlv.String(schema.FieldKind, string(st.Options.Kind)),
		tlv.U64(schema.FieldRecords, st.Records),
		tlv.U64(schema.FieldBuffered, st.Buffered),
		tlv.U64(schema.FieldFlushed, st.Flushed),
	}
}

// VbaseItemFields encodes one stream step. ok=false marks exhaustion.
func VbaseItemFields(n worker.Neighbor, ok bool) []tlv.Field {
	if !ok {
		return []tlv.Field{tlv.Bool(schema.FieldEnd, true)}
	}
	return []tlv.Field{
		tlv.Bool(schema.FieldEnd, false),
		tlv.F32(schema.FieldScore, n.Distance),
		tlv.U64(schema.FieldPayload, uint64(n.Payload)),
	}
}

// OpenReply checks that f answers (messageType, messageID) and returns its
// fields. An error reply comes back as *RemoteError.
func OpenReply(f frame.Frame, messageType uint32, messageID uint64) ([]tlv.Field, error) {
	h := f.Header
	if !h.IsResponse() || h.MessageType != messageType || h.MessageID != messageID {
		return nil, fmt.Errorf("%w: want %s#%d, got %s#%d response=%t",
			ErrReplyMismatch, schema.Name(messageType), messageID,
			schema.Name(h.MessageType), h.MessageID, h.IsResponse())
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateResponse(messageType, h.IsError(), fields); err != nil {
		return nil, err
	}
	if h.IsError() {
		r := reader{fields: fields}
		remote := &RemoteError{
			Code:    worker.Code(r.u32(schema.FieldErrorCode)),
			Message: r.str(schema.FieldErrorMessage),
		}
		if r.err != nil {
			return nil, r.err
		}
		return nil, remote
	}
	return fields, nil
}

func DecodeDeleted(fields []tlv.Field) (uint64, error) {
	r := reader{fields: fields}
	n := r.u64(schema.FieldDeleted)
	return n, r.err
}

func DecodeNeighbors(fields []tlv.Field) ([]worker.Neighbor, error) {
	r := reader{fields: fields}
	distances := r.f32s(schema.FieldDistances)
	payloads := r.u64s(schema.FieldPayloads)
	if r.err != nil {
		return nil, r.err
	}
	if len(distances) != len(payloads) {
		return nil, fmt.Errorf("message: search reply has %d distances and %d payloads", len(distances), len(payloads))
	}
	out := make([]worker.Neighbor, len(payloads))
	for i := range out {
		out[i] = worker.Neighbor{Distance: distances[i], Payload: worker.Payload(payloads[i])}
	}
	return out, nil
}

func DecodeStat(fields []tlv.Field) (worker.Stat, error) {
	r := reader{fields: fields}
	st := worker.Stat{
		Options: worker.IndexOptions{
			Dims:     r.u32(schema.FieldDims),
			Distance: worker.Distance(r.str(schema.FieldDistance)),
			Kind:     worker.Kind(r.str(schema.FieldKind)),
		},
		Records:  r.u64(schema.FieldRecords),
		Buffered: r.u64(schema.FieldBuffered),
		Flushed:  r.u64(schema.FieldFlushed),
	}
	return st, r.err
}

// DecodeVbaseItem is the inverse of VbaseItemFields.
func DecodeVbaseItem(fields []tlv.Field) (worker.Neighbor, bool, error) {
	r := reader{fields: fields}
	if r.boolean(schema.FieldEnd) {
		return worker.Neighbor{}, false, r.err
	}
	for _, id := range []uint16{schema.FieldScore, schema.FieldPayload} {
		if _, ok := tlv.GetField(fields, id); !ok {
			return worker.Neighbor{}, false, schema.ValidationError{
				MessageType: schema.MsgVbaseNext,
				Response:    true,
				FieldID:     id,
				Reason:      "missing required field",
			}
		}
	}
	n := worker.Neighbor{
		Distance: r.f32(schema.FieldScore),
		Payload:  worker.Payload(r.u64(schema.FieldPayload)),
	}
	if r.err != nil {
		return worker.Neighbor{}, false, r.err
	}
	return n, true, nil
}
