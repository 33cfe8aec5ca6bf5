package message

import (
	"fmt"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/protocol/schema"
	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/danmuck/vectord/internal/worker"
)

// Candidate asks the client to decide on one record. seq identifies the
// round trip and must be echoed by the Decision.
func Candidate(seq uint64, p worker.Payload) frame.Frame {
	return frame.Frame{
		Header: frame.Header{
			MessageID:   seq,
			MessageType: schema.MsgCandidate,
		},
		Payload: tlv.EncodeFields([]tlv.Field{tlv.U64(schema.FieldPayload, uint64(p))}),
	}
}

func DecodeCandidate(f frame.Frame) (uint64, worker.Payload, error) {
	if f.Header.MessageType != schema.MsgCandidate || f.Header.IsResponse() {
		return 0, 0, fmt.Errorf("%w: want candidate, got %s", ErrUnexpectedMessage, schema.Name(f.Header.MessageType))
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return 0, 0, err
	}
	if err := schema.Validate(schema.MsgCandidate, fields); err != nil {
		return 0, 0, err
	}
	r := reader{fields: fields}
	p := worker.Payload(r.u64(schema.FieldPayload))
	return f.Header.MessageID, p, r.err
}

// Decision answers the candidate with sequence seq.
func Decision(seq uint64, accept bool) frame.Frame {
	return frame.Frame{
		Header: frame.Header{
			MessageID:   seq,
			MessageType: schema.MsgDecision,
			Flags:       frame.FlagIsResponse,
		},
		Payload: tlv.EncodeFields([]tlv.Field{tlv.Bool(schema.FieldAccept, accept)}),
	}
}

// DecodeDecision reads the answer to candidate seq. Any other frame, or a
// decision for a different candidate, is ErrReplyMismatch.
func DecodeDecision(f frame.Frame, seq uint64) (bool, error) {
	h := f.Header
	if h.MessageType != schema.MsgDecision || !h.IsResponse() || h.MessageID != seq {
		return false, fmt.Errorf("%w: want decision#%d, got %s#%d",
			ErrReplyMismatch, seq, schema.Name(h.MessageType), h.MessageID)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return false, err
	}
	if err := schema.Validate(schema.MsgDecision, fields); err != nil {
		return false, err
	}
	r := reader{fields: fields}
	accept := r.boolean(schema.FieldAccept)
	return accept, r.err
}

// VbaseStep frames a stream step: next=true asks for one more neighbour,
// next=false leaves the stream.
func VbaseStep(messageID uint64, next bool) frame.Frame {
	mt := schema.MsgVbaseLeave
	if next {
		mt = schema.MsgVbaseNext
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: mt,
		},
	}
}

func DecodeVbaseStep(f frame.Frame) (bool, error) {
	if f.Header.IsResponse() {
		return false, fmt.Errorf("%w: %s reply inside stream", ErrUnexpectedMessage, schema.Name(f.Header.MessageType))
	}
	switch f.Header.MessageType {
	case schema.MsgVbaseNext:
		return true, nil
	case schema.MsgVbaseLeave:
		return false, nil
	default:
		return false, fmt.Errorf("%w: want vbase step, got %s", ErrUnexpectedMessage, schema.Name(f.Header.MessageType))
	}
}
