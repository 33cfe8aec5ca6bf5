// Package message maps typed requests, replies and callbacks onto frames.
//
// Every encoder validates against schema before returning a frame, and every
// decoder validates before reading fields, so callers only ever see
// well-formed values.
package message

import (
	"errors"
	"fmt"

	"github.com/danmuck/vectord/internal/protocol/frame"
	"github.com/danmuck/vectord/internal/protocol/schema"
	"github.com/danmuck/vectord/internal/protocol/tlv"
	"github.com/danmuck/vectord/internal/worker"
)

var (
	ErrUnexpectedMessage = errors.New("message: unexpected message type")
	ErrReplyMismatch     = errors.New("message: reply does not match request")
)

// Request is one of the top-level request kinds a session accepts.
type Request interface {
	MessageType() uint32
	fields() []tlv.Field
}

type Create struct {
	ID      worker.IndexID
	Options worker.IndexOptions
}

type Insert struct {
	ID     worker.IndexID
	Insert worker.Insert
}

type Delete struct {
	ID worker.IndexID
}

type Search struct {
	ID        worker.IndexID
	Search    worker.Search
	Prefilter bool
}

type Flush struct {
	ID worker.IndexID
}

type Destroy struct {
	IDs []worker.IndexID
}

type Stat struct {
	ID worker.IndexID
}

type Vbase struct {
	ID     worker.IndexID
	Vector []float32
}

func (Create) MessageType() uint32  { return schema.MsgCreate }
func (Insert) MessageType() uint32  { return schema.MsgInsert }
func (Delete) MessageType() uint32  { return schema.MsgDelete }
func (Search) MessageType() uint32  { return schema.MsgSearch }
func (Flush) MessageType() uint32   { return schema.MsgFlush }
func (Destroy) MessageType() uint32 { return schema.MsgDestroy }
func (Stat) MessageType() uint32    { return schema.MsgStat }
func (Vbase) MessageType() uint32   { return schema.MsgVbase }

func (r Create) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U64(schema.FieldIndexID, uint64(r.ID)),
		tlv.U32(schema.FieldDims, r.Options.Dims),
		tlv.String(schema.FieldDistance, string(r.Options.Distance)),
		tlv.String(schema.FieldKind, string(r.Options.Kind)),
	}
}

func (r Insert) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U64(schema.FieldIndexID, uint64(r.ID)),
		tlv.F32s(schema.FieldVector, r.Insert.Vector),
		tlv.U64(schema.FieldPayload, uint64(r.Insert.Payload)),
	}
}

func (r Delete) fields() []tlv.Field {
	return []tlv.Field{tlv.U64(schema.FieldIndexID, uint64(r.ID))}
}

func (r Search) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U64(schema.FieldIndexID, uint64(r.ID)),
		tlv.F32s(schema.FieldVector, r.Search.Vector),
		tlv.U32(schema.FieldK, r.Search.K),
		tlv.Bool(schema.FieldPrefilter, r.Prefilter),
	}
}

func (r Flush) fields() []tlv.Field {
	return []tlv.Field{tlv.U64(schema.FieldIndexID, uint64(r.ID))}
}

func (r Destroy) fields() []tlv.Field {
	ids := make([]uint64, len(r.IDs))
	for i, id := range r.IDs {
		ids[i] = uint64(id)
	}
	return []tlv.Field{tlv.U64s(schema.FieldIndexIDs, ids)}
}

func (r Stat) fields() []tlv.Field {
	return []tlv.Field{tlv.U64(schema.FieldIndexID, uint64(r.ID))}
}

func (r Vbase) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U64(schema.FieldIndexID, uint64(r.ID)),
		tlv.F32s(schema.FieldVector, r.Vector),
	}
}

// EncodeRequest frames req under messageID.
func EncodeRequest(messageID uint64, req Request) (frame.Frame, error) {
	fields := req.fields()
	if err := schema.Validate(req.MessageType(), fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: req.MessageType(),
		},
		Payload: tlv.EncodeFields(fields),
	}, nil
}

// DecodeRequest parses a top-level request. Callback, stream-step and reply
// frames are rejected with ErrUnexpectedMessage.
func DecodeRequest(f frame.Frame) (Request, error) {
	mt := f.Header.MessageType
	if f.Header.IsResponse() {
		return nil, fmt.Errorf("%w: %s reply outside a call", ErrUnexpectedMessage, schema.Name(mt))
	}
	switch mt {
	case schema.MsgCreate, schema.MsgInsert, schema.MsgDelete, schema.MsgSearch,
		schema.MsgFlush, schema.MsgDestroy, schema.MsgStat, schema.MsgVbase:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMessage, schema.Name(mt))
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(mt, fields); err != nil {
		return nil, err
	}

	r := reader{fields: fields}
	var req Request
	switch mt {
	case schema.MsgCreate:
		req = Create{
			ID: r.id(),
			Options: worker.IndexOptions{
				Dims:     r.u32(schema.FieldDims),
				Distance: worker.Distance(r.str(schema.FieldDistance)),
				Kind:     worker.Kind(r.str(schema.FieldKind)),
			},
		}
	case schema.MsgInsert:
		req = Insert{
			ID: r.id(),
			Insert: worker.Insert{
				Vector:  r.f32s(schema.FieldVector),
				Payload: worker.Payload(r.u64(schema.FieldPayload)),
			},
		}
	case schema.MsgDelete:
		req = Delete{ID: r.id()}
	case schema.MsgSearch:
		req = Search{
			ID: r.id(),
			Search: worker.Search{
				Vector: r.f32s(schema.FieldVector),
				K:      r.u32(schema.FieldK),
			},
			Prefilter: r.boolean(schema.FieldPrefilter),
		}
	case schema.MsgFlush:
		req = Flush{ID: r.id()}
	case schema.MsgDestroy:
		raw := r.u64s(schema.FieldIndexIDs)
		ids := make([]worker.IndexID, len(raw))
		for i, id := range raw {
			ids[i] = worker.IndexID(id)
		}
		req = Destroy{IDs: ids}
	case schema.MsgStat:
		req = Stat{ID: r.id()}
	case schema.MsgVbase:
		req = Vbase{ID: r.id(), Vector: r.f32s(schema.FieldVector)}
	}
	if r.err != nil {
		return nil, r.err
	}
	return req, nil
}

// reader pulls typed values out of schema-validated fields and keeps the
// first conversion error.
type reader struct {
	fields []tlv.Field
	err    error
}

func (r *reader) field(id uint16) tlv.Field {
	f, _ := tlv.GetField(r.fields, id)
	return f
}

func (r *reader) fail(id uint16, err error) {
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("message: field %d: %w", id, err)
	}
}

func (r *reader) id() worker.IndexID {
	return worker.IndexID(r.u64(schema.FieldIndexID))
}

func (r *reader) u32(id uint16) uint32 {
	v, err := r.field(id).AsU32()
	r.fail(id, err)
	return v
}

func (r *reader) u64(id uint16) uint64 {
	v, err := r.field(id).AsU64()
	r.fail(id, err)
	return v
}

func (r *reader) boolean(id uint16) bool {
	v, err := r.field(id).AsBool()
	r.fail(id, err)
	return v
}

func (r *reader) str(id uint16) string {
	v, err := r.field(id).AsString()
	r.fail(id, err)
	return v
}

func (r *reader) f32(id uint16) float32 {
	v, err := r.field(id).AsF32()
	r.fail(id, err)
	return v
}

func (r *reader) f32s(id uint16) []float32 {
	v, err := r.field(id).AsF32s()
	r.fail(id, err)
	return v
}

func (r *reader) u64s(id uint16) []uint64 {
	v, err := r.field(id).AsU64s()
	r.fail(id, err)
	return v
}
