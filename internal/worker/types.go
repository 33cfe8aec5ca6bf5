package worker

import (
	"fmt"
	"math"
)

// IndexID names one index instance. The protocol layer never interprets it.
type IndexID uint64

// Payload is the opaque record handle a client attaches on insert. It is
// handed back verbatim in delete/search callbacks and in results.
type Payload uint64

// Distance selects the metric an index ranks by. Lower is closer for all of
// them.
type Distance string

const (
	DistanceL2  Distance = "l2"
	DistanceCos Distance = "cos"
	DistanceDot Distance = "dot"
)

// Kind selects the index structure.
type Kind string

const (
	KindFlat Kind = "flat"
)

const MaxDims = 65535

// IndexOptions are fixed at creation time.
type IndexOptions struct {
	Dims     uint32
	Distance Distance
	Kind     Kind
}

// Validate rejects options no index can be built from.
func (o IndexOptions) Validate() error {
	if o.Dims == 0 || o.Dims > MaxDims {
		return fmt.Errorf("%w: dims must be in [1, %d], got %d", ErrInvalidOptions, MaxDims, o.Dims)
	}
	switch o.Distance {
	case DistanceL2, DistanceCos, DistanceDot:
	default:
		return fmt.Errorf("%w: unknown distance %q", ErrInvalidOptions, o.Distance)
	}
	switch o.Kind {
	case KindFlat:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOptions, o.Kind)
	}
	return nil
}

// Insert is one record to add.
type Insert struct {
	Vector  []float32
	Payload Payload
}

// Search is a top-k nearest neighbour query.
type Search struct {
	Vector []float32
	K      uint32
}

// Neighbor is one ranked result.
type Neighbor struct {
	Distance float32
	Payload  Payload
}

// Stat is a point-in-time statistics snapshot of one index.
type Stat struct {
	Options  IndexOptions
	Records  uint64
	Buffered uint64
	Flushed  uint64
}

// Decider answers accept/reject for one candidate record. A non-nil error
// stops the traversal that invoked it.
type Decider func(Payload) (bool, error)

// AcceptAll accepts every candidate without consulting anyone.
func AcceptAll(Payload) (bool, error) { return true, nil }

func checkVector(v []float32, dims uint32) error {
	if uint32(len(v)) != dims {
		return fmt.Errorf("%w: dimension mismatch: expected %d, got %d", ErrInvalidVector, dims, len(v))
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: element %d is not finite", ErrInvalidVector, i)
		}
	}
	return nil
}
