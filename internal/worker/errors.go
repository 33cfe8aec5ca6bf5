package worker

import (
	"errors"
	"fmt"
)

// Code is the stable wire code of an operation error.
type Code uint32

const (
	CodeInternal       Code = 1
	CodeNotExist       Code = 2
	CodeExist          Code = 3
	CodeInvalidOptions Code = 4
	CodeInvalidVector  Code = 5
	CodeStorage        Code = 6
	CodeAborted        Code = 7
)

var (
	ErrInternal       = errors.New("worker: internal error")
	ErrNotExist       = errors.New("worker: index does not exist")
	ErrExist          = errors.New("worker: index already exists")
	ErrInvalidOptions = errors.New("worker: invalid index options")
	ErrInvalidVector  = errors.New("worker: invalid vector")
	ErrStorage        = errors.New("worker: storage failure")
	ErrAborted        = errors.New("worker: traversal aborted by decider")
)

var sentinels = []struct {
	code Code
	err  error
}{
	{CodeNotExist, ErrNotExist},
	{CodeExist, ErrExist},
	{CodeInvalidOptions, ErrInvalidOptions},
	{CodeInvalidVector, ErrInvalidVector},
	{CodeStorage, ErrStorage},
	{CodeAborted, ErrAborted},
	{CodeInternal, ErrInternal},
}

// CodeOf classifies err. Errors outside the worker taxonomy map to
// CodeInternal.
func CodeOf(err error) Code {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return CodeInternal
}

// Sentinel returns the error value a code stands for.
func Sentinel(code Code) error {
	for _, s := range sentinels {
		if s.code == code {
			return s.err
		}
	}
	return ErrInternal
}

func notExist(id IndexID) error {
	return fmt.Errorf("%w: id=%d", ErrNotExist, id)
}
