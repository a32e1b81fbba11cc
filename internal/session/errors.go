package session

import (
	"errors"
	"fmt"

	"github.com/ichi0g0y/lucky-draw/internal/types"
)

var (
	// ErrNoEligibleWinner は有資格者が0人のとき。セッションはidleのままで再試行できる。
	ErrNoEligibleWinner = errors.New("no eligible winner")

	// ErrDrawInProgress は idle 以外で抽選を要求されたとき。
	ErrDrawInProgress = errors.New("draw already in progress")

	ErrInvalidTransition = errors.New("invalid draw transition")

	// ErrDrawsExhausted は当選者数が maxDraws に達しているとき。
	ErrDrawsExhausted = errors.New("all draws completed")
)

// TransitionError describes an operation requested from the wrong state.
type TransitionError struct {
	Op   string
	From types.DrawStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PersistenceError wraps a storage failure. The session state is left as it
// was before the call, so the operation can be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
