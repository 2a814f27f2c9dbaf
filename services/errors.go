package services

import (
	"errors"
)

var (
	ErrInvalidMessage    = errors.New("invalid message")
	ErrSelfTarget        = errors.New("sender and receiver are the same user")
	ErrCallAlreadyActive = errors.New("a call between these users is already active")
	ErrAlreadyTerminal   = errors.New("call already reached a terminal state")
	ErrInvalidTransition = errors.New("transition not allowed from current state")
	ErrStaleState        = errors.New("call state changed concurrently")
	ErrUnauthorized      = errors.New("actor is not allowed to perform this action")
	ErrPersistence       = errors.New("persistence failure")
	ErrNotFound          = errors.New("not found")
)

// Wire codes reported to clients.
const (
	CodeInvalidMessage    = "InvalidMessage"
	CodeSelfTarget        = "SelfTarget"
	CodeCallAlreadyActive = "CallAlreadyActive"
	CodeAlreadyTerminal   = "AlreadyTerminal"
	CodeInvalidTransition = "InvalidTransition"
	CodeStaleState        = "StaleState"
	CodeUnauthorized      = "Unauthorized"
	CodePersistence       = "PersistenceFailure"
	CodeNotFound          = "NotFound"
	CodeInternal          = "Internal"
)

// ErrorCode maps an error from this package to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSelfTarget):
		return CodeSelfTarget
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, ErrCallAlreadyActive):
		return CodeCallAlreadyActive
	case errors.Is(err, ErrAlreadyTerminal):
		return CodeAlreadyTerminal
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrStaleState):
		return CodeStaleState
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

// persistenceError wraps a store error so that callers can match ErrPersistence
// while keeping the original cause in the chain. Domain errors coming back from
// a store (not found, active call, stale state) are returned unchanged.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{ErrNotFound, ErrCallAlreadyActive, ErrStaleState} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + ErrPersistence.Error() + ": " + e.err.Error() }

func (e *opError) Unwrap() []error { return []error{ErrPersistence, e.err} }
