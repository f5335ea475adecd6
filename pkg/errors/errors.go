// Package errors defines the failure taxonomy shared by the validator, the
// query layer and the transaction flows. Every error carries a Kind and is
// matched by errors.Is against the exported sentinels; a sentinel with a
// message only matches errors with that exact message.
package errors

import (
	stderrors "errors"
	"fmt"
)

type Kind uint8

const (
	// KindValidation is any rejection by the state transition validator.
	// The message is the violated rule and is identical on every node.
	KindValidation Kind = iota + 1
	KindNotFound
	// KindAuthorization covers missing read visibility as well as missing
	// permissions of an initiator.
	KindAuthorization
	// KindDuplicateRequest is returned on advisory lock contention or when a
	// caller chosen identifier is already in use.
	KindDuplicateRequest
	// KindInvalidNetworkState rejects operations that would strip the last
	// holder of a permission from a network.
	KindInvalidNetworkState
	// KindMissingGroupParticipation rejects group changes leaving a member
	// outside of every group.
	KindMissingGroupParticipation
	// KindConflict is returned by the uniqueness service to the loser of a
	// race over the same input state or issued identifier.
	KindConflict
	// KindRejected is a counterparty refusing to countersign.
	KindRejected
)

var kindNames = map[Kind]string{
	KindValidation:                "validation",
	KindNotFound:                  "not found",
	KindAuthorization:             "authorization",
	KindDuplicateRequest:          "duplicate request",
	KindInvalidNetworkState:       "invalid network state",
	KindMissingGroupParticipation: "missing group participation",
	KindConflict:                  "conflict",
	KindRejected:                  "rejected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", k)
}

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind and, when the target carries one, by message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

var (
	ErrValidation                = &Error{Kind: KindValidation}
	ErrNotFound                  = &Error{Kind: KindNotFound}
	ErrAuthorization             = &Error{Kind: KindAuthorization}
	ErrDuplicateRequest          = &Error{Kind: KindDuplicateRequest}
	ErrInvalidNetworkState       = &Error{Kind: KindInvalidNetworkState}
	ErrMissingGroupParticipation = &Error{Kind: KindMissingGroupParticipation}
	ErrConflict                  = &Error{Kind: KindConflict}
	ErrRejected                  = &Error{Kind: KindRejected}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Validation builds the rejection for a violated validator rule.
func Validation(reason string) *Error {
	return &Error{Kind: KindValidation, Message: reason}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return New(KindAuthorization, format, args...)
}

func DuplicateRequest(format string, args ...any) *Error {
	return New(KindDuplicateRequest, format, args...)
}

func InvalidNetworkState(format string, args ...any) *Error {
	return New(KindInvalidNetworkState, format, args...)
}

func MissingGroupParticipation(format string, args ...any) *Error {
	return New(KindMissingGroupParticipation, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Rejected(format string, args ...any) *Error {
	return New(KindRejected, format, args...)
}

// KindOf returns the kind of the first taxonomy error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Reason returns the message of the first taxonomy error in err's chain.
func Reason(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return ""
}
