package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("version conflict")
	ErrNoAvailability    = errors.New("no spot available")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrForbidden         = errors.New("session belongs to another user")
	ErrPaymentDeclined   = errors.New("payment declined")
	ErrPaymentRetryable  = errors.New("payment temporarily failed")
	ErrPaymentUnknown    = errors.New("payment outcome unknown")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ErrorKind is the stable, transport-independent classification of a failure
type ErrorKind string

const (
	ErrorKindConflict          ErrorKind = "conflict"
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindNoAvailability    ErrorKind = "no_availability"
	ErrorKindInvalidTransition ErrorKind = "invalid_transition"
	ErrorKindForbidden         ErrorKind = "forbidden"
	ErrorKindPaymentDeclined   ErrorKind = "payment_declined"
	ErrorKindPaymentRetryable  ErrorKind = "payment_retryable"
	ErrorKindPaymentUnknown    ErrorKind = "payment_unknown"
	ErrorKindInvalidRequest    ErrorKind = "invalid_request"
	ErrorKindInternal          ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, ErrorKindNotFound},
	{ErrConflict, ErrorKindConflict},
	{ErrNoAvailability, ErrorKindNoAvailability},
	{ErrInvalidTransition, ErrorKindInvalidTransition},
	{ErrForbidden, ErrorKindForbidden},
	{ErrPaymentDeclined, ErrorKindPaymentDeclined},
	{ErrPaymentRetryable, ErrorKindPaymentRetryable},
	{ErrPaymentUnknown, ErrorKindPaymentUnknown},
	{ErrInvalidRequest, ErrorKindInvalidRequest},
}

// KindOf maps err onto its stable kind
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ErrorKindInternal
}
