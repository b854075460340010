package payment

import (
	"errors"
	"net"
)

// Classify maps a processor call error to its bucket. Anything without a definitive answer
// is unknown and has to be resolved by lookup before another submission.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.Class
	}

	// a failed dial never reached the processor
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ClassRetryable
	}

	return ClassUnknown
}

// Reason extracts a user-facing reason from err
func Reason(err error) string {
	var pe *ProcessorError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
