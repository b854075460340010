package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrChargeNotFound is returned by GetCharge when no charge exists for the key
var ErrChargeNotFound = errors.New("charge not found")

// ChargeRequest is what the gateway submits to the external processor
type ChargeRequest struct {
	SessionID      string
	Amount         decimal.Decimal
	Currency       string
	CustomerRef    string
	IdempotencyKey string
	ApplicationFee decimal.Decimal
	Destination    string
	Description    string
}

type ChargeStatus string

const (
	ChargeSucceeded  ChargeStatus = "succeeded"
	ChargeFailed     ChargeStatus = "failed"
	ChargeProcessing ChargeStatus = "processing"
)

// Charge is the processor's view of one charge
type Charge struct {
	ID            string
	Status        ChargeStatus
	FailureReason string
}

// RefundRequest returns money from an existing charge
type RefundRequest struct {
	ChargeID       string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reason         string
}

type RefundStatus string

const (
	RefundSucceeded  RefundStatus = "succeeded"
	RefundFailed     RefundStatus = "failed"
	RefundProcessing RefundStatus = "processing"
)

// Refund is the processor's view of one refund
type Refund struct {
	ID            string
	Status        RefundStatus
	FailureReason string
}

// Processor is the external payment processor.
// CreateCharge and CreateRefund must themselves honour IdempotencyKey; GetCharge looks a charge up by the same key.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, idempotencyKey string) (*Charge, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// Class buckets processor failures
type Class string

const (
	// ClassRetryable failures happened before a charge could exist: rate limiting,
	// connection refused, processor internal errors answered with a response
	ClassRetryable Class = "retryable"
	// ClassDeclined failures are final: card declined, authentication, invalid request
	ClassDeclined Class = "declined"
	// ClassUnknown means no definitive answer arrived; a charge may or may not exist
	ClassUnknown Class = "unknown"
)

// ProcessorError is a classified processor failure
type ProcessorError struct {
	Class   Class
	Code    string
	Message string
	Err     error
}

func (e *ProcessorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}
