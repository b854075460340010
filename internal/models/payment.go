package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// Payment is the idempotency ledger entry of one capture
type Payment struct {
	IdempotencyKey    string          `json:"idempotencyKey"`
	SessionID         string          `json:"sessionId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"status"`
	ProcessorChargeID null.String     `json:"processorChargeId"`
	FailureReason     string          `json:"failureReason,omitempty"`
	Attempts          int             `json:"attempts"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// CaptureOutcome classifies the result of a capture call
type CaptureOutcome string

const (
	CaptureSucceeded CaptureOutcome = "succeeded"
	CaptureDeclined  CaptureOutcome = "declined"
	CaptureRetryable CaptureOutcome = "retryable"
)

// CaptureRequest asks the gateway to charge a session
type CaptureRequest struct {
	SessionID      string          `json:"sessionId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CustomerRef    string          `json:"customerRef"`
	PayoutAccount  string          `json:"payoutAccount,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// CaptureResult is the single observable outcome for an idempotency key
type CaptureResult struct {
	Outcome  CaptureOutcome `json:"outcome"`
	ChargeID string         `json:"chargeId,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Payment  *Payment       `json:"payment,omitempty"`
}

// RefundPaymentRequest returns part or all of a captured charge to the customer
type RefundPaymentRequest struct {
	ChargeID       string          `json:"chargeId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Reason         string          `json:"reason,omitempty"`
}

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundPending   RefundStatus = "pending"
)

// RefundResult is the processor's acceptance of a refund
type RefundResult struct {
	RefundID string       `json:"refundId"`
	Status   RefundStatus `json:"status"`
}
