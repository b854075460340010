package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is an immutable ledger entry for a finalized session
type TransactionRecord struct {
	ID             int64           `json:"id,string"`
	EntryKey       string          `json:"entryKey"`
	Kind           TransactionKind `json:"kind"`
	UserID         string          `json:"userId"`
	SessionID      string          `json:"sessionId"`
	Spot           SpotRef         `json:"spot"`
	Rate           decimal.Decimal `json:"rate"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime"`
	Minutes        int64           `json:"minutes"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	SessionStatus  SessionStatus   `json:"sessionStatus"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	ChargeID       string          `json:"chargeId,omitempty"`
	RefundID       string          `json:"refundId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Corrects       int64           `json:"corrects,omitempty,string"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type TransactionKind string

const (
	TransactionKindCharge       TransactionKind = "charge"
	TransactionKindCompensation TransactionKind = "compensation"
)

// RefundRequest asks for a compensating record against a charge
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// HistoryPage is one page of a user's ledger, most recent first
type HistoryPage struct {
	Records    []TransactionRecord `json:"records"`
	NextCursor string              `json:"nextCursor,omitempty"`
}
