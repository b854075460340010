package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// Session is one user's use of one spot from claim to release
type Session struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	CustomerRef     string              `json:"customerRef,omitempty"`
	Spot            SpotRef             `json:"spot"`
	Rate            decimal.Decimal     `json:"rate"`
	Currency        string              `json:"currency"`
	PayoutAccount   string              `json:"payoutAccount,omitempty"`
	Status          SessionStatus       `json:"status"`
	ReservedAt      time.Time           `json:"reservedAt"`
	StartTime       time.Time           `json:"startTime"`
	StopRequestedAt null.Time           `json:"stopRequestedAt"`
	EndTime         null.Time           `json:"endTime"`
	LastHeartbeat   time.Time           `json:"lastHeartbeat"`
	Cost            decimal.NullDecimal `json:"cost"`
	AmountDue       decimal.NullDecimal `json:"amountDue"`
	IdempotencyKey  null.String         `json:"idempotencyKey"`
	PaymentAttempts int                 `json:"paymentAttempts"`
	FinalizeReason  FinalizeReason      `json:"finalizeReason,omitempty"`
	FailureKind     ErrorKind           `json:"failureKind,omitempty"`
	FailureReason   string              `json:"failureReason,omitempty"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusReserved   SessionStatus = "reserved"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusFinalizing SessionStatus = "finalizing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusExpired    SessionStatus = "expired"
)

// Terminal reports whether no further transition is possible
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusExpired:
		return true
	}
	return false
}

// FinalizeReason records what moved an active session into finalizing
type FinalizeReason string

const (
	FinalizeReasonStop        FinalizeReason = "stop"
	FinalizeReasonCancel      FinalizeReason = "cancel"
	FinalizeReasonMaxDuration FinalizeReason = "max_duration"
)

// RequestSessionRequest asks for a spot to be assigned and a session reserved on it
type RequestSessionRequest struct {
	Organization string   `json:"organization"`
	StructureID  string   `json:"structureId"`
	FloorID      string   `json:"floorId,omitempty"`
	Type         SpotType `json:"type,omitempty"`
	CustomerRef  string   `json:"customerRef,omitempty"`
}

// Criteria extracts the assignment criteria of the request
func (r RequestSessionRequest) Criteria() AssignmentCriteria {
	return AssignmentCriteria{
		Organization: r.Organization,
		StructureID:  r.StructureID,
		FloorID:      r.FloorID,
		Type:         r.Type,
	}
}

// SessionEstimate is the projected cost of a running session
type SessionEstimate struct {
	SessionID string          `json:"sessionId"`
	Until     time.Time       `json:"until"`
	Minutes   int64           `json:"minutes"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}
