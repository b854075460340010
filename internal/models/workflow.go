package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionPolicy bounds how long a session may sit in each state
type SessionPolicy struct {
	ReservationHold    time.Duration `json:"reservationHold"`
	HeartbeatGrace     time.Duration `json:"heartbeatGrace"`
	MaxDuration        time.Duration `json:"maxDuration"`
	ConfirmWindow      time.Duration `json:"confirmWindow"`
	MaxPaymentAttempts int           `json:"maxPaymentAttempts"`
}

// DefaultSessionPolicy is used when no policy is configured
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		ReservationHold:    15 * time.Minute,
		HeartbeatGrace:     15 * time.Minute,
		MaxDuration:        24 * time.Hour,
		ConfirmWindow:      5 * time.Minute,
		MaxPaymentAttempts: 3,
	}
}

// SessionWorkflowInput starts the lifecycle of an already reserved session
type SessionWorkflowInput struct {
	Session Session       `json:"session"`
	Policy  SessionPolicy `json:"policy"`
}

// Signals for workflow communication
const (
	SignalStartSession   = "start_session"
	SignalHeartbeat      = "heartbeat"
	SignalStopSession    = "stop_session"
	SignalCancelSession  = "cancel_session"
	SignalConfirmPayment = "confirm_payment"
)

// HeartbeatSignal carries the device that reported liveness
type HeartbeatSignal struct {
	Source string `json:"source,omitempty"`
}

// Queries for workflow state
const (
	QueryGetSession = "get_session"
)

// Activity inputs and results

type ReleaseSpotInput struct {
	SessionID string  `json:"sessionId"`
	Spot      SpotRef `json:"spot"`
}

type CapturePaymentResult struct {
	Outcome  CaptureOutcome `json:"outcome"`
	ChargeID string         `json:"chargeId,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type RecordTransactionInput struct {
	Session       Session         `json:"session"`
	Minutes       int64           `json:"minutes"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	ChargeID      string          `json:"chargeId,omitempty"`
}

// SessionEvent is published when a session reaches a terminal state
type SessionEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	UserID     string          `json:"userId"`
	Spot       SpotRef         `json:"spot"`
	Status     SessionStatus   `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ChargeID   string          `json:"chargeId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

const SessionEventFinalized = "parking.session.finalized"
