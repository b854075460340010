// Package session owns the per-session state machine.
//
//	idle -> reserved -> active -> finalizing -> completed | cancelled | expired
//
// Besides the main path, reserved may expire or be cancelled before billing starts,
// active may expire on heartbeat loss, and finalizing may be cancelled (charge waived)
// or expire when payment cannot be recovered. Requests against a terminal session are
// no-ops reporting the terminal status.
package session

import (
	"fmt"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/pricing"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionStatusIdle:       {models.SessionStatusReserved},
	models.SessionStatusReserved:   {models.SessionStatusActive, models.SessionStatusExpired, models.SessionStatusCancelled},
	models.SessionStatusActive:     {models.SessionStatusFinalizing, models.SessionStatusExpired},
	models.SessionStatusFinalizing: {models.SessionStatusCompleted, models.SessionStatusCancelled, models.SessionStatusExpired},
}

// CanTransition reports whether from -> to is an edge of the state machine
func CanTransition(from, to models.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// New creates an idle session
func New(id, userID string) *models.Session {
	return &models.Session{ID: id, UserID: userID, Status: models.SessionStatusIdle}
}

// move applies from -> to; a terminal session reports (false, nil) and is left untouched
func move(s *models.Session, to models.SessionStatus, at time.Time) (bool, error) {
	if s.Status.Terminal() {
		return false, nil
	}
	if !CanTransition(s.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = at
	return true, nil
}

// Reserve binds the session to a claimed spot. StartTime is tentative until Activate.
func Reserve(s *models.Session, spot models.SpotRef, quote pricing.Quote, at time.Time) (bool, error) {
	ok, err := move(s, models.SessionStatusReserved, at)
	if !ok || err != nil {
		return ok, err
	}
	s.Spot = spot
	s.Rate = quote.Rate
	s.Currency = quote.Currency
	s.PayoutAccount = quote.PayoutAccount
	s.ReservedAt = at
	s.StartTime = at
	s.LastHeartbeat = at
	return true, nil
}

// Activate starts the billing clock at the server's time
func Activate(s *models.Session, at time.Time) (bool, error) {
	ok, err := move(s, models.SessionStatusActive, at)
	if !ok || err != nil {
		return ok, err
	}
	s.StartTime = at
	s.LastHeartbeat = at
	return true, nil
}

// Heartbeat records liveness; it never changes status
func Heartbeat(s *models.Session, at time.Time) {
	if s.Status.Terminal() || at.Before(s.LastHeartbeat) {
		return
	}
	s.LastHeartbeat = at
}

// BeginFinalize freezes the billed interval at at
func BeginFinalize(s *models.Session, reason models.FinalizeReason, at time.Time) (bool, error) {
	ok, err := move(s, models.SessionStatusFinalizing, at)
	if !ok || err != nil {
		return ok, err
	}
	s.StopRequestedAt = null.TimeFrom(at)
	s.FinalizeReason = reason
	return true, nil
}

// SetAmountDue records the computed total while the session awaits capture
func SetAmountDue(s *models.Session, amount decimal.Decimal, idempotencyKey string) {
	s.AmountDue = decimal.NewNullDecimal(amount)
	s.IdempotencyKey = null.StringFrom(idempotencyKey)
}

// Complete closes a paid session; cost is the captured amount
func Complete(s *models.Session, cost decimal.Decimal, at time.Time) (bool, error) {
	ok, err := move(s, models.SessionStatusCompleted, at)
	if !ok || err != nil {
		return ok, err
	}
	s.EndTime = null.TimeFrom(s.StopRequestedAt.Time)
	s.Cost = decimal.NewNullDecimal(cost)
	return true, nil
}

// Cancel closes the session without a charge
func Cancel(s *models.Session, at time.Time) (bool, error) {
	ok, err := move(s, models.SessionStatusCancelled, at)
	if !ok || err != nil {
		return ok, err
	}
	if s.StopRequestedAt.Valid {
		s.EndTime = null.TimeFrom(s.StopRequestedAt.Time)
	} else {
		s.EndTime = null.TimeFrom(at)
	}
	return true, nil
}

// Expire closes the session on timeout. The billed interval ends at the last heartbeat
// for an active session, or at the stop request for a session already finalizing.
func Expire(s *models.Session, reason string, at time.Time) (bool, error) {
	from := s.Status
	ok, err := move(s, models.SessionStatusExpired, at)
	if !ok || err != nil {
		return ok, err
	}
	switch from {
	case models.SessionStatusActive:
		s.EndTime = null.TimeFrom(s.LastHeartbeat)
	case models.SessionStatusFinalizing:
		s.EndTime = null.TimeFrom(s.StopRequestedAt.Time)
	default:
		s.EndTime = null.TimeFrom(at)
	}
	s.FailureReason = reason
	return true, nil
}
