package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/cx-tal-miterani/parking-session-system/internal/events"
	"github.com/cx-tal-miterani/parking-session-system/internal/ledger"
	"github.com/cx-tal-miterani/parking-session-system/internal/metrics"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/cx-tal-miterani/parking-session-system/internal/occupancy"
	"github.com/cx-tal-miterani/parking-session-system/internal/session"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Application error types surfaced to the session workflow
const (
	ErrTypePaymentDeclined  = "PaymentDeclined"
	ErrTypePaymentRetryable = "PaymentRetryable"
	ErrTypeInvalidPayment   = "InvalidPayment"
)

// Capturer is the payment capture gateway
type Capturer interface {
	Capture(ctx context.Context, req models.CaptureRequest) (*models.CaptureResult, error)
	Resolve(ctx context.Context, key string) (*models.CaptureResult, error)
}

// Recorder appends to the transaction ledger
type Recorder interface {
	Append(ctx context.Context, rec models.TransactionRecord) (*models.TransactionRecord, bool, error)
}

// Activities are the side effects of the session workflow
type Activities struct {
	Spots    occupancy.Store
	Sessions session.Store
	Payments Capturer
	Ledger   Recorder
	Events   events.Publisher
}

// SaveSession persists a session snapshot
func (a *Activities) SaveSession(ctx context.Context, s models.Session) error {
	return a.Sessions.Save(ctx, &s)
}

// ReleaseSpot frees the session's spot through the CAS release path
func (a *Activities) ReleaseSpot(ctx context.Context, in models.ReleaseSpotInput) (bool, error) {
	logger := activity.GetLogger(ctx)

	released, err := occupancy.ReleaseFor(ctx, a.Spots, in.Spot, in.SessionID, occupancy.DefaultReleaseAttempts)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Warn("Spot vanished before release", "sessionID", in.SessionID, "spot", in.Spot.String())
			return false, nil
		}
		return false, err
	}

	logger.Info("Spot release", "sessionID", in.SessionID, "spot", in.Spot.String(), "released", released)
	return released, nil
}

// CapturePayment charges the session once per idempotency key.
// Declines fail without retry; retryable outcomes fail so the activity retry policy backs off.
func (a *Activities) CapturePayment(ctx context.Context, req models.CaptureRequest) (*models.CapturePaymentResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Capturing payment", "sessionID", req.SessionID, "amount", req.Amount.StringFixed(2), "key", req.IdempotencyKey)

	res, err := a.Payments.Capture(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidPayment, err)
		}
		return nil, fmt.Errorf("failed to capture payment: %w", err)
	}

	switch res.Outcome {
	case models.CaptureSucceeded:
		logger.Info("Payment captured", "sessionID", req.SessionID, "chargeID", res.ChargeID)
		return &models.CapturePaymentResult{Outcome: res.Outcome, ChargeID: res.ChargeID}, nil
	case models.CaptureDeclined:
		logger.Warn("Payment declined", "sessionID", req.SessionID, "reason", res.Reason)
		return nil, temporal.NewNonRetryableApplicationError(res.Reason, ErrTypePaymentDeclined, nil)
	default:
		logger.Warn("Payment not settled", "sessionID", req.SessionID, "reason", res.Reason)
		return nil, temporal.NewApplicationError(res.Reason, ErrTypePaymentRetryable)
	}
}

// ResolvePayment settles a pending payment by lookup alone. A payment still pending fails
// retryably so the activity retry policy gives the processor time.
func (a *Activities) ResolvePayment(ctx context.Context, key string) (*models.CapturePaymentResult, error) {
	logger := activity.GetLogger(ctx)

	res, err := a.Payments.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError("no payment for key "+key, ErrTypeInvalidPayment, err)
		}
		return nil, fmt.Errorf("failed to resolve payment: %w", err)
	}

	logger.Info("Payment resolution", "key", key, "outcome", res.Outcome, "reason", res.Reason)
	if res.Outcome == models.CaptureRetryable {
		return nil, temporal.NewApplicationError(res.Reason, ErrTypePaymentRetryable)
	}
	return &models.CapturePaymentResult{Outcome: res.Outcome, ChargeID: res.ChargeID, Reason: res.Reason}, nil
}

// RecordTransaction appends the session's charge record; retries land on the same entry
func (a *Activities) RecordTransaction(ctx context.Context, in models.RecordTransactionInput) (int64, error) {
	s := in.Session
	rec := models.TransactionRecord{
		EntryKey:       ledger.ChargeEntryKey(s.ID),
		Kind:           models.TransactionKindCharge,
		UserID:         s.UserID,
		SessionID:      s.ID,
		Spot:           s.Spot,
		Rate:           s.Rate,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime.Time,
		Minutes:        in.Minutes,
		Amount:         in.Amount,
		Currency:       s.Currency,
		SessionStatus:  s.Status,
		PaymentStatus:  in.PaymentStatus,
		ChargeID:       in.ChargeID,
		IdempotencyKey: s.IdempotencyKey.String,
	}

	stored, created, err := a.Ledger.Append(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}
	activity.GetLogger(ctx).Info("Transaction recorded", "sessionID", s.ID, "recordID", stored.ID, "created", created)
	return stored.ID, nil
}

// PublishSessionEvent announces a terminal session
func (a *Activities) PublishSessionEvent(ctx context.Context, event models.SessionEvent) error {
	if err := a.Events.PublishSessionEvent(ctx, event); err != nil {
		return err
	}
	metrics.SessionsFinalized.WithLabelValues(string(event.Status)).Inc()
	return nil
}
