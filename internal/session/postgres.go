package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// PostgresStore persists sessions in the sessions table
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Save upserts s unless a newer snapshot is already stored
func (r *PostgresStore) Save(ctx context.Context, s *models.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, user_id, customer_ref, structure_id, floor_id, spot_id, rate, currency, payout_account,
			status, reserved_at, start_time, stop_requested_at, end_time, last_heartbeat,
			cost, amount_due, idempotency_key, payment_attempts, finalize_reason, failure_kind, failure_reason, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			stop_requested_at = EXCLUDED.stop_requested_at,
			end_time = EXCLUDED.end_time,
			last_heartbeat = EXCLUDED.last_heartbeat,
			cost = EXCLUDED.cost,
			amount_due = EXCLUDED.amount_due,
			idempotency_key = EXCLUDED.idempotency_key,
			payment_attempts = EXCLUDED.payment_attempts,
			finalize_reason = EXCLUDED.finalize_reason,
			failure_kind = EXCLUDED.failure_kind,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at
		WHERE sessions.updated_at <= EXCLUDED.updated_at
	`,
		s.ID, s.UserID, s.CustomerRef, s.Spot.StructureID, s.Spot.FloorID, s.Spot.SpotID,
		s.Rate.String(), s.Currency, s.PayoutAccount,
		s.Status, s.ReservedAt, s.StartTime, s.StopRequestedAt, s.EndTime, s.LastHeartbeat,
		nullDecimalText(s.Cost), nullDecimalText(s.AmountDue), s.IdempotencyKey,
		s.PaymentAttempts, s.FinalizeReason, s.FailureKind, s.FailureReason, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var (
		s               models.Session
		rate            string
		cost, amountDue null.String
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, customer_ref, structure_id, floor_id, spot_id, rate::text, currency, payout_account,
		       status, reserved_at, start_time, stop_requested_at, end_time, last_heartbeat,
		       cost::text, amount_due::text, idempotency_key, payment_attempts, finalize_reason, failure_kind, failure_reason, updated_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.UserID, &s.CustomerRef, &s.Spot.StructureID, &s.Spot.FloorID, &s.Spot.SpotID,
		&rate, &s.Currency, &s.PayoutAccount,
		&s.Status, &s.ReservedAt, &s.StartTime, &s.StopRequestedAt, &s.EndTime, &s.LastHeartbeat,
		&cost, &amountDue, &s.IdempotencyKey, &s.PaymentAttempts, &s.FinalizeReason, &s.FailureKind, &s.FailureReason, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if s.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("invalid rate on session %s: %w", id, err)
	}
	if s.Cost, err = parseNullDecimal(cost); err != nil {
		return nil, fmt.Errorf("invalid cost on session %s: %w", id, err)
	}
	if s.AmountDue, err = parseNullDecimal(amountDue); err != nil {
		return nil, fmt.Errorf("invalid amount due on session %s: %w", id, err)
	}
	return &s, nil
}

func nullDecimalText(d decimal.NullDecimal) null.String {
	if !d.Valid {
		return null.String{}
	}
	return null.StringFrom(d.Decimal.String())
}

func parseNullDecimal(s null.String) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
