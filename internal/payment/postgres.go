package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const paymentColumns = `idempotency_key, session_id, amount::text, currency, status, processor_charge_id,
	failure_reason, attempts, created_at, updated_at`

// PostgresStore keeps the idempotency ledger in the payments table
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Begin relies on the primary key to make concurrent first calls agree on one row
func (r *PostgresStore) Begin(ctx context.Context, p models.Payment) (*models.Payment, bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (idempotency_key, session_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
	`, p.IdempotencyKey, p.SessionID, p.Amount.String(), p.Currency, models.PaymentStatusPending)

	created := true
	if err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return nil, false, fmt.Errorf("failed to begin payment: %w", err)
		}
		created = false
	}

	stored, err := r.Get(ctx, p.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *PostgresStore) Settle(ctx context.Context, key string, status models.PaymentStatus, chargeID, reason string, attempts int) (*models.Payment, error) {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2, processor_charge_id = NULLIF($3, ''), failure_reason = $4, attempts = $5, updated_at = NOW()
		WHERE idempotency_key = $1 AND status = 'pending'
	`, key, status, chargeID, reason, attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}
	return r.Get(ctx, key)
}

func (r *PostgresStore) Get(ctx context.Context, key string) (*models.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p      models.Payment
		amount string
	)
	err := row.Scan(
		&p.IdempotencyKey, &p.SessionID, &amount, &p.Currency, &p.Status, &p.ProcessorChargeID,
		&p.FailureReason, &p.Attempts, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount on payment %s: %w", p.IdempotencyKey, err)
	}
	return &p, nil
}
