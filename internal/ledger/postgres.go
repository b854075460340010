package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const recordColumns = `id, entry_key, kind, user_id, session_id, structure_id, floor_id, spot_id,
	rate::text, start_time, end_time, minutes, amount::text, currency, session_status, payment_status,
	charge_id, refund_id, idempotency_key, corrects, reason, created_at`

// PostgresStore keeps the ledger in the ledger_entries table, which has no UPDATE or DELETE path
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRecord(ctx context.Context, db execer, rec models.TransactionRecord) (pgconn.CommandTag, error) {
	return db.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, entry_key, kind, user_id, session_id, structure_id, floor_id, spot_id,
			rate, start_time, end_time, minutes, amount, currency, session_status, payment_status,
			charge_id, refund_id, idempotency_key, corrects, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (entry_key) DO NOTHING
	`,
		rec.ID, rec.EntryKey, rec.Kind, rec.UserID, rec.SessionID,
		rec.Spot.StructureID, rec.Spot.FloorID, rec.Spot.SpotID,
		rec.Rate.String(), rec.StartTime, rec.EndTime, rec.Minutes, rec.Amount.String(), rec.Currency,
		rec.SessionStatus, rec.PaymentStatus, rec.ChargeID, rec.RefundID, rec.IdempotencyKey, rec.Corrects, rec.Reason, rec.CreatedAt,
	)
}

// idTaken reports a primary key collision, as opposed to a replayed entry key
func idTaken(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "ledger_entries_pkey"
}

func (r *PostgresStore) Append(ctx context.Context, rec models.TransactionRecord) (*models.TransactionRecord, bool, error) {
	tag, err := insertRecord(ctx, r.pool, rec)
	if err != nil {
		if idTaken(err) {
			return nil, false, fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID)
		}
		return nil, false, fmt.Errorf("failed to append ledger record: %w", err)
	}

	stored, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM ledger_entries WHERE entry_key = $1`, rec.EntryKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ledger record: %w", err)
	}
	return stored, tag.RowsAffected() == 1, nil
}

// Compensate serializes compensations of one charge on a row lock of the original
func (r *PostgresStore) Compensate(ctx context.Context, userID string, originalID int64, entryKey string, apply ApplyFunc) (*models.TransactionRecord, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin compensation: %w", err)
	}
	defer tx.Rollback(ctx)

	orig, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM ledger_entries WHERE user_id = $1 AND id = $2 FOR UPDATE`, userID, originalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, models.ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to lock ledger record: %w", err)
	}

	existing, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM ledger_entries WHERE entry_key = $1`, entryKey))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to read ledger record: %w", err)
	}

	var sum string
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(-amount), 0)::text FROM ledger_entries WHERE corrects = $1`, originalID).Scan(&sum)
	if err != nil {
		return nil, false, fmt.Errorf("failed to sum compensations: %w", err)
	}
	compensated, err := decimal.NewFromString(sum)
	if err != nil {
		return nil, false, err
	}

	rec, err := apply(ctx, *orig, compensated)
	if err != nil {
		return nil, false, err
	}
	if _, err := insertRecord(ctx, tx, rec); err != nil {
		if idTaken(err) {
			return nil, false, fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID)
		}
		return nil, false, fmt.Errorf("failed to append compensation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit compensation: %w", err)
	}
	return &rec, true, nil
}

func (r *PostgresStore) Page(ctx context.Context, userID string, before int64, limit int) ([]models.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ledger_entries
		WHERE user_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
		ORDER BY id DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	records := make([]models.TransactionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *PostgresStore) Get(ctx context.Context, userID string, id int64) (*models.TransactionRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM ledger_entries WHERE user_id = $1 AND id = $2`, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*models.TransactionRecord, error) {
	var (
		rec          models.TransactionRecord
		rate, amount string
	)
	err := row.Scan(
		&rec.ID, &rec.EntryKey, &rec.Kind, &rec.UserID, &rec.SessionID,
		&rec.Spot.StructureID, &rec.Spot.FloorID, &rec.Spot.SpotID,
		&rate, &rec.StartTime, &rec.EndTime, &rec.Minutes, &amount, &rec.Currency,
		&rec.SessionStatus, &rec.PaymentStatus, &rec.ChargeID, &rec.RefundID, &rec.IdempotencyKey, &rec.Corrects, &rec.Reason, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &rec, nil
}
