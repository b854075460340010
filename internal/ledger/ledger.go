// Package ledger is the append-only, user-scoped history of finalized sessions.
// Records are never updated or deleted; corrections are new compensating records.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/shopspring/decimal"
)

// Store persists records. Append is create-if-absent on EntryKey: a retried append
// returns the stored record and created=false. Page returns records of userID with
// ID < before (all when before is 0), newest first.
// Compensate holds the original record of userID locked while it replays an existing entryKey
// or hands apply the original and the amount already compensated against it, then writes
// the record apply returns. Nothing is written when apply fails.
type Store interface {
	Append(ctx context.Context, rec models.TransactionRecord) (*models.TransactionRecord, bool, error)
	Page(ctx context.Context, userID string, before int64, limit int) ([]models.TransactionRecord, error)
	Get(ctx context.Context, userID string, id int64) (*models.TransactionRecord, error)
	Compensate(ctx context.Context, userID string, originalID int64, entryKey string, apply ApplyFunc) (*models.TransactionRecord, bool, error)
}

// ErrDuplicateID is returned by a Store when a record id is already taken by another entry
var ErrDuplicateID = errors.New("ledger id already taken")

// idAttempts bounds how often a colliding snowflake id is regenerated
const idAttempts = 3

// ApplyFunc builds the compensating record for orig; compensated is positive
type ApplyFunc func(ctx context.Context, orig models.TransactionRecord, compensated decimal.Decimal) (models.TransactionRecord, error)

// Refunder returns the money behind a compensation to the customer
type Refunder interface {
	Refund(ctx context.Context, req models.RefundPaymentRequest) (*models.RefundResult, error)
}

// Ledger stamps ids and timestamps and enforces compensation rules over a Store
type Ledger struct {
	store   Store
	node    *snowflake.Node
	refunds Refunder
	now     func() time.Time
}

// New creates a ledger issuing ids from node
func New(store Store, node *snowflake.Node) *Ledger {
	return &Ledger{store: store, node: node, now: time.Now}
}

// WithRefunds lets the ledger compensate charges, moving the money through r
func (l *Ledger) WithRefunds(r Refunder) *Ledger {
	l.refunds = r
	return l
}

// Append writes rec once per EntryKey
func (l *Ledger) Append(ctx context.Context, rec models.TransactionRecord) (*models.TransactionRecord, bool, error) {
	if rec.EntryKey == "" || rec.UserID == "" {
		return nil, false, fmt.Errorf("%w: entry key and user are required", models.ErrInvalidRequest)
	}
	if rec.Kind == "" {
		rec.Kind = models.TransactionKindCharge
	}

	for i := 1; ; i++ {
		rec.ID = l.node.Generate().Int64()
		rec.CreatedAt = l.now().UTC()
		stored, created, err := l.store.Append(ctx, rec)
		if errors.Is(err, ErrDuplicateID) && i < idAttempts {
			continue
		}
		return stored, created, err
	}
}

// ChargeEntryKey is the entry key of a session's charge record
func ChargeEntryKey(sessionID string) string {
	return "session:" + sessionID
}

// CompensationEntryKey is the entry key of a compensation; it doubles as the refund's idempotency key
func CompensationEntryKey(originalID int64, key string) string {
	return fmt.Sprintf("compensation:%d:%s", originalID, key)
}

// Compensate refunds part of a succeeded charge and appends the negative record. key makes
// retries safe, and the total compensated can never exceed the original amount.
func (l *Ledger) Compensate(ctx context.Context, userID string, originalID int64, key string, req models.RefundRequest) (*models.TransactionRecord, bool, error) {
	if key == "" || !req.Amount.IsPositive() {
		return nil, false, fmt.Errorf("%w: refund needs a key and a positive amount", models.ErrInvalidRequest)
	}
	if l.refunds == nil {
		return nil, false, errors.New("refunds are not configured")
	}

	entryKey := CompensationEntryKey(originalID, key)
	for i := 1; ; i++ {
		rec, created, err := l.compensate(ctx, userID, originalID, entryKey, req)
		if errors.Is(err, ErrDuplicateID) && i < idAttempts {
			continue
		}
		return rec, created, err
	}
}

// compensate is one locked attempt; a retry after an id collision reuses the refund's idempotency key
func (l *Ledger) compensate(ctx context.Context, userID string, originalID int64, entryKey string, req models.RefundRequest) (*models.TransactionRecord, bool, error) {
	return l.store.Compensate(ctx, userID, originalID, entryKey, func(ctx context.Context, orig models.TransactionRecord, compensated decimal.Decimal) (models.TransactionRecord, error) {
		if orig.Kind != models.TransactionKindCharge || orig.PaymentStatus != models.PaymentStatusSucceeded || orig.ChargeID == "" {
			return models.TransactionRecord{}, fmt.Errorf("%w: record %d is not a settled charge", models.ErrInvalidRequest, originalID)
		}
		if compensated.Add(req.Amount).GreaterThan(orig.Amount) {
			return models.TransactionRecord{}, fmt.Errorf("%w: refund exceeds remaining %s", models.ErrInvalidRequest, orig.Amount.Sub(compensated).StringFixed(2))
		}

		res, err := l.refunds.Refund(ctx, models.RefundPaymentRequest{
			ChargeID:       orig.ChargeID,
			Amount:         req.Amount,
			Currency:       orig.Currency,
			IdempotencyKey: entryKey,
			Reason:         req.Reason,
		})
		if err != nil {
			return models.TransactionRecord{}, fmt.Errorf("failed to refund charge %s: %w", orig.ChargeID, err)
		}

		rec := orig
		rec.ID = l.node.Generate().Int64()
		rec.CreatedAt = l.now().UTC()
		rec.EntryKey = entryKey
		rec.Kind = models.TransactionKindCompensation
		rec.Amount = req.Amount.Neg()
		rec.Corrects = originalID
		rec.Reason = req.Reason
		rec.RefundID = res.RefundID
		return rec, nil
	})
}

// List returns a lazy, restartable, newest-first iterator over userID's records.
// cursor is the value of a previous Iterator.Cursor, or empty to start at the newest record.
func (l *Ledger) List(userID, cursor string, pageSize int) *Iterator {
	before, err := ParseCursor(cursor)
	return &Iterator{store: l.store, userID: userID, before: before, size: pageSize, err: err, done: err != nil}
}

// History reads one page, optionally keeping only records whose session ended in status
func (l *Ledger) History(ctx context.Context, userID, cursor string, limit int, status models.SessionStatus) (*models.HistoryPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	it := l.List(userID, cursor, limit)
	page := &models.HistoryPage{Records: make([]models.TransactionRecord, 0, limit)}
	for len(page.Records) < limit && it.Next(ctx) {
		r := it.Record()
		if status != "" && r.SessionStatus != status {
			continue
		}
		page.Records = append(page.Records, r)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(page.Records) == limit {
		page.NextCursor = it.Cursor()
	}
	return page, nil
}

// ParseCursor decodes an iterator cursor
func ParseCursor(cursor string) (int64, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}
	id, err := snowflake.ParseString(cursor)
	if err != nil || id.Int64() <= 0 {
		return 0, fmt.Errorf("%w: bad cursor %q", models.ErrInvalidRequest, cursor)
	}
	return id.Int64(), nil
}
