// Package pricing supplies the per-minute rate of a floor at assignment time.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Quote is the pricing captured when a session is reserved
type Quote struct {
	Rate          decimal.Decimal `json:"rate"`
	Currency      string          `json:"currency"`
	PayoutAccount string          `json:"payoutAccount,omitempty"`
}

// Source is a read-only rate lookup
type Source interface {
	Quote(ctx context.Context, structureID, floorID string) (Quote, error)
}

// Static returns the same quote everywhere
type Static struct {
	Default Quote
}

func (s Static) Quote(context.Context, string, string) (Quote, error) {
	return s.Default, nil
}

// PostgresSource reads floor_rates, falling back from the floor row to the structure row
// (floor_id = '') and then to Default
type PostgresSource struct {
	pool    *pgxpool.Pool
	Default Quote
}

func NewPostgresSource(pool *pgxpool.Pool, def Quote) *PostgresSource {
	return &PostgresSource{pool: pool, Default: def}
}

func (p *PostgresSource) Quote(ctx context.Context, structureID, floorID string) (Quote, error) {
	query := `
		SELECT rate_per_minute::text, currency, payout_account
		FROM floor_rates
		WHERE structure_id = $1 AND floor_id IN ($2, '')
		ORDER BY floor_id DESC
		LIMIT 1
	`

	var (
		q    Quote
		rate string
	)
	err := p.pool.QueryRow(ctx, query, structureID, floorID).Scan(&rate, &q.Currency, &q.PayoutAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p.Default, nil
		}
		return Quote{}, fmt.Errorf("failed to get rate: %w", err)
	}

	q.Rate, err = decimal.NewFromString(rate)
	if err != nil {
		return Quote{}, fmt.Errorf("invalid rate %q for %s/%s: %w", rate, structureID, floorID, err)
	}
	return q, nil
}
