package occupancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const spotColumns = `structure_id, floor_id, spot_id, organization, spot_type, occupied, reserved_by, version, updated_at`

// PostgresStore keeps spots in the spots table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) Get(ctx context.Context, ref models.SpotRef) (*models.Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots WHERE structure_id = $1 AND floor_id = $2 AND spot_id = $3`

	spot, err := scanSpot(r.pool.QueryRow(ctx, query, ref.StructureID, ref.FloorID, ref.SpotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get spot: %w", err)
	}
	return spot, nil
}

// Claim marks the spot occupied by sessionID only if it is free and still at expectedVersion
func (r *PostgresStore) Claim(ctx context.Context, ref models.SpotRef, sessionID string, expectedVersion int64) (int64, error) {
	query := `
		UPDATE spots
		SET occupied = TRUE, reserved_by = $4, version = version + 1, updated_at = NOW()
		WHERE structure_id = $1 AND floor_id = $2 AND spot_id = $3
		  AND version = $5 AND NOT occupied
		RETURNING version
	`

	var version int64
	err := r.pool.QueryRow(ctx, query, ref.StructureID, ref.FloorID, ref.SpotID, sessionID, expectedVersion).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.missReason(ctx, ref)
		}
		return 0, fmt.Errorf("failed to claim spot: %w", err)
	}
	return version, nil
}

// Release frees the spot only if it is occupied and still at expectedVersion
func (r *PostgresStore) Release(ctx context.Context, ref models.SpotRef, expectedVersion int64) (int64, error) {
	query := `
		UPDATE spots
		SET occupied = FALSE, reserved_by = NULL, version = version + 1, updated_at = NOW()
		WHERE structure_id = $1 AND floor_id = $2 AND spot_id = $3
		  AND version = $4 AND occupied
		RETURNING version
	`

	var version int64
	err := r.pool.QueryRow(ctx, query, ref.StructureID, ref.FloorID, ref.SpotID, expectedVersion).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.missReason(ctx, ref)
		}
		return 0, fmt.Errorf("failed to release spot: %w", err)
	}
	return version, nil
}

// missReason tells a lost CAS apart from a spot that no longer exists
func (r *PostgresStore) missReason(ctx context.Context, ref models.SpotRef) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM spots WHERE structure_id = $1 AND floor_id = $2 AND spot_id = $3)`,
		ref.StructureID, ref.FloorID, ref.SpotID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check spot: %w", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

func (r *PostgresStore) ListFloor(ctx context.Context, scope models.FloorScope) ([]models.Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots
		WHERE structure_id = $1 AND floor_id = $2
		ORDER BY spot_id ASC`

	return r.list(ctx, query, scope.StructureID, scope.FloorID)
}

func (r *PostgresStore) Candidates(ctx context.Context, criteria models.AssignmentCriteria, limit int) ([]models.Spot, error) {
	var (
		where = []string{"NOT occupied"}
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("organization", criteria.Organization)
	add("structure_id", criteria.StructureID)
	add("floor_id", criteria.FloorID)
	add("spot_type", string(criteria.Type))

	query := `SELECT ` + spotColumns + ` FROM spots WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY structure_id ASC, floor_id ASC, spot_id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.list(ctx, query, args...)
}

func (r *PostgresStore) ListOccupied(ctx context.Context) ([]models.Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots WHERE occupied
		ORDER BY structure_id ASC, floor_id ASC, spot_id ASC`

	return r.list(ctx, query)
}

func (r *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Spot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spots: %w", err)
	}
	defer rows.Close()

	spots := make([]models.Spot, 0)
	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spot: %w", err)
		}
		spots = append(spots, *spot)
	}

	return spots, rows.Err()
}

func scanSpot(row pgx.Row) (*models.Spot, error) {
	var s models.Spot
	err := row.Scan(
		&s.StructureID, &s.FloorID, &s.SpotID, &s.Organization, &s.Type,
		&s.Occupied, &s.ReservedBy, &s.Version, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
