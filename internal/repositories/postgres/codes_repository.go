package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tryathome/orderflow/internal/repositories"
)

// PickupCodeRepository relies on the primary key of pickup_codes for uniqueness.
type PickupCodeRepository struct {
	db *sql.DB
}

// NewPickupCodeRepository constructs a PostgreSQL-backed pickup code registry.
func NewPickupCodeRepository(db *sql.DB) (*PickupCodeRepository, error) {
	if db == nil {
		return nil, errors.New("pickup code repository requires database")
	}
	return &PickupCodeRepository{db: db}, nil
}

func (r *PickupCodeRepository) Claim(ctx context.Context, code, orderID string, claimedAt time.Time) error {
	var owner string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO pickup_codes (code, order_id, claimed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (code) DO UPDATE SET code = pickup_codes.code
		 RETURNING order_id`,
		code, orderID, claimedAt.UTC()).Scan(&owner)
	if err != nil {
		return classify("pickup_codes.claim", err)
	}
	if owner != orderID {
		return repositories.NewConflictError("pickup_codes.claim", fmt.Errorf("code %s already outstanding", code))
	}
	return nil
}

func (r *PickupCodeRepository) Release(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pickup_codes WHERE code = $1`, code)
	return classify("pickup_codes.release", err)
}

// CounterRepository increments counters with a single upsert statement.
type CounterRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewCounterRepository constructs a PostgreSQL-backed counter repository.
func NewCounterRepository(db *sql.DB, clock func() time.Time) (*CounterRepository, error) {
	if db == nil {
		return nil, errors.New("counter repository requires database")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &CounterRepository{db: db, clock: clock}, nil
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	var value int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO counters (id, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET value = counters.value + EXCLUDED.value, updated_at = EXCLUDED.updated_at
		 RETURNING value`,
		id, step, r.clock()).Scan(&value)
	if err != nil {
		return 0, classify("counters.next", err)
	}
	return value, nil
}
