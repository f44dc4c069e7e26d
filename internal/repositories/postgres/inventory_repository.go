package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/repositories"
)

// InventoryRepository keeps ledger lines and holds in two tables. Each movement locks the line row,
// which serialises all writers of one variant while leaving other variants untouched.
type InventoryRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewInventoryRepository constructs a PostgreSQL-backed inventory ledger.
func NewInventoryRepository(db *sql.DB, clock func() time.Time) (*InventoryRepository, error) {
	if db == nil {
		return nil, errors.New("inventory repository requires database")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &InventoryRepository{db: db, clock: clock}, nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(ctx, repositories.InventoryOpReserve, movement)
}

func (r *InventoryRepository) Confirm(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(ctx, repositories.InventoryOpConfirm, movement)
}

func (r *InventoryRepository) Release(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(ctx, repositories.InventoryOpRelease, movement)
}

func (r *InventoryRepository) ReturnStock(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(ctx, repositories.InventoryOpReturn, movement)
}

func (r *InventoryRepository) Unsell(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(ctx, repositories.InventoryOpUnsell, movement)
}

const selectLine = `SELECT available, reserved, sold, returned, low_stock_threshold, version, updated_at
	 FROM inventory_lines WHERE product_id = $1 AND variant_id = $2`

func scanLine(row *sql.Row, key domain.InventoryKey) (*domain.InventoryLine, error) {
	line := domain.InventoryLine{Key: key}
	err := row.Scan(&line.Available, &line.Reserved, &line.Sold, &line.Returned, &line.LowStockThreshold, &line.Version, &line.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	line.UpdatedAt = line.UpdatedAt.UTC()
	return &line, nil
}

func (r *InventoryRepository) apply(ctx context.Context, op repositories.InventoryOp, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	if err := repositories.ValidateMovement(op, movement); err != nil {
		return domain.InventoryResult{}, err
	}
	key := movement.Key

	var result domain.InventoryResult
	err := withTx(ctx, r.db, "inventory."+string(op), func(tx *sql.Tx) error {
		line, err := scanLine(tx.QueryRowContext(ctx, selectLine+` FOR UPDATE`, key.ProductID, key.VariantID), key)
		if err != nil {
			return err
		}

		var hold *domain.InventoryHold
		var h domain.InventoryHold
		var status string
		err = tx.QueryRowContext(ctx,
			`SELECT ref, product_id, variant_id, quantity, status, created_at, updated_at
			 FROM inventory_holds WHERE ref = $1`, movement.Ref).
			Scan(&h.Ref, &h.Key.ProductID, &h.Key.VariantID, &h.Quantity, &status, &h.CreatedAt, &h.UpdatedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			h.Status = domain.HoldStatus(status)
			hold = &h
		}

		res, err := repositories.ApplyMovement(op, line, hold, movement, r.clock())
		if err != nil {
			return err
		}
		result = res
		if !res.Applied {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE inventory_lines SET available = $3, reserved = $4, sold = $5, returned = $6, version = $7, updated_at = $8
			 WHERE product_id = $1 AND variant_id = $2`,
			key.ProductID, key.VariantID, res.Line.Available, res.Line.Reserved, res.Line.Sold, res.Line.Returned, res.Line.Version, res.Line.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update line %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO inventory_holds (ref, product_id, variant_id, quantity, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (ref) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
			res.Hold.Ref, key.ProductID, key.VariantID, res.Hold.Quantity, string(res.Hold.Status), res.Hold.CreatedAt, res.Hold.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert hold %s: %w", res.Hold.Ref, err)
		}
		return nil
	})
	if err != nil {
		return domain.InventoryResult{}, err
	}
	return result, nil
}

func (r *InventoryRepository) Get(ctx context.Context, key domain.InventoryKey) (domain.InventoryLine, error) {
	if !key.Valid() {
		return domain.InventoryLine{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorInvalidInput, "product and variant are required")
	}
	line, err := scanLine(r.db.QueryRowContext(ctx, selectLine, key.ProductID, key.VariantID), key)
	if err != nil {
		return domain.InventoryLine{}, classify("inventory.get", err)
	}
	if line == nil {
		return domain.InventoryLine{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock line for %s", key))
	}
	return *line, nil
}

func (r *InventoryRepository) Restock(ctx context.Context, req repositories.InventoryRestockRequest) (domain.InventoryLine, error) {
	var updated domain.InventoryLine
	err := withTx(ctx, r.db, "inventory.restock", func(tx *sql.Tx) error {
		key := req.Key
		line, err := scanLine(tx.QueryRowContext(ctx, selectLine+` FOR UPDATE`, key.ProductID, key.VariantID), key)
		if err != nil {
			return err
		}
		if line == nil {
			line = &domain.InventoryLine{Key: key}
		}
		if err := repositories.ApplyRestock(line, req, r.clock()); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO inventory_lines (product_id, variant_id, available, reserved, sold, returned, low_stock_threshold, version, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (product_id, variant_id) DO UPDATE SET
			   available = EXCLUDED.available,
			   low_stock_threshold = EXCLUDED.low_stock_threshold,
			   version = EXCLUDED.version,
			   updated_at = EXCLUDED.updated_at`,
			key.ProductID, key.VariantID, line.Available, line.Reserved, line.Sold, line.Returned, line.LowStockThreshold, line.Version, line.UpdatedAt)
		if err != nil {
			return err
		}
		updated = *line
		return nil
	})
	if err != nil {
		return domain.InventoryLine{}, err
	}
	return updated, nil
}
