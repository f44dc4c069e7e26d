package firestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tryathome/orderflow/internal/domain"
	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
	"github.com/tryathome/orderflow/internal/repositories"
)

const (
	inventoryCollection = "inventory"
	holdsCollection     = "holds"
)

type stockDocument struct {
	ProductID         string    `firestore:"productId"`
	VariantID         string    `firestore:"variantId"`
	Available         int       `firestore:"available"`
	Reserved          int       `firestore:"reserved"`
	Sold              int       `firestore:"sold"`
	Returned          int       `firestore:"returned"`
	LowStockThreshold int       `firestore:"lowStockThreshold"`
	Version           int64     `firestore:"version"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func (d stockDocument) toDomain() domain.InventoryLine {
	return domain.InventoryLine{
		Key:               domain.InventoryKey{ProductID: d.ProductID, VariantID: d.VariantID},
		Available:         d.Available,
		Reserved:          d.Reserved,
		Sold:              d.Sold,
		Returned:          d.Returned,
		LowStockThreshold: d.LowStockThreshold,
		Version:           d.Version,
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

func newStockDocument(line domain.InventoryLine) stockDocument {
	return stockDocument{
		ProductID:         line.Key.ProductID,
		VariantID:         line.Key.VariantID,
		Available:         line.Available,
		Reserved:          line.Reserved,
		Sold:              line.Sold,
		Returned:          line.Returned,
		LowStockThreshold: line.LowStockThreshold,
		Version:           line.Version,
		UpdatedAt:         line.UpdatedAt.UTC(),
	}
}

type holdDocument struct {
	Ref       string    `firestore:"ref"`
	Quantity  int       `firestore:"quantity"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// InventoryRepository keeps one document per variant with its holds in a subcollection. Every
// movement reads and writes both inside a single transaction.
type InventoryRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

// NewInventoryRepository constructs a Firestore-backed inventory ledger.
func NewInventoryRepository(provider *pfirestore.Provider, clock func() time.Time) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &InventoryRepository{provider: provider, clock: clock}, nil
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

func (r *InventoryRepository) apply(ctx context.Context, op repositories.InventoryOp, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	if err := repositories.ValidateMovement(op, movement); err != nil {
		return domain.InventoryResult{}, err
	}
	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return domain.InventoryResult{}, err
	}
	stockRef := coll.Doc(movement.Key.String())
	holdRef := stockRef.Collection(holdsCollection).Doc(holdDocumentID(movement.Ref))
	name := "inventory." + string(op)

	var result domain.InventoryResult
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		stockDoc, found, err := pfirestore.GetTx[stockDocument](tx, stockRef, name)
		if err != nil {
			return err
		}
		var line *domain.InventoryLine
		if found {
			current := stockDoc.toDomain()
			line = &current
		}

		holdDoc, holdFound, err := pfirestore.GetTx[holdDocument](tx, holdRef, name)
		if err != nil {
			return err
		}
		var hold *domain.InventoryHold
		if holdFound {
			hold = &domain.InventoryHold{
				Ref:       holdDoc.Ref,
				Key:       movement.Key,
				Quantity:  holdDoc.Quantity,
				Status:    domain.HoldStatus(holdDoc.Status),
				CreatedAt: holdDoc.CreatedAt.UTC(),
				UpdatedAt: holdDoc.UpdatedAt.UTC(),
			}
		}

		res, err := repositories.ApplyMovement(op, line, hold, movement, r.clock())
		if err != nil {
			return err
		}
		result = res
		if !res.Applied {
			return nil
		}
		if err := tx.Set(stockRef, newStockDocument(res.Line)); err != nil {
			return err
		}
		return tx.Set(holdRef, holdDocument{
			Ref:       res.Hold.Ref,
			Quantity:  res.Hold.Quantity,
			Status:    string(res.Hold.Status),
			CreatedAt: res.Hold.CreatedAt,
			UpdatedAt: res.Hold.UpdatedAt,
		})
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
	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return domain.InventoryLine{}, err
	}
	snap, err := coll.Doc(key.String()).Get(ctx)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.InventoryLine{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock line for %s", key))
		}
		return domain.InventoryLine{}, pfirestore.WrapError("inventory.get", err)
	}
	doc, err := pfirestore.Decode[stockDocument](snap)
	if err != nil {
		return domain.InventoryLine{}, err
	}
	return doc.toDomain(), nil
}

func (r *InventoryRepository) Restock(ctx context.Context, req repositories.InventoryRestockRequest) (domain.InventoryLine, error) {
	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return domain.InventoryLine{}, err
	}
	var updated domain.InventoryLine
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		ref := coll.Doc(req.Key.String())
		doc, _, err := pfirestore.GetTx[stockDocument](tx, ref, "inventory.restock")
		if err != nil {
			return err
		}
		line := doc.toDomain()
		if err := repositories.ApplyRestock(&line, req, r.clock()); err != nil {
			return err
		}
		updated = line
		return tx.Set(ref, newStockDocument(line))
	})
	if err != nil {
		return domain.InventoryLine{}, err
	}
	return updated, nil
}

// holdDocumentID escapes hold refs ("<orderId>/<lineItemId>") into a valid document id.
func holdDocumentID(ref string) string {
	return url.PathEscape(ref)
}
