package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
	"github.com/tryathome/orderflow/internal/repositories"
)

const pickupCodesCollection = "pickupCodes"

type pickupCodeDocument struct {
	OrderID   string    `firestore:"orderId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// PickupCodeRepository keys documents by the code itself so uniqueness is enforced by Firestore.
type PickupCodeRepository struct {
	provider *pfirestore.Provider
}

// NewPickupCodeRepository constructs a Firestore-backed pickup code registry.
func NewPickupCodeRepository(provider *pfirestore.Provider) (*PickupCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("pickup code repository requires firestore provider")
	}
	return &PickupCodeRepository{provider: provider}, nil
}

func (r *PickupCodeRepository) Claim(ctx context.Context, code, orderID string, claimedAt time.Time) error {
	coll, err := r.provider.Collection(ctx, pickupCodesCollection)
	if err != nil {
		return err
	}
	ref := coll.Doc(code)
	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		doc, found, err := pfirestore.GetTx[pickupCodeDocument](tx, ref, "pickup_codes.claim")
		if err != nil {
			return err
		}
		if found {
			if doc.OrderID == orderID {
				return nil
			}
			return repositories.NewConflictError("pickup_codes.claim", fmt.Errorf("code %s already outstanding", code))
		}
		return tx.Create(ref, pickupCodeDocument{OrderID: orderID, ClaimedAt: claimedAt.UTC()})
	})
}

func (r *PickupCodeRepository) Release(ctx context.Context, code string) error {
	coll, err := r.provider.Collection(ctx, pickupCodesCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(code).Delete(ctx); err != nil {
		return pfirestore.WrapError("pickup_codes.release", err)
	}
	return nil
}
