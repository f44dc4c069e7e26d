package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tryathome/orderflow/internal/domain"
	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
	"github.com/tryathome/orderflow/internal/platform/pagination"
	"github.com/tryathome/orderflow/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository stores order aggregates as single documents. Mutations run inside Firestore
// transactions so concurrent writers of the same order are serialised by optimistic retries.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	return r.provider.Collection(ctx, ordersCollection)
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(order.ID).Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := coll.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	doc, err := pfirestore.Decode[orderDocument](snap)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(snap.Ref.ID, doc), nil
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_reference", errors.New("payment reference is required"))
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	orders, err := r.query(ctx, coll.Where("payment.providerReference", "==", reference).Limit(1), "orders.find_by_reference")
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_reference", fmt.Errorf("no order for payment reference %s", reference))
	}
	return orders[0], nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	query := coll.Where("customerId", "==", customerID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	orders, err := r.query(ctx, query.Limit(pager.PageSize+1), "orders.list")
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	page := domain.Page[domain.Order]{}
	if len(orders) > pager.PageSize {
		last := orders[pager.PageSize-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		orders = orders[:pager.PageSize]
	}
	page.Items = orders
	return page, nil
}

func (r *OrderRepository) ListTrialsEndingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("status", "==", string(domain.OrderStatusTrialStarted)).
		Where("timestamps.trialEndsAt", "<", cutoff.UTC()).
		OrderBy("timestamps.trialEndsAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.query(ctx, query, "orders.list_trials")
}

// Mutate reads, mutates and writes the order inside one transaction. fn may run more than once
// when Firestore retries, and always receives a freshly decoded order.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	ref := coll.Doc(orderID)

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		doc, found, err := pfirestore.GetTx[orderDocument](tx, ref, "orders.mutate")
		if err != nil {
			return err
		}
		if !found {
			return repositories.NewNotFoundError("orders.mutate", fmt.Errorf("order %s not found", orderID))
		}
		working := decodeOrder(orderID, doc)
		current := working.Version
		if err := fn(&working); err != nil {
			return err
		}
		working.Version = current + 1
		if err := tx.Set(ref, encodeOrder(working)); err != nil {
			return err
		}
		updated = working
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func (r *OrderRepository) query(ctx context.Context, query firestore.Query, op string) ([]domain.Order, error) {
	snaps, err := pfirestore.Documents(ctx, query, op)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, decodeOrder(snap.Ref.ID, doc))
	}
	return out, nil
}
