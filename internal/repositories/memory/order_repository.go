package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/pagination"
	"github.com/tryathome/orderflow/internal/repositories"
)

// OrderRepository keeps orders in a map guarded by a mutex. Mutate holds the lock for the
// duration of the mutation, which serialises writers per order (and, here, globally).
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

// NewOrderRepository constructs an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order %s already exists", order.ID))
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find", fmt.Errorf("order %s not found", orderID))
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByPaymentReference(_ context.Context, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	r.mu.Lock()
	defer r.mu.Unlock()
	if reference != "" {
		for _, order := range r.orders {
			if order.Payment.ProviderReference == reference {
				return order.Clone(), nil
			}
		}
	}
	return domain.Order{}, repositories.NewNotFoundError("orders.find_by_reference", errors.New("no order for payment reference"))
}

func (r *OrderRepository) ListByCustomer(_ context.Context, customerID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	r.mu.Lock()
	matches := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.CustomerID == customerID && cursor.After(order.CreatedAt, order.ID) {
			matches = append(matches, order.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	page := domain.Page[domain.Order]{}
	if len(matches) > pager.PageSize {
		last := matches[pager.PageSize-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		matches = matches[:pager.PageSize]
	}
	page.Items = matches
	return page, nil
}

func (r *OrderRepository) ListTrialsEndingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.Status != domain.OrderStatusTrialStarted || order.Timestamps.TrialEndsAt == nil {
			continue
		}
		if order.Timestamps.TrialEndsAt.Before(cutoff) {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamps.TrialEndsAt.Before(*out[j].Timestamps.TrialEndsAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) Mutate(_ context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.mutate", fmt.Errorf("order %s not found", orderID))
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	working.Version = current.Version + 1
	r.orders[orderID] = working.Clone()
	return working, nil
}
