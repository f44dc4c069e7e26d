package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
	"github.com/tryathome/orderflow/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider, clock func() time.Time) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &CounterRepository{provider: provider, clock: clock}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	coll, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return 0, err
	}
	ref := coll.Doc(id)

	var next int64
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		doc, _, err := pfirestore.GetTx[counterDocument](tx, ref, "counters.next")
		if err != nil {
			return err
		}
		doc.CurrentValue += step
		doc.UpdatedAt = r.clock()
		next = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
