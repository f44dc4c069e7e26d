package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tryathome/orderflow/internal/repositories"
)

// PickupCodeRepository tracks outstanding pickup codes.
type PickupCodeRepository struct {
	mu    sync.Mutex
	codes map[string]string
}

// NewPickupCodeRepository constructs an empty repository.
func NewPickupCodeRepository() *PickupCodeRepository {
	return &PickupCodeRepository{codes: make(map[string]string)}
}

func (r *PickupCodeRepository) Claim(_ context.Context, code, orderID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.codes[code]; ok && owner != orderID {
		return repositories.NewConflictError("pickup_codes.claim", errors.New("code already outstanding"))
	}
	r.codes[code] = orderID
	return nil
}

func (r *PickupCodeRepository) Release(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
	return nil
}
