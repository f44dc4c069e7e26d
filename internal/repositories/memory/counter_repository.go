package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tryathome/orderflow/internal/repositories"
)

// CounterRepository issues sequence values from an in-process map.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounterRepository constructs an empty counter set.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] += step
	return r.values[id], nil
}
