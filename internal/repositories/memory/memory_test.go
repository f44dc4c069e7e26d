package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/repositories"
)

func TestInventoryConcurrentReserveLastUnit(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository(nil)
	key := domain.InventoryKey{ProductID: "prod_saree", VariantID: "free"}
	if _, err := repo.Restock(ctx, repositories.InventoryRestockRequest{Key: key, Quantity: 1}); err != nil {
		t.Fatalf("Restock: %v", err)
	}

	const workers = 16
	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
		start        = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := repo.Reserve(ctx, domain.InventoryMovement{Key: key, Quantity: 1, Ref: fmt.Sprintf("ord_%d/li_1", i)})
			if err == nil {
				successes.Add(1)
				return
			}
			if code, _ := repositories.InventoryErrorCodeOf(err); code == repositories.InventoryErrorInsufficientStock {
				insufficient.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || insufficient.Load() != workers-1 {
		t.Fatalf("expected exactly one success, got %d successes %d insufficient", successes.Load(), insufficient.Load())
	}
	line, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !line.NonNegative() || line.Available != 0 || line.Reserved != 1 {
		t.Fatalf("unexpected counters %+v", line)
	}
}

func TestInventoryUnknownVariant(t *testing.T) {
	repo := NewInventoryRepository(nil)
	_, err := repo.Reserve(context.Background(), domain.InventoryMovement{Key: domain.InventoryKey{ProductID: "p", VariantID: "v"}, Quantity: 1, Ref: "r"})
	if code, _ := repositories.InventoryErrorCodeOf(err); code != repositories.InventoryErrorStockNotFound {
		t.Fatalf("expected stock not found, got %v", err)
	}
}

func TestOrderMutateSerialisesWriters(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	if err := repo.Insert(ctx, domain.Order{ID: "ord_1", Status: domain.OrderStatusCreated}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, "ord_1", func(order *domain.Order) error {
				order.LineItems = append(order.LineItems, domain.LineItem{ID: fmt.Sprintf("li_%d", len(order.LineItems))})
				return nil
			})
			if err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	order, err := repo.FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(order.LineItems) != writers || order.Version != writers {
		t.Fatalf("lost update: %d items version %d", len(order.LineItems), order.Version)
	}
}

func TestOrderMutateErrorLeavesOrderUntouched(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	_ = repo.Insert(ctx, domain.Order{ID: "ord_1", Status: domain.OrderStatusCreated})

	boom := fmt.Errorf("boom")
	_, err := repo.Mutate(ctx, "ord_1", func(order *domain.Order) error {
		order.Status = domain.OrderStatusCancelled
		return boom
	})
	if err != boom {
		t.Fatalf("expected mutation error to be returned as is, got %v", err)
	}
	order, _ := repo.FindByID(ctx, "ord_1")
	if order.Status != domain.OrderStatusCreated || order.Version != 0 {
		t.Fatalf("order changed after aborted mutation: %+v", order)
	}

	if _, err := repo.Mutate(ctx, "missing", func(*domain.Order) error { return nil }); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderListByCustomerPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = repo.Insert(ctx, domain.Order{ID: fmt.Sprintf("ord_%d", i), CustomerID: "cust_1", CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	_ = repo.Insert(ctx, domain.Order{ID: "ord_other", CustomerID: "cust_2", CreatedAt: base})

	first, err := repo.ListByCustomer(ctx, "cust_1", domain.Pagination{PageSize: 2})
	if err != nil {
		t.Fatalf("ListByCustomer: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "ord_4" || first.Items[1].ID != "ord_3" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := repo.ListByCustomer(ctx, "cust_1", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("ListByCustomer page 2: %v", err)
	}
	if len(second.Items) != 2 || second.Items[0].ID != "ord_2" {
		t.Fatalf("unexpected second page %+v", second)
	}
	third, _ := repo.ListByCustomer(ctx, "cust_1", domain.Pagination{PageSize: 2, PageToken: second.NextPageToken})
	if len(third.Items) != 1 || third.NextPageToken != "" {
		t.Fatalf("unexpected last page %+v", third)
	}
}

func TestPickupCodeClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewPickupCodeRepository()
	now := time.Now()
	if err := repo.Claim(ctx, "AB12CD34", "ord_1", now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Claim(ctx, "AB12CD34", "ord_2", now); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := repo.Claim(ctx, "AB12CD34", "ord_1", now); err != nil {
		t.Fatalf("re-claim by owner must succeed: %v", err)
	}
	_ = repo.Release(ctx, "AB12CD34")
	if err := repo.Claim(ctx, "AB12CD34", "ord_2", now); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}
