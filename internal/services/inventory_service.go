package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/repositories"
)

const (
	ledgerOutcomeApplied  = "applied"
	ledgerOutcomeReplayed = "replayed"
	ledgerOutcomeRejected = "rejected"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryStockNotFound indicates the variant has no ledger line.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
	// ErrInventoryReservationNotFound indicates no compatible hold backs the movement.
	ErrInventoryReservationNotFound = errors.New("inventory: reservation not found")
	// ErrInventoryInvalidState indicates the hold cannot transition due to its state.
	ErrInventoryInvalidState = errors.New("inventory: reservation state invalid")
	// ErrInventoryUnavailable indicates the ledger backend could not be reached.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Notifier    Notifier
	Metrics     *observability.Metrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo     repositories.InventoryRepository
	notifier Notifier
	metrics  *observability.Metrics
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

type ledgerCall func(context.Context, domain.InventoryMovement) (domain.InventoryResult, error)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:     deps.Inventory,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// ReserveAll reserves every movement or none: when one fails, the holds taken so far are released
// in reverse order before the error is returned.
func (s *inventoryService) ReserveAll(ctx context.Context, movements []domain.InventoryMovement) error {
	if len(movements) == 0 {
		return fmt.Errorf("%w: at least one movement is required", ErrInventoryInvalidInput)
	}
	if err := validateMovements(movements); err != nil {
		return err
	}

	reserved := make([]domain.InventoryMovement, 0, len(movements))
	for _, movement := range movements {
		if _, err := s.apply(ctx, repositories.InventoryOpReserve, s.repo.Reserve, movement); err != nil {
			s.rollback(ctx, reserved)
			return err
		}
		reserved = append(reserved, movement)
	}
	return nil
}

// ConfirmAll moves every hold from reserved to sold. Each movement is attempted even when an earlier
// one fails so that a retry only has the failed refs left to do.
func (s *inventoryService) ConfirmAll(ctx context.Context, movements []domain.InventoryMovement) error {
	return s.applyAll(ctx, repositories.InventoryOpConfirm, s.repo.Confirm, movements)
}

// ReleaseAll returns reserved stock to available.
func (s *inventoryService) ReleaseAll(ctx context.Context, movements []domain.InventoryMovement) error {
	return s.applyAll(ctx, repositories.InventoryOpRelease, s.repo.Release, movements)
}

// ReturnAll credits physically returned goods back to available stock.
func (s *inventoryService) ReturnAll(ctx context.Context, movements []domain.InventoryMovement) error {
	return s.applyAll(ctx, repositories.InventoryOpReturn, s.repo.ReturnStock, movements)
}

// UnsellAll puts the stock of a cancelled sale back to available without counting it as returned.
func (s *inventoryService) UnsellAll(ctx context.Context, movements []domain.InventoryMovement) error {
	return s.applyAll(ctx, repositories.InventoryOpUnsell, s.repo.Unsell, movements)
}

func (s *inventoryService) Get(ctx context.Context, key InventoryKey) (InventoryLine, error) {
	if !key.Valid() {
		return InventoryLine{}, fmt.Errorf("%w: product and variant are required", ErrInventoryInvalidInput)
	}
	line, err := s.repo.Get(ctx, key)
	if err != nil {
		return InventoryLine{}, s.mapRepositoryError(err)
	}
	return line, nil
}

func (s *inventoryService) Restock(ctx context.Context, cmd RestockCommand) (InventoryLine, error) {
	if !cmd.Key.Valid() {
		return InventoryLine{}, fmt.Errorf("%w: product and variant are required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity < 0 {
		return InventoryLine{}, fmt.Errorf("%w: quantity must not be negative", ErrInventoryInvalidInput)
	}
	if cmd.LowStockThreshold != nil && *cmd.LowStockThreshold < 0 {
		return InventoryLine{}, fmt.Errorf("%w: low stock threshold must not be negative", ErrInventoryInvalidInput)
	}

	line, err := s.repo.Restock(ctx, repositories.InventoryRestockRequest{
		Key:               cmd.Key,
		Quantity:          cmd.Quantity,
		LowStockThreshold: cmd.LowStockThreshold,
	})
	if err != nil {
		return InventoryLine{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.restocked", map[string]any{
		"key":       cmd.Key.String(),
		"quantity":  cmd.Quantity,
		"available": line.Available,
	})
	return line, nil
}

func (s *inventoryService) applyAll(ctx context.Context, op repositories.InventoryOp, call ledgerCall, movements []domain.InventoryMovement) error {
	if err := validateMovements(movements); err != nil {
		return err
	}
	var errs []error
	for _, movement := range movements {
		if _, err := s.apply(ctx, op, call, movement); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *inventoryService) apply(ctx context.Context, op repositories.InventoryOp, call ledgerCall, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	result, err := call(ctx, movement)
	if err != nil {
		s.metrics.LedgerMovement(string(op), ledgerOutcomeRejected)
		return domain.InventoryResult{}, s.mapRepositoryError(err)
	}
	if !result.Applied {
		s.metrics.LedgerMovement(string(op), ledgerOutcomeReplayed)
		return result, nil
	}
	s.metrics.LedgerMovement(string(op), ledgerOutcomeApplied)
	if result.CrossedLowStock {
		s.notifyLowStock(ctx, result.Line)
	}
	return result, nil
}

func (s *inventoryService) rollback(ctx context.Context, reserved []domain.InventoryMovement) {
	for i := len(reserved) - 1; i >= 0; i-- {
		movement := reserved[i]
		if _, err := s.apply(ctx, repositories.InventoryOpRelease, s.repo.Release, movement); err != nil {
			s.logger(ctx, "inventory.rollback.failed", map[string]any{
				"key":   movement.Key.String(),
				"ref":   movement.Ref,
				"error": err,
			})
		}
	}
}

// notifyLowStock never fails the movement that triggered it.
func (s *inventoryService) notifyLowStock(ctx context.Context, line InventoryLine) {
	s.logger(ctx, "inventory.low_stock", map[string]any{
		"key":       line.Key.String(),
		"available": line.Available,
		"threshold": line.LowStockThreshold,
	})
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, Notification{
		ID:       "ntf_" + s.newID(),
		Kind:     NotificationLowStock,
		Audience: notificationAudienceOperator,
		Payload: map[string]string{
			"productId": line.Key.ProductID,
			"variantId": line.Key.VariantID,
			"available": strconv.Itoa(line.Available),
			"threshold": strconv.Itoa(line.LowStockThreshold),
		},
		CreatedAt: s.clock(),
	})
	if err != nil {
		s.logger(ctx, "inventory.low_stock.notify.failed", map[string]any{
			"key":   line.Key.String(),
			"error": err,
		})
	}
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := repositories.InventoryErrorCodeOf(err); ok {
		switch code {
		case repositories.InventoryErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrInventoryInsufficientStock, err)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %v", ErrInventoryStockNotFound, err)
		case repositories.InventoryErrorReservationNotFound:
			return fmt.Errorf("%w: %v", ErrInventoryReservationNotFound, err)
		case repositories.InventoryErrorInvalidReservationState:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidState, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryStockNotFound, err)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
		}
	}
	return err
}

func validateMovements(movements []domain.InventoryMovement) error {
	seen := make(map[string]struct{}, len(movements))
	for _, movement := range movements {
		if !movement.Key.Valid() {
			return fmt.Errorf("%w: product and variant are required", ErrInventoryInvalidInput)
		}
		if movement.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for %s", ErrInventoryInvalidInput, movement.Key)
		}
		if movement.Ref == "" {
			return fmt.Errorf("%w: hold ref is required for %s", ErrInventoryInvalidInput, movement.Key)
		}
		if _, dup := seen[movement.Ref]; dup {
			return fmt.Errorf("%w: duplicate hold ref %s", ErrInventoryInvalidInput, movement.Ref)
		}
		seen[movement.Ref] = struct{}{}
	}
	return nil
}

// movementsFor builds one ledger movement per line item, keyed by the line's hold ref.
func movementsFor(order Order, filter func(LineItem) bool) []domain.InventoryMovement {
	out := make([]domain.InventoryMovement, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		if filter != nil && !filter(item) {
			continue
		}
		out = append(out, domain.InventoryMovement{
			Key:      item.InventoryKey(),
			Quantity: item.Quantity,
			Ref:      item.HoldRef(order.ID),
		})
	}
	return out
}
