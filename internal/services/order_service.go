package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/payments"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/platform/pagination"
	"github.com/tryathome/orderflow/internal/platform/textutil"
	"github.com/tryathome/orderflow/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventPaymentFailed = "order.payment.failed"
	orderEventRefundUpdated = "order.refund.updated"

	orderIDPrefix        = "ord_"
	lineItemIDPrefix     = "li_"
	refundIDPrefix       = "rf_"
	notificationIDPrefix = "ntf_"

	returnRefundReason = "items returned"

	defaultTrialDuration  = 2 * time.Hour
	defaultReturnWindow   = 48 * time.Hour
	defaultWebhookDedupTT = 7 * 24 * time.Hour
	defaultSweepLimit     = 100

	maxOrderLineItems     = 50
	maxLineQuantity       = 20
	maxReasonLength       = 500
	maxMetadataValue      = 256
	maxPickupCodeAttempts = 5
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located (or belongs to another customer).
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderReturnWindowClosed indicates the return window after trial completion has elapsed.
	ErrOrderReturnWindowClosed = errors.New("order: return window closed")
	// ErrOrderInventoryUnavailable indicates at least one line item could not be reserved.
	ErrOrderInventoryUnavailable = errors.New("order: inventory unavailable")
	// ErrOrderInvalidSignature indicates a webhook or gateway confirmation failed HMAC verification.
	ErrOrderInvalidSignature = errors.New("order: invalid signature")
	// ErrOrderInvalidCode indicates a verification or pickup code did not match.
	ErrOrderInvalidCode = errors.New("order: invalid code")
	// ErrOrderPaymentNotCompleted indicates a refund was requested for an unsettled payment.
	ErrOrderPaymentNotCompleted = errors.New("order: payment not completed")
	// ErrOrderPaymentProvider indicates the payment provider failed; the order keeps its prior state.
	ErrOrderPaymentProvider = errors.New("order: payment provider error")
	// ErrOrderInconsistentState indicates a follow-up step disagreed with the committed order.
	ErrOrderInconsistentState = errors.New("order: inconsistent state")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates a backing store or collaborator is temporarily unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// errOrderUnchanged aborts a mutation whose effect is already present on the stored order.
	errOrderUnchanged = errors.New("order: unchanged")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	PickupCodes repositories.PickupCodeRepository
	Inventory   InventoryService
	Counters    CounterService
	Catalog     CatalogClient
	Methods     PaymentMethods
	Webhooks    WebhookVerifier
	Deduper     EventDeduper
	Archive     WebhookArchiver
	Events      OrderEventPublisher
	Status      StatusPublisher
	Notifier    Notifier
	Codes       PickupCodeGenerator
	Metrics     *observability.Metrics

	Currency      string
	Locale        language.Tag
	TrialDuration time.Duration
	ReturnWindow  time.Duration
	WebhookDedup  time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	pickupCodes repositories.PickupCodeRepository
	inventory   InventoryService
	counters    CounterService
	catalog     CatalogClient
	methods     PaymentMethods
	webhooks    WebhookVerifier
	deduper     EventDeduper
	archive     WebhookArchiver
	events      OrderEventPublisher
	status      StatusPublisher
	notifier    Notifier
	codes       PickupCodeGenerator
	metrics     *observability.Metrics

	currency      string
	locale        language.Tag
	trialDuration time.Duration
	returnWindow  time.Duration
	webhookDedup  time.Duration

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.PickupCodes == nil {
		return nil, errors.New("order service: pickup code repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog client is required")
	}
	if deps.Methods == nil {
		return nil, errors.New("order service: payment methods are required")
	}

	codes := deps.Codes
	if codes == nil {
		codes = payments.NewCodeGenerator()
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	locale := deps.Locale
	if locale == language.Und {
		locale = language.English
	}

	trial := deps.TrialDuration
	if trial <= 0 {
		trial = defaultTrialDuration
	}
	window := deps.ReturnWindow
	if window <= 0 {
		window = defaultReturnWindow
	}
	dedup := deps.WebhookDedup
	if dedup <= 0 {
		dedup = defaultWebhookDedupTT
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

	return &orderService{
		orders:        deps.Orders,
		pickupCodes:   deps.PickupCodes,
		inventory:     deps.Inventory,
		counters:      deps.Counters,
		catalog:       deps.Catalog,
		methods:       deps.Methods,
		webhooks:      deps.Webhooks,
		deduper:       deps.Deduper,
		archive:       deps.Archive,
		events:        deps.Events,
		status:        deps.Status,
		notifier:      deps.Notifier,
		codes:         codes,
		metrics:       deps.Metrics,
		currency:      currency,
		locale:        locale,
		trialDuration: trial,
		returnWindow:  window,
		webhookDedup:  dedup,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder validates the request, freezes catalog prices, reserves every line as a set, opens the
// payment intent and persists the order in created. Any failure after the reservation releases it.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.create", attribute.String("payment.method", string(cmd.PaymentMethod)))
	defer func() { finish(err) }()

	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if missing := cmd.Address.MissingFields(); len(missing) > 0 {
		return Order{}, fmt.Errorf("%w: address is missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		return Order{}, fmt.Errorf("%w: currency must be an ISO-4217 code", ErrOrderInvalidInput)
	}
	items, err := normaliseOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	orderID := s.nextID(orderIDPrefix)
	lines := make([]LineItem, 0, len(items))
	for _, item := range items {
		line, err := s.priceLine(ctx, item, currency)
		if err != nil {
			return Order{}, err
		}
		lines = append(lines, line)
	}

	order = Order{
		ID:         orderID,
		CustomerID: customerID,
		Status:     domain.OrderStatusCreated,
		Currency:   currency,
		LineItems:  lines,
		Address:    trimAddress(cmd.Address),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	order.Total = domain.ComputeTotal(order.LineItems)
	if order.Total <= 0 {
		return Order{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("%w: order number: %v", ErrOrderUnavailable, err)
	}
	order.Number = number

	holds := movementsFor(order, nil)
	if err := s.inventory.ReserveAll(ctx, holds); err != nil {
		return Order{}, mapInventoryError(err)
	}

	handler, err := s.methods.For(cmd.PaymentMethod)
	if err != nil {
		s.releaseHolds(ctx, order.ID, holds)
		return Order{}, mapPaymentError(err)
	}
	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = order.ID
	}
	intent, err := handler.CreateIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		CustomerID:     order.CustomerID,
		Amount:         order.Total,
		Currency:       order.Currency,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.releaseHolds(ctx, order.ID, holds)
		return Order{}, mapPaymentError(err)
	}
	order.Payment = Payment{
		Method:            intent.Method,
		ProviderReference: intent.ProviderReference,
		Status:            domain.PaymentStatusPending,
		VerificationCode:  intent.VerificationCode,
		Amount:            order.Total,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseHolds(ctx, order.ID, holds)
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.Number,
		"total":         order.Total,
		"currency":      order.Currency,
		"paymentMethod": string(cmd.PaymentMethod),
		"lineItems":     len(order.LineItems),
	})
	s.metrics.OrderTransition("", string(order.Status))
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		ActorID:       customerID,
		OccurredAt:    now,
		Metadata:      map[string]string{"paymentMethod": string(cmd.PaymentMethod)},
	})
	s.publishStatus(ctx, order)
	s.notify(ctx, order, NotificationOrderPlaced, notificationAudienceCustomer, map[string]string{
		"orderNumber":   order.Number,
		"total":         FormatAmount(order.Total, order.Currency, s.locale),
		"paymentMethod": string(cmd.PaymentMethod),
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID, requestingCustomerID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if customer := strings.TrimSpace(requestingCustomerID); customer != "" && order.CustomerID != customer {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, customerID string, pager Pagination) (domain.Page[Order], error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Page[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByCustomer(ctx, customerID, pagination.Normalize(pager))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// CancelOrder moves a pre-delivery order to cancelled. Reserved stock is released; stock already
// sold on confirmation goes back through the ledger's return path. A completed payment is refunded.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.cancel", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	reason := textutil.CleanText(cmd.Reason, maxReasonLength)
	result, err := s.transition(ctx, cmd.OrderID, transitionSpec{
		event:      domain.OrderEventCancel,
		customerID: cmd.CustomerID,
		apply: func(o *Order, _ time.Time) error {
			o.CancelReason = reason
			return nil
		},
	})
	if err != nil {
		return Order{}, err
	}
	order = result.order

	actor := firstNonEmpty(cmd.ActorID, cmd.CustomerID)
	s.afterTransition(ctx, result, actor, map[string]string{"reason": reason})
	s.unwindInventory(ctx, order, result.previous)

	if order.Payment.Status == domain.PaymentStatusCompleted && order.Payment.Refundable() > 0 {
		refunded, err := s.issueRefund(ctx, order.ID, order.Payment.Refundable(), "order cancelled", actor)
		if err != nil {
			s.logger(ctx, "order.cancel.refund.failed", map[string]any{
				"orderId": order.ID,
				"error":   err,
			})
			return order, nil
		}
		order = refunded
	}
	return order, nil
}

// AdvanceDelivery records shipping progress. Repeating the current status is acknowledged without
// a write so collaborator retries are harmless.
func (s *orderService) AdvanceDelivery(ctx context.Context, cmd AdvanceDeliveryCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.advance_delivery", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	target := OrderStatus(strings.TrimSpace(string(cmd.Status)))
	event, ok := domain.DeliveryEventFor(target)
	if !ok {
		return Order{}, fmt.Errorf("%w: unsupported delivery status %q", ErrOrderInvalidInput, cmd.Status)
	}
	result, err := s.transition(ctx, cmd.OrderID, transitionSpec{
		event: event,
		alreadyApplied: func(o Order) bool {
			return o.Status == target
		},
	})
	if err != nil {
		return Order{}, err
	}
	if result.changed {
		s.afterTransition(ctx, result, cmd.ActorID, textutil.CleanAttributes(cmd.Metadata, maxMetadataValue))
	}
	return result.order, nil
}

// transitionSpec describes one state-machine step. The hooks run inside the repository's atomic
// read-modify-write in this order: customer check, precheck, alreadyApplied, table lookup, apply.
type transitionSpec struct {
	event      domain.OrderEvent
	customerID string
	// precheck runs before anything else and may reject the call (e.g. code verification).
	precheck func(o *Order, now time.Time) error
	// alreadyApplied reports that the order already reflects the event; the stored order is returned untouched.
	alreadyApplied func(o Order) bool
	// apply runs after the transition is accepted, while o.Status still holds the previous status.
	apply func(o *Order, now time.Time) error
}

type transitionResult struct {
	order    Order
	previous OrderStatus
	changed  bool
	at       time.Time
}

func (s *orderService) transition(ctx context.Context, orderID string, spec transitionSpec) (transitionResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return transitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	customerID := strings.TrimSpace(spec.customerID)

	var result transitionResult
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		now := s.now()
		result = transitionResult{previous: o.Status, at: now}
		if customerID != "" && o.CustomerID != customerID {
			return ErrOrderNotFound
		}
		if spec.precheck != nil {
			if err := spec.precheck(o, now); err != nil {
				return err
			}
		}
		if spec.alreadyApplied != nil && spec.alreadyApplied(*o) {
			return errOrderUnchanged
		}
		next, err := domain.NextStatus(o.Status, spec.event)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		}
		if spec.apply != nil {
			if err := spec.apply(o, now); err != nil {
				return err
			}
		}
		o.Status = next
		s.stampTransition(o, next, now)
		o.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errOrderUnchanged) {
		current, findErr := s.orders.FindByID(ctx, orderID)
		if findErr != nil {
			return transitionResult{}, s.mapRepositoryError(findErr)
		}
		return transitionResult{order: current, previous: current.Status}, nil
	}
	if err != nil {
		return transitionResult{}, s.mapRepositoryError(err)
	}
	result.order = updated
	result.changed = true
	return result, nil
}

// update applies a change that does not move the order status, such as refund bookkeeping.
func (s *orderService) update(ctx context.Context, orderID string, fn func(o *Order, now time.Time) error) (Order, bool, error) {
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		now := s.now()
		if err := fn(o, now); err != nil {
			return err
		}
		o.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errOrderUnchanged) {
		current, findErr := s.orders.FindByID(ctx, orderID)
		if findErr != nil {
			return Order{}, false, s.mapRepositoryError(findErr)
		}
		return current, false, nil
	}
	if err != nil {
		return Order{}, false, s.mapRepositoryError(err)
	}
	return updated, true, nil
}

func (s *orderService) stampTransition(o *Order, status OrderStatus, now time.Time) {
	at := now
	ts := &o.Timestamps
	switch status {
	case domain.OrderStatusConfirmed:
		ts.ConfirmedAt = &at
	case domain.OrderStatusOutForDelivery:
		ts.OutForDeliveryAt = &at
	case domain.OrderStatusDelivered:
		ts.DeliveredAt = &at
	case domain.OrderStatusTrialStarted:
		ends := now.Add(s.trialDuration)
		ts.TrialStartedAt = &at
		ts.TrialEndsAt = &ends
	case domain.OrderStatusTrialCompleted:
		ts.TrialCompletedAt = &at
	case domain.OrderStatusReturnInitiated:
		ts.ReturnInitiatedAt = &at
	case domain.OrderStatusReturnCompleted:
		ts.ReturnCompletedAt = &at
	case domain.OrderStatusCancelled:
		ts.CancelledAt = &at
	}
}

// afterTransition runs the best-effort side effects of a committed status change.
func (s *orderService) afterTransition(ctx context.Context, result transitionResult, actor string, metadata map[string]string) {
	order := result.order
	s.metrics.OrderTransition(string(result.previous), string(order.Status))
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId": order.ID,
		"from":    string(result.previous),
		"to":      string(order.Status),
		"version": order.Version,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(result.previous),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(actor),
		OccurredAt:     result.at,
		Metadata:       metadata,
	})
	s.publishStatus(ctx, order)
	s.notify(ctx, order, NotificationStatusChanged, notificationAudienceCustomer, map[string]string{
		"orderNumber": order.Number,
		"status":      string(order.Status),
	})
}

// unwindInventory returns the stock of a cancelled order to available.
func (s *orderService) unwindInventory(ctx context.Context, order Order, previous OrderStatus) {
	holds := movementsFor(order, nil)
	if previous == domain.OrderStatusCreated {
		s.releaseHolds(ctx, order.ID, holds)
		return
	}
	// Holds confirm on payment, so a cancelled confirmed order has sold holds to put back. The goods never
	// reached the customer, so this is not a return.
	if err := s.inventory.UnsellAll(ctx, holds); err != nil {
		s.logger(ctx, "order.inventory.unsell.failed", map[string]any{
			"orderId": order.ID,
			"error":   err,
		})
	}
}

func (s *orderService) releaseHolds(ctx context.Context, orderID string, holds []domain.InventoryMovement) {
	if err := s.inventory.ReleaseAll(ctx, holds); err != nil {
		s.logger(ctx, "order.inventory.release.failed", map[string]any{
			"orderId": orderID,
			"error":   err,
		})
	}
}

func (s *orderService) priceLine(ctx context.Context, item CreateOrderItem, currency string) (LineItem, error) {
	variant, err := s.catalog.GetVariant(ctx, item.ProductID, item.VariantID)
	if err != nil {
		if errors.Is(err, ErrCatalogVariantNotFound) {
			return LineItem{}, fmt.Errorf("%w: unknown variant %s/%s", ErrOrderInvalidInput, item.ProductID, item.VariantID)
		}
		return LineItem{}, fmt.Errorf("%w: catalog: %v", ErrOrderUnavailable, err)
	}
	if !variant.Available {
		return LineItem{}, fmt.Errorf("%w: %s/%s is not available", ErrOrderInventoryUnavailable, item.ProductID, item.VariantID)
	}
	price, err := domain.ToMinorUnits(variant.Price, currency)
	if err != nil {
		return LineItem{}, fmt.Errorf("%w: price of %s/%s: %v", ErrOrderInvalidInput, item.ProductID, item.VariantID, err)
	}
	return LineItem{
		ID:          s.nextID(lineItemIDPrefix),
		ProductID:   item.ProductID,
		VariantID:   item.VariantID,
		Name:        variant.Name,
		Quantity:    item.Quantity,
		UnitPrice:   price,
		Disposition: domain.LineDispositionPending,
	}, nil
}

// normaliseOrderItems trims ids and merges repeated variants into one line.
func normaliseOrderItems(items []CreateOrderItem) ([]CreateOrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrOrderInvalidInput)
	}
	out := make([]CreateOrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		if item.ProductID == "" || item.VariantID == "" {
			return nil, fmt.Errorf("%w: product and variant are required for every line", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for %s/%s", ErrOrderInvalidInput, item.ProductID, item.VariantID)
		}
		key := item.ProductID + ":" + item.VariantID
		if i, ok := index[key]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	if len(out) > maxOrderLineItems {
		return nil, fmt.Errorf("%w: at most %d line items are allowed", ErrOrderInvalidInput, maxOrderLineItems)
	}
	for _, item := range out {
		if item.Quantity > maxLineQuantity {
			return nil, fmt.Errorf("%w: at most %d units of %s/%s", ErrOrderInvalidInput, maxLineQuantity, item.ProductID, item.VariantID)
		}
	}
	return out, nil
}

func trimAddress(a Address) Address {
	return Address{
		Recipient:  textutil.CleanText(a.Recipient, 120),
		Line1:      textutil.CleanText(a.Line1, 200),
		Line2:      textutil.CleanText(a.Line2, 200),
		City:       textutil.CleanText(a.City, 100),
		State:      textutil.CleanText(a.State, 100),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

func mapInventoryError(err error) error {
	switch {
	case errors.Is(err, ErrInventoryInsufficientStock), errors.Is(err, ErrInventoryStockNotFound):
		return fmt.Errorf("%w: %v", ErrOrderInventoryUnavailable, err)
	case errors.Is(err, ErrInventoryInvalidInput):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case errors.Is(err, ErrInventoryReservationNotFound), errors.Is(err, ErrInventoryInvalidState):
		return fmt.Errorf("%w: %v", ErrOrderInconsistentState, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
}

func mapPaymentError(err error) error {
	switch {
	case errors.Is(err, payments.ErrMethodUnavailable):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case errors.Is(err, payments.ErrInvalidSignature):
		return fmt.Errorf("%w: %v", ErrOrderInvalidSignature, err)
	case errors.Is(err, payments.ErrInvalidCode):
		return fmt.Errorf("%w: %v", ErrOrderInvalidCode, err)
	case errors.Is(err, payments.ErrInvalidProof):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderPaymentProvider, err)
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextID(prefix string) string {
	return prefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) publishStatus(ctx context.Context, order Order) {
	if s.status == nil {
		return
	}
	err := s.status.PublishStatus(ctx, StatusUpdate{
		OrderID:   order.ID,
		Status:    order.Status,
		Timestamp: order.UpdatedAt,
	})
	if err != nil {
		s.logger(ctx, "order.status.publish.failed", map[string]any{
			"order":  order.ID,
			"status": string(order.Status),
			"error":  err.Error(),
		})
	}
}

func (s *orderService) notify(ctx context.Context, order Order, kind NotificationKind, audience string, payload map[string]string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, Notification{
		ID:         s.nextID(notificationIDPrefix),
		Kind:       kind,
		Audience:   audience,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Payload:    payload,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"order": order.ID,
			"kind":  string(kind),
			"error": err.Error(),
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
