package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order             = domain.Order
	OrderStatus       = domain.OrderStatus
	LineItem          = domain.LineItem
	Address           = domain.Address
	Payment           = domain.Payment
	PaymentMethodKind = domain.PaymentMethodKind
	InventoryKey      = domain.InventoryKey
	InventoryLine     = domain.InventoryLine
	Pagination        = domain.Pagination
)

// OrderService is the orchestration façade over the order lifecycle. It is the only component that
// drives the inventory ledger and payment methods together.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID, requestingCustomerID string) (Order, error)
	ListOrders(ctx context.Context, customerID string, pager Pagination) (domain.Page[Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AdvanceDelivery(ctx context.Context, cmd AdvanceDeliveryCommand) (Order, error)
	StartTrial(ctx context.Context, cmd StartTrialCommand) (Order, error)
	CompleteTrial(ctx context.Context, cmd CompleteTrialCommand) (Order, error)
	InitiateReturn(ctx context.Context, cmd InitiateReturnCommand) (InitiateReturnResult, error)
	ReceiveReturn(ctx context.Context, cmd ReceiveReturnCommand) (Order, error)
	SweepExpiredTrials(ctx context.Context, limit int) (int, error)

	VerifyCashPayment(ctx context.Context, cmd VerifyCashCommand) (Order, error)
	VerifyTransferPayment(ctx context.Context, cmd VerifyTransferCommand) (Order, error)
	ConfirmGatewayPayment(ctx context.Context, cmd ConfirmGatewayPaymentCommand) (Order, error)
	HandlePaymentWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookResult, error)
	RequestRefund(ctx context.Context, cmd RefundCommand) (Order, error)
}

// InventoryService fronts the inventory ledger. Batch operations are all-or-nothing for reserve.
type InventoryService interface {
	ReserveAll(ctx context.Context, movements []domain.InventoryMovement) error
	ConfirmAll(ctx context.Context, movements []domain.InventoryMovement) error
	ReleaseAll(ctx context.Context, movements []domain.InventoryMovement) error
	ReturnAll(ctx context.Context, movements []domain.InventoryMovement) error
	UnsellAll(ctx context.Context, movements []domain.InventoryMovement) error
	Get(ctx context.Context, key InventoryKey) (InventoryLine, error)
	Restock(ctx context.Context, cmd RestockCommand) (InventoryLine, error)
}

// CounterService issues human readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// ErrCatalogVariantNotFound is returned by catalog clients for unknown product/variant pairs.
var ErrCatalogVariantNotFound = errors.New("catalog: variant not found")

// CatalogClient resolves the current price of a variant when an order is created.
type CatalogClient interface {
	GetVariant(ctx context.Context, productID, variantID string) (CatalogVariant, error)
}

// PaymentMethods resolves the settlement path for a payment method kind.
type PaymentMethods interface {
	For(kind PaymentMethodKind) (payments.MethodHandler, error)
}

// WebhookVerifier checks the HMAC signature of a raw webhook body.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) error
}

// PickupCodeGenerator draws return pickup codes.
type PickupCodeGenerator interface {
	PickupCode() (string, error)
}

// EventDeduper records processed webhook event ids. Forget undoes FirstSeen when processing fails so
// the provider's redelivery is handled again.
type EventDeduper interface {
	FirstSeen(ctx context.Context, scope, id string, now time.Time, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StatusPublisher pushes committed status changes to live subscribers of an order.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, update StatusUpdate) error
}

// WebhookArchiver keeps the raw body of verified webhooks for reconciliation.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, record WebhookRecord) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string            `json:"type"`
	OrderID        string            `json:"orderId"`
	OrderNumber    string            `json:"orderNumber"`
	CustomerID     string            `json:"customerId"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	CurrentStatus  string            `json:"currentStatus"`
	ActorID        string            `json:"actorId,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// StatusUpdate is the frame delivered to live status subscribers.
type StatusUpdate struct {
	OrderID   string      `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebhookRecord is a verified webhook delivery.
type WebhookRecord struct {
	EventID    string
	EventType  string
	Body       []byte
	ReceivedAt time.Time
}

// CatalogVariant is the catalog view of a purchasable variant. Price is in major units.
type CatalogVariant struct {
	ProductID string
	VariantID string
	Name      string
	Price     decimal.Decimal
	Available bool
}

// CreateOrderItem is one requested line.
type CreateOrderItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateOrderCommand describes a new order. IdempotencyKey, when present, is forwarded to the gateway.
type CreateOrderCommand struct {
	CustomerID     string
	Items          []CreateOrderItem
	Address        Address
	PaymentMethod  PaymentMethodKind
	Currency       string
	IdempotencyKey string
}

// CancelOrderCommand cancels an order before delivery. CustomerID is empty for operator actions.
type CancelOrderCommand struct {
	OrderID    string
	CustomerID string
	ActorID    string
	Reason     string
}

// AdvanceDeliveryCommand records a shipping update.
type AdvanceDeliveryCommand struct {
	OrderID  string
	Status   OrderStatus
	ActorID  string
	Metadata map[string]string
}

// StartTrialCommand starts the try-at-home window.
type StartTrialCommand struct {
	OrderID    string
	CustomerID string
}

// CompleteTrialCommand closes the trial with the set of kept line items.
type CompleteTrialCommand struct {
	OrderID     string
	CustomerID  string
	KeptItemIDs []string
}

// InitiateReturnCommand schedules a pickup for returned items.
type InitiateReturnCommand struct {
	OrderID    string
	CustomerID string
}

// InitiateReturnResult carries the pickup code handed to the customer.
type InitiateReturnResult struct {
	Order      Order
	PickupCode string
}

// ReceiveReturnCommand confirms returned goods are back.
type ReceiveReturnCommand struct {
	OrderID    string
	PickupCode string
	ActorID    string
}

// VerifyCashCommand settles a cash-on-delivery order with the one-time code.
type VerifyCashCommand struct {
	OrderID string
	Code    string
	ActorID string
}

// VerifyTransferCommand settles a bank transfer or UPI order.
type VerifyTransferCommand struct {
	OrderID       string
	TransactionID string
	ActorID       string
}

// ConfirmGatewayPaymentCommand carries a client-side gateway confirmation.
type ConfirmGatewayPaymentCommand struct {
	OrderID           string
	CustomerID        string
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// PaymentWebhookCommand is a raw provider callback.
type PaymentWebhookCommand struct {
	Body      []byte
	Signature string
}

// WebhookResult reports how a webhook delivery was handled.
type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
	OrderID   string
}

// RefundCommand requests a refund against a settled order.
type RefundCommand struct {
	OrderID string
	Amount  int64
	Reason  string
	ActorID string
}

// RestockCommand adds stock to a variant.
type RestockCommand struct {
	Key               InventoryKey
	Quantity          int
	LowStockThreshold *int
}
