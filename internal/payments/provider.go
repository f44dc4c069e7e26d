package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable is returned when gateway payments are requested but no provider is configured.
	ErrGatewayUnavailable = errors.New("payments: gateway not configured")
)

// GatewayIntentRequest opens a remote payment order sized in minor units.
type GatewayIntentRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerID     string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// GatewayIntent is the provider-side payment order returned to the client.
type GatewayIntent struct {
	Provider        string
	ProviderOrderID string
	ClientSecret    string
}

// RefundStatus mirrors the provider refund outcome in local terms.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

// RefundRequest defines a refund against a settled payment. RefundID doubles as the idempotency key.
type RefundRequest struct {
	RefundID          string
	OrderID           string
	ProviderReference string
	Amount            int64
	Currency          string
	Reason            string
	Metadata          map[string]string
}

// RefundResult is what the provider acknowledged.
type RefundResult struct {
	ProviderRefundID string
	Status           RefundStatus
}

// Gateway is the contract PSP adapters implement.
type Gateway interface {
	CreateIntent(ctx context.Context, req GatewayIntentRequest) (GatewayIntent, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Manager routes gateway calls to a registered provider by currency, falling back to the default.
type Manager struct {
	providers       map[string]Gateway
	defaultProvider string
	currencyRoutes  map[string]string
}

var _ Gateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Gateway, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered[stripeProviderName]; ok {
		m.defaultProvider = stripeProviderName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(currency string) (string, Gateway, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrGatewayUnavailable
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if key, ok := m.currencyRoutes[currency]; ok && currency != "" {
		key = strings.ToLower(key)
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the provider routed for the request currency.
func (m *Manager) CreateIntent(ctx context.Context, req GatewayIntentRequest) (GatewayIntent, error) {
	key, provider, err := m.resolve(req.Currency)
	if err != nil {
		return GatewayIntent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return GatewayIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// Refund delegates to the provider routed for the refund currency.
func (m *Manager) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	_, provider, err := m.resolve(req.Currency)
	if err != nil {
		return RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}
