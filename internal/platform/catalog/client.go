// Package catalog resolves variant prices from the product catalog collaborator, either over HTTP
// or from a local YAML file used in development and by the seed-inventory command.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tryathome/orderflow/internal/services"
)

const defaultTimeout = 3 * time.Second

// Client calls GET {baseURL}/products/{productID}/variants/{variantID}.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ services.CatalogClient = (*Client)(nil)

type variantPayload struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

// NewClient constructs an HTTP catalog client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("catalog: base url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// GetVariant fetches the current price and availability of a variant.
func (c *Client) GetVariant(ctx context.Context, productID, variantID string) (services.CatalogVariant, error) {
	endpoint, err := url.JoinPath(c.baseURL, "products", productID, "variants", variantID)
	if err != nil {
		return services.CatalogVariant{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.CatalogVariant{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return services.CatalogVariant{}, fmt.Errorf("catalog: get variant: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.CatalogVariant{}, fmt.Errorf("%w: %s/%s", services.ErrCatalogVariantNotFound, productID, variantID)
	case resp.StatusCode >= 400:
		return services.CatalogVariant{}, fmt.Errorf("catalog: variant status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var payload variantPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return services.CatalogVariant{}, fmt.Errorf("catalog: decode variant: %w", err)
	}
	return services.CatalogVariant{
		ProductID: defaultString(payload.ProductID, productID),
		VariantID: defaultString(payload.VariantID, variantID),
		Name:      strings.TrimSpace(payload.Name),
		Price:     payload.Price,
		Available: payload.Available,
	}, nil
}

func drainError(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return strings.TrimSpace(string(data))
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
