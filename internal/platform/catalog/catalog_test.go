package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tryathome/orderflow/internal/services"
)

const sampleCatalog = `
products:
  - id: kurta-01
    name: Cotton kurta
    variants:
      - id: M
        price: "1299.50"
        stock: 12
        lowStockThreshold: 2
      - id: XL
        price: "1399"
        unavailable: true
`

func TestParseFileCatalog(t *testing.T) {
	file, err := Parse(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	variant, err := file.GetVariant(context.Background(), "kurta-01", "M")
	if err != nil {
		t.Fatalf("get variant: %v", err)
	}
	if variant.Price.String() != "1299.5" || !variant.Available || variant.Name != "Cotton kurta" {
		t.Fatalf("unexpected variant %+v", variant)
	}

	xl, _ := file.GetVariant(context.Background(), "kurta-01", "XL")
	if xl.Available {
		t.Fatalf("expected XL unavailable")
	}

	if _, err := file.GetVariant(context.Background(), "kurta-01", "S"); !errors.Is(err, services.ErrCatalogVariantNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	stock := file.Stock()
	if len(stock) != 2 || stock[0].Quantity != 12 || stock[0].LowStockThreshold == nil || *stock[0].LowStockThreshold != 2 {
		t.Fatalf("unexpected stock %+v", stock)
	}
}

func TestParseFileCatalogRejectsBadDocuments(t *testing.T) {
	docs := map[string]string{
		"bad price":      "products:\n  - id: p\n    variants:\n      - id: v\n        price: abc\n",
		"negative price": "products:\n  - id: p\n    variants:\n      - id: v\n        price: \"-1\"\n",
		"missing id":     "products:\n  - variants:\n      - id: v\n        price: \"1\"\n",
		"duplicate":      "products:\n  - id: p\n    variants:\n      - id: v\n        price: \"1\"\n      - id: v\n        price: \"2\"\n",
	}
	for name, doc := range docs {
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestClientGetVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/kurta-01/variants/M":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"productId":"kurta-01","variantId":"M","name":"Cotton kurta","price":"499.99","available":true}`))
		case "/products/kurta-01/variants/BROKEN":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	variant, err := client.GetVariant(context.Background(), "kurta-01", "M")
	if err != nil {
		t.Fatalf("get variant: %v", err)
	}
	if variant.Price.String() != "499.99" || !variant.Available {
		t.Fatalf("unexpected variant %+v", variant)
	}

	if _, err := client.GetVariant(context.Background(), "kurta-01", "S"); !errors.Is(err, services.ErrCatalogVariantNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.GetVariant(context.Background(), "kurta-01", "BROKEN"); err == nil || errors.Is(err, services.ErrCatalogVariantNotFound) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	if _, err := NewClient(" ", 0); err == nil {
		t.Fatalf("expected error for blank base url")
	}
}
