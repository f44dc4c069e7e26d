package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tryathome/orderflow/internal/services"
)

// File is a read-only catalog loaded from YAML:
//
//	products:
//	  - id: kurta-01
//	    name: Cotton kurta
//	    variants:
//	      - id: M
//	        price: "1299.00"
//	        stock: 12
//	        lowStockThreshold: 2
type File struct {
	variants map[string]services.CatalogVariant
	stock    []StockEntry
}

var _ services.CatalogClient = (*File)(nil)

// StockEntry is the initial stock declared for a variant.
type StockEntry struct {
	ProductID         string
	VariantID         string
	Quantity          int
	LowStockThreshold *int
}

type fileDocument struct {
	Products []fileProduct `yaml:"products"`
}

type fileProduct struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Variants []fileVariant `yaml:"variants"`
}

type fileVariant struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Price             string `yaml:"price"`
	Unavailable       bool   `yaml:"unavailable"`
	Stock             int    `yaml:"stock"`
	LowStockThreshold *int   `yaml:"lowStockThreshold"`
}

// LoadFile parses the YAML catalog at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a YAML catalog document.
func Parse(r io.Reader) (*File, error) {
	var doc fileDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	out := &File{variants: make(map[string]services.CatalogVariant)}
	for _, product := range doc.Products {
		productID := strings.TrimSpace(product.ID)
		if productID == "" {
			return nil, errors.New("catalog: product without id")
		}
		for _, variant := range product.Variants {
			variantID := strings.TrimSpace(variant.ID)
			if variantID == "" {
				return nil, fmt.Errorf("catalog: product %s has a variant without id", productID)
			}
			price, err := decimal.NewFromString(strings.TrimSpace(variant.Price))
			if err != nil {
				return nil, fmt.Errorf("catalog: %s/%s price %q: %w", productID, variantID, variant.Price, err)
			}
			if price.IsNegative() {
				return nil, fmt.Errorf("catalog: %s/%s price must not be negative", productID, variantID)
			}
			if variant.Stock < 0 {
				return nil, fmt.Errorf("catalog: %s/%s stock must not be negative", productID, variantID)
			}
			key := productID + ":" + variantID
			if _, dup := out.variants[key]; dup {
				return nil, fmt.Errorf("catalog: duplicate variant %s", key)
			}
			name := strings.TrimSpace(product.Name)
			if v := strings.TrimSpace(variant.Name); v != "" {
				name = strings.TrimSpace(name + " " + v)
			}
			out.variants[key] = services.CatalogVariant{
				ProductID: productID,
				VariantID: variantID,
				Name:      name,
				Price:     price,
				Available: !variant.Unavailable,
			}
			out.stock = append(out.stock, StockEntry{
				ProductID:         productID,
				VariantID:         variantID,
				Quantity:          variant.Stock,
				LowStockThreshold: variant.LowStockThreshold,
			})
		}
	}
	return out, nil
}

// GetVariant implements services.CatalogClient.
func (f *File) GetVariant(_ context.Context, productID, variantID string) (services.CatalogVariant, error) {
	variant, ok := f.variants[strings.TrimSpace(productID)+":"+strings.TrimSpace(variantID)]
	if !ok {
		return services.CatalogVariant{}, fmt.Errorf("%w: %s/%s", services.ErrCatalogVariantNotFound, productID, variantID)
	}
	return variant, nil
}

// Stock lists the declared stock per variant in file order.
func (f *File) Stock() []StockEntry {
	return append([]StockEntry(nil), f.stock...)
}
