// Package storage keeps raw provider payloads in Cloud Storage for reconciliation.
package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ObjectPurpose captures high-level intent for storage layout decisions.
type ObjectPurpose string

const (
	PurposeWebhookPayload ObjectPurpose = "webhook-payload"
	PurposeRefundRecord   ObjectPurpose = "refund-record"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	EventID    string
	OrderID    string
	RefundID   string
	ReceivedAt time.Time
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeWebhookPayload: buildWebhookPath,
		PurposeRefundRecord:   buildRefundPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

// webhooks/YYYY/MM/DD/<eventId>.json, partitioned by receipt day.
func buildWebhookPath(params PathParams) (string, error) {
	eventID, err := validateSegment("eventID", params.EventID)
	if err != nil {
		return "", err
	}
	if params.ReceivedAt.IsZero() {
		return "", fmt.Errorf("storage: receivedAt is required")
	}
	return fmt.Sprintf("webhooks/%s/%s.json", params.ReceivedAt.UTC().Format("2006/01/02"), eventID), nil
}

func buildRefundPath(params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	refundID, err := validateSegment("refundID", params.RefundID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("orders/%s/refunds/%s.json", orderID, refundID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
