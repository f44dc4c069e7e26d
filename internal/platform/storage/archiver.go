package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/tryathome/orderflow/internal/services"
)

// objectWriter opens a writer for a new object. It must fail with a 412 when the object exists.
type objectWriter func(ctx context.Context, object string, metadata map[string]string) io.WriteCloser

// WebhookArchiver writes verified webhook bodies to a bucket. Objects are write-once; a redelivered
// event that is already archived is not an error.
type WebhookArchiver struct {
	open objectWriter
}

var _ services.WebhookArchiver = (*WebhookArchiver)(nil)

// NewWebhookArchiver constructs an archiver for bucket.
func NewWebhookArchiver(client *gcs.Client, bucket string) (*WebhookArchiver, error) {
	if client == nil {
		return nil, errors.New("storage archiver: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archiver: bucket is required")
	}
	handle := client.Bucket(bucket)
	return &WebhookArchiver{
		open: func(ctx context.Context, object string, metadata map[string]string) io.WriteCloser {
			w := handle.Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = "application/json"
			w.Metadata = metadata
			return w
		},
	}, nil
}

// ArchiveWebhook stores the raw body under the day partition of its receipt time.
func (a *WebhookArchiver) ArchiveWebhook(ctx context.Context, record services.WebhookRecord) error {
	if a == nil || a.open == nil {
		return errors.New("storage archiver: not initialised")
	}
	object, err := BuildObjectPath(PurposeWebhookPayload, PathParams{
		EventID:    record.EventID,
		ReceivedAt: record.ReceivedAt,
	})
	if err != nil {
		return err
	}

	w := a.open(ctx, object, map[string]string{
		"eventType": record.EventType,
		"eventId":   record.EventID,
	})
	if _, err := w.Write(record.Body); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage archiver: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("storage archiver: close %s: %w", object, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
