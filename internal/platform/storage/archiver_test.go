package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/tryathome/orderflow/internal/services"
)

type memoryObject struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (o *memoryObject) Close() error {
	o.closed = true
	return o.closeErr
}

func TestWebhookArchiverWritesDayPartitionedObject(t *testing.T) {
	var (
		gotObject string
		gotMeta   map[string]string
		obj       = &memoryObject{}
	)
	archiver := &WebhookArchiver{open: func(_ context.Context, object string, meta map[string]string) io.WriteCloser {
		gotObject = object
		gotMeta = meta
		return obj
	}}

	err := archiver.ArchiveWebhook(context.Background(), services.WebhookRecord{
		EventID:    "evt_1",
		EventType:  "payment.captured",
		Body:       []byte(`{"id":"evt_1"}`),
		ReceivedAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ArchiveWebhook: %v", err)
	}
	if gotObject != "webhooks/2025/05/06/evt_1.json" {
		t.Fatalf("unexpected object %s", gotObject)
	}
	if gotMeta["eventType"] != "payment.captured" {
		t.Fatalf("unexpected metadata %#v", gotMeta)
	}
	if obj.String() != `{"id":"evt_1"}` || !obj.closed {
		t.Fatalf("expected body written and closed, got %q closed=%v", obj.String(), obj.closed)
	}
}

func TestWebhookArchiverTreatsExistingObjectAsArchived(t *testing.T) {
	tests := []struct {
		name     string
		closeErr error
		wantErr  bool
	}{
		{name: "exists", closeErr: &googleapi.Error{Code: http.StatusPreconditionFailed}},
		{name: "other failure", closeErr: errors.New("quota"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			archiver := &WebhookArchiver{open: func(context.Context, string, map[string]string) io.WriteCloser {
				return &memoryObject{closeErr: tc.closeErr}
			}}
			err := archiver.ArchiveWebhook(context.Background(), services.WebhookRecord{
				EventID:    "evt_1",
				ReceivedAt: time.Now(),
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
		})
	}
}

func TestNewWebhookArchiverValidates(t *testing.T) {
	if _, err := NewWebhookArchiver(nil, "bucket"); err == nil {
		t.Fatalf("expected error without client")
	}
}
