package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/tah/secrets/payments-webhook/versions/latest"
	client.values[resource] = "whsec"

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("tah"), WithFallbackFile(""), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://payments-webhook")
		if err != nil || got != "whsec" {
			t.Fatalf("resolve %d: got %q err=%v", i, got, err)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	if _, err := fetcher.Resolve(ctx, "secret://payments-webhook"); err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/stripe/versions/3"] = "sk_v3"

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("tah"), WithFallbackFile(""))
	got, err := fetcher.Resolve(ctx, "secret://stripe?version=3&project=other")
	if err != nil || got != "sk_v3" {
		t.Fatalf("expected pinned version, got %q err=%v", got, err)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("# local\nsm://gateway-key=local-secret\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.errs["projects/tah/secrets/gateway-key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("tah"), WithFallbackFile(path))
	got, err := fetcher.Resolve(ctx, "secret://gateway-key")
	if err != nil || got != "local-secret" {
		t.Fatalf("expected fallback value, got %q err=%v", got, err)
	}
}

func TestResolvePropagatesHardFailures(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs["projects/tah/secrets/db/versions/latest"] = status.Error(codes.InvalidArgument, "bad name")

	fetcher, _ := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("tah"), WithFallbackFile(""))
	if _, err := fetcher.Resolve(ctx, "secret://db"); err == nil || !strings.Contains(err.Error(), "fetch failed") {
		t.Fatalf("expected fetch failure, got %v", err)
	}
}

func TestParseReferenceRejectsInvalid(t *testing.T) {
	for _, ref := range []string{"", "https://x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}
