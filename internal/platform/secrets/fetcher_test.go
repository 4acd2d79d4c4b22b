package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errors: map[string]error{}, counter: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err := f.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/tabi/secrets/paymongo-secret/versions/latest"
	client.values[resource] = "sk_live_1"

	now := time.Unix(1_760_000_000, 0)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("tabi"),
		WithCacheTTL(time.Minute),
		withClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://paymongo-secret")
		if err != nil || got != "sk_live_1" {
			t.Fatalf("resolve: %q %v", got, err)
		}
	}
	if calls := client.calls(resource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := fetcher.Resolve(ctx, "secret://paymongo-secret"); err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if calls := client.calls(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d", calls)
	}
}

func TestResolveFullResourceReferences(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/webhook/versions/3"] = "whsk_3"
	client.values["projects/other/secrets/webhook/versions/latest"] = "whsk_latest"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	cases := map[string]string{
		"secret://projects/other/secrets/webhook/versions/3": "whsk_3",
		"secret://projects/other/secrets/webhook":            "whsk_latest",
		"secret://projects/other/secrets/webhook?version=3":  "whsk_3",
	}
	for ref, want := range cases {
		got, err := fetcher.Resolve(ctx, ref)
		if err != nil || got != want {
			t.Errorf("%s: got %q err=%v, want %q", ref, got, err, want)
		}
	}

	if _, err := fetcher.Resolve(ctx, "secret://short-name"); err == nil {
		t.Fatalf("expected error for short reference without default project")
	}
	if _, err := fetcher.Resolve(ctx, "https://example.com"); err == nil {
		t.Fatalf("expected error for non-secret scheme")
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/tabi/secrets/paymongo-secret/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("tabi"),
		WithFallbackFile(writeFallback(t, "# local\nsm://paymongo-secret=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://paymongo-secret")
	if err != nil || got != "sk_test_local" {
		t.Fatalf("expected fallback value, got %q %v", got, err)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(newFakeSecretClient()),
		WithDefaultProject("tabi"),
		WithFallbackFile(writeFallback(t, "secret://paymongo-secret=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://paymongo-secret"); status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected NotFound to surface, got %v", err)
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(context.Background(),
		WithDefaultProject("tabi"),
		WithFallbackFile(writeFallback(t, "projects/tabi/secrets/stripe-key/versions/latest=sk_stripe_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.ResolveSecret(context.Background(), "secret://stripe-key")
	if err != nil || got != "sk_stripe_local" {
		t.Fatalf("expected resource-keyed fallback, got %q %v", got, err)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/tabi/secrets/webhook/versions/latest"
	client.values[resource] = "v1"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("tabi"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://webhook"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	client.values[resource] = "v2"
	fetcher.Invalidate("secret://webhook")

	got, err := fetcher.Resolve(ctx, "secret://webhook")
	if err != nil || got != "v2" {
		t.Fatalf("expected rotated value, got %q %v", got, err)
	}
}
