package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/tabitours/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Secret Manager.
// Values are cached for a TTL; a local fallback file serves development without credentials.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	project    string
	cacheTTL   time.Duration
	now        func() time.Time
	callOpts   []gax.CallOption

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	latency metric.Float64Histogram
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	cacheTTL     time.Duration
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	now          func() time.Time
}

type Option func(*fetcherConfig)

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithDefaultProject sets the project for short references such as secret://paymongo-secret.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

func WithCacheTTL(d time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if d > 0 {
			cfg.cacheTTL = d
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

func withClock(now func() time.Time) Option {
	return func(cfg *fetcherConfig) { cfg.now = now }
}

// NewFetcher never fails on missing credentials; it logs and serves the fallback file instead.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:       cfg.logger,
		project:      cfg.project,
		cacheTTL:     cfg.cacheTTL,
		now:          cfg.now,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
		callOpts: []gax.CallOption{
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
					Initial:    100 * time.Millisecond,
					Max:        2 * time.Second,
					Multiplier: 2,
				})
			}),
		},
	}

	latency, err := cfg.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret resolution"))
	if err != nil {
		cfg.logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	} else {
		f.latency = latency
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable; using fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref. NotFound is never masked by the fallback file;
// permission and availability errors are.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.now()
	resource, err := f.resourceName(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(resource); ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	if f.client != nil {
		value, err := f.fetch(ctx, resource)
		if err == nil {
			f.store(resource, value)
			f.record(ctx, start, "remote")
			return value, nil
		}
		if !isFallbackError(err) {
			f.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", resource, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("resource", resource), zap.Error(err))
	}

	value, ok := f.lookupFallback(ref, resource)
	if !ok {
		f.record(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value for %s", resource)
	}
	f.store(resource, value)
	f.record(ctx, start, "fallback")
	return value, nil
}

// resourceName maps secret://name[?version=v] or secret://projects/p/secrets/name[/versions/v]
// to a Secret Manager version resource.
func (f *Fetcher) resourceName(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Scheme != "secret" {
		return "", fmt.Errorf("secrets: invalid reference %q", ref)
	}
	path := strings.Trim(u.Host+u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	if strings.HasPrefix(path, "projects/") {
		parts := strings.Split(path, "/")
		switch {
		case len(parts) == 4 && parts[2] == "secrets":
			return path + "/versions/" + version, nil
		case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions":
			return path, nil
		default:
			return "", fmt.Errorf("secrets: malformed resource in %q", ref)
		}
	}
	if f.project == "" {
		return "", fmt.Errorf("secrets: no project configured for %q", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.project, path, version), nil
}

func (f *Fetcher) fetch(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource}, f.callOpts...)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("secrets: empty payload")
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(resource string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[resource]
	if !ok || !f.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(resource, value string) {
	f.mu.Lock()
	f.cache[resource] = cachedSecret{value: value, expiresAt: f.now().Add(f.cacheTTL)}
	f.mu.Unlock()
}

// Invalidate drops every cached version of ref so the next Resolve refetches.
func (f *Fetcher) Invalidate(ref string) {
	resource, err := f.resourceName(ref)
	if err != nil {
		return
	}
	secret := resource[:strings.LastIndex(resource, "/versions/")]
	f.mu.Lock()
	for key := range f.cache {
		if strings.HasPrefix(key, secret+"/versions/") {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

// lookupFallback reads KEY=VALUE lines where KEY is a reference or a resource name.
func (f *Fetcher) lookupFallback(ref, resource string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		path, err := filepath.Abs(f.fallbackPath)
		if err != nil {
			path = f.fallbackPath
		}
		file, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: unable to open fallback file", zap.String("path", path), zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			if rest, found := strings.CutPrefix(key, "sm://"); found {
				key = "secret://" + rest
			}
			f.fallback[key] = strings.TrimSpace(value)
		}
	})
	if value, ok := f.fallback[strings.TrimSpace(ref)]; ok {
		return value, true
	}
	value, ok := f.fallback[resource]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(f.now().Sub(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
