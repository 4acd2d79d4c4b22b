package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 45 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultCatalogCurrency     = "PHP"
	defaultQRCurrency          = "PHP"
	defaultPayMongoBaseURL     = "https://api.paymongo.com/v1"
	defaultGatewayCallTimeout  = 15 * time.Second
	defaultStatusRetries       = 3
	defaultSignatureTolerance  = 0
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultCleanupInterval     = time.Hour
	defaultCleanupBatchSize    = 200
	defaultPendingTTL          = 2 * time.Hour
	defaultSweepInterval       = 10 * time.Minute
	defaultSweepBatchSize      = 100
	defaultBookingEventsTopic  = "booking-events"
	defaultArchivePrefix       = "webhooks/paymongo"
	defaultTransferAddOnID     = "airport-transfer"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	PubSub    PubSubConfig
	Catalog   CatalogConfig
	Gateway   GatewayConfig
	Checkout  CheckoutConfig
	Reaper    ReaperConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig controls where verified webhook payloads are archived. An empty bucket disables archiving.
type StorageConfig struct {
	WebhookArchiveBucket string
	WebhookArchivePrefix string
}

// PubSubConfig controls booking event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID          string
	BookingEventsTopic string
}

type CatalogConfig struct {
	Currency string
}

// GatewayConfig holds payment gateway credentials and call policy.
type GatewayConfig struct {
	PayMongoSecretKey   string
	PayMongoBaseURL     string
	WebhookSecret       string
	LiveMode            bool
	SignatureTolerance  time.Duration
	StripeAPIKey        string
	StripeAccountID     string
	StripeWebhookSecret string
	DefaultProvider     string
	CurrencyRoutes      map[string]string
	CallTimeout         time.Duration
	StatusRetries       int
}

// CheckoutConfig controls the payment orchestration defaults.
type CheckoutConfig struct {
	DefaultCurrency     string
	QRCurrency          string
	ReturnURLBase       string
	StatementDescriptor string
	TransferAddOnID     string
	IdempotencyHeader   string
	IdempotencyTTL      time.Duration
	CleanupInterval     time.Duration
	CleanupBatchSize    int
}

// ReaperConfig controls expiry of bookings stuck in pending.
type ReaperConfig struct {
	Enabled    bool
	PendingTTL time.Duration
	Interval   time.Duration
	BatchSize  int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification on internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to an empty value.
// Names are reported as short hashes so the error can be logged.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Gateway.PayMongoSecretKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles configuration from defaults, .env, the environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	env := source(func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotEnv[key]
		return v, ok
	})

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			WebhookArchiveBucket: env.str("API_STORAGE_WEBHOOK_ARCHIVE_BUCKET", ""),
			WebhookArchivePrefix: env.str("API_STORAGE_WEBHOOK_ARCHIVE_PREFIX", defaultArchivePrefix),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.str("API_PUBSUB_PROJECT_ID", ""),
			BookingEventsTopic: env.str("API_PUBSUB_BOOKING_EVENTS_TOPIC", defaultBookingEventsTopic),
		},
		Catalog: CatalogConfig{
			Currency: strings.ToUpper(env.str("API_CATALOG_CURRENCY", defaultCatalogCurrency)),
		},
		Gateway: GatewayConfig{
			PayMongoSecretKey:   env.str("API_GATEWAY_PAYMONGO_SECRET_KEY", ""),
			PayMongoBaseURL:     env.str("API_GATEWAY_PAYMONGO_BASE_URL", defaultPayMongoBaseURL),
			WebhookSecret:       env.str("API_GATEWAY_WEBHOOK_SECRET", ""),
			LiveMode:            env.boolean("API_GATEWAY_LIVE_MODE", false),
			SignatureTolerance:  env.duration("API_GATEWAY_SIGNATURE_TOLERANCE", defaultSignatureTolerance),
			StripeAPIKey:        env.str("API_GATEWAY_STRIPE_API_KEY", ""),
			StripeAccountID:     env.str("API_GATEWAY_STRIPE_ACCOUNT_ID", ""),
			StripeWebhookSecret: env.str("API_GATEWAY_STRIPE_WEBHOOK_SECRET", ""),
			DefaultProvider:     strings.ToLower(env.str("API_GATEWAY_DEFAULT_PROVIDER", "paymongo")),
			CurrencyRoutes:      env.pairs("API_GATEWAY_CURRENCY_ROUTES"),
			CallTimeout:         env.duration("API_GATEWAY_CALL_TIMEOUT", defaultGatewayCallTimeout),
			StatusRetries:       env.integer("API_GATEWAY_STATUS_RETRIES", defaultStatusRetries),
		},
		Checkout: CheckoutConfig{
			DefaultCurrency:     strings.ToUpper(env.str("API_CHECKOUT_DEFAULT_CURRENCY", "")),
			QRCurrency:          strings.ToUpper(env.str("API_CHECKOUT_QR_CURRENCY", defaultQRCurrency)),
			ReturnURLBase:       strings.TrimRight(env.str("API_CHECKOUT_RETURN_URL_BASE", ""), "/"),
			StatementDescriptor: env.str("API_CHECKOUT_STATEMENT_DESCRIPTOR", ""),
			TransferAddOnID:     env.str("API_CHECKOUT_TRANSFER_ADDON_ID", defaultTransferAddOnID),
			IdempotencyHeader:   env.str("API_CHECKOUT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			IdempotencyTTL:      env.duration("API_CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:     env.duration("API_CHECKOUT_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize:    env.integer("API_CHECKOUT_CLEANUP_BATCH", defaultCleanupBatchSize),
		},
		Reaper: ReaperConfig{
			Enabled:    env.boolean("API_BOOKING_REAPER_ENABLED", true),
			PendingTTL: env.duration("API_BOOKING_PENDING_TTL", defaultPendingTTL),
			Interval:   env.duration("API_BOOKING_SWEEP_INTERVAL", defaultSweepInterval),
			BatchSize:  env.integer("API_BOOKING_SWEEP_BATCH", defaultSweepBatchSize),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Checkout.DefaultCurrency == "" {
		cfg.Checkout.DefaultCurrency = cfg.Catalog.Currency
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.PayMongoSecretKey", &cfg.Gateway.PayMongoSecretKey},
		{"Gateway.WebhookSecret", &cfg.Gateway.WebhookSecret},
		{"Gateway.StripeAPIKey", &cfg.Gateway.StripeAPIKey},
		{"Gateway.StripeWebhookSecret", &cfg.Gateway.StripeWebhookSecret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(len(cfg.Catalog.Currency) == 3, "Catalog.Currency")
	check(len(cfg.Checkout.QRCurrency) == 3, "Checkout.QRCurrency")
	check(len(cfg.Checkout.DefaultCurrency) == 3, "Checkout.DefaultCurrency")
	check(strings.HasPrefix(cfg.Checkout.ReturnURLBase, "https://") || strings.HasPrefix(cfg.Checkout.ReturnURLBase, "http://"), "Checkout.ReturnURLBase")
	check(strings.TrimSpace(cfg.Checkout.IdempotencyHeader) != "", "Checkout.IdempotencyHeader")
	check(cfg.Checkout.IdempotencyTTL > 0, "Checkout.IdempotencyTTL")
	check(cfg.Checkout.CleanupInterval > 0, "Checkout.CleanupInterval")
	check(cfg.Checkout.CleanupBatchSize > 0, "Checkout.CleanupBatchSize")
	check(cfg.Gateway.CallTimeout > 0, "Gateway.CallTimeout")
	check(cfg.Gateway.StatusRetries > 0, "Gateway.StatusRetries")
	check(cfg.Gateway.SignatureTolerance >= 0, "Gateway.SignatureTolerance")
	check(cfg.Reaper.PendingTTL > 0, "Reaper.PendingTTL")
	check(cfg.Reaper.Interval > 0, "Reaper.Interval")
	check(cfg.Reaper.BatchSize > 0, "Reaper.BatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}
