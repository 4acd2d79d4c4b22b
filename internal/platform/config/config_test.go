package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID":      "tabi-dev",
		"API_CHECKOUT_RETURN_URL_BASE": "https://tours.example/checkout/",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "tabi-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "tabi-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Catalog.Currency != "PHP" || cfg.Checkout.DefaultCurrency != "PHP" || cfg.Checkout.QRCurrency != "PHP" {
		t.Errorf("unexpected currency defaults: %+v %+v", cfg.Catalog, cfg.Checkout)
	}
	if cfg.Checkout.ReturnURLBase != "https://tours.example/checkout" {
		t.Errorf("expected trailing slash to be trimmed, got %s", cfg.Checkout.ReturnURLBase)
	}
	if cfg.Checkout.TransferAddOnID != defaultTransferAddOnID {
		t.Errorf("unexpected transfer add-on id: %s", cfg.Checkout.TransferAddOnID)
	}
	if cfg.Checkout.IdempotencyHeader != defaultIdempotencyHeader || cfg.Checkout.IdempotencyTTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Checkout)
	}
	if cfg.Gateway.CallTimeout != 15*time.Second {
		t.Errorf("unexpected gateway call timeout: %s", cfg.Gateway.CallTimeout)
	}
	if cfg.Gateway.StatusRetries != 3 {
		t.Errorf("unexpected status retries: %d", cfg.Gateway.StatusRetries)
	}
	if cfg.Gateway.DefaultProvider != "paymongo" || cfg.Gateway.PayMongoBaseURL != defaultPayMongoBaseURL {
		t.Errorf("unexpected gateway defaults: %+v", cfg.Gateway)
	}
	if len(cfg.Gateway.CurrencyRoutes) != 0 {
		t.Errorf("expected no currency routes, got %v", cfg.Gateway.CurrencyRoutes)
	}
	if !cfg.Reaper.Enabled || cfg.Reaper.PendingTTL != 2*time.Hour || cfg.Reaper.Interval != 10*time.Minute {
		t.Errorf("unexpected reaper defaults: %+v", cfg.Reaper)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultSecurityIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Storage.WebhookArchiveBucket != "" || cfg.Storage.WebhookArchivePrefix != defaultArchivePrefix {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_CATALOG_CURRENCY"] = "jpy"
	env["API_CHECKOUT_DEFAULT_CURRENCY"] = "usd"
	env["API_GATEWAY_CURRENCY_ROUTES"] = "USD=stripe, PHP=paymongo,broken"
	env["API_GATEWAY_CALL_TIMEOUT"] = "5s"
	env["API_GATEWAY_LIVE_MODE"] = "yes"
	env["API_BOOKING_PENDING_TTL"] = "45m"
	env["API_BOOKING_REAPER_ENABLED"] = "off"
	env["API_SECURITY_ENVIRONMENT"] = "PROD"
	env["API_SECURITY_OIDC_AUDIENCES"] = "prod=https://api.tabi.example,dev=https://dev.tabi.example"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Catalog.Currency != "JPY" || cfg.Checkout.DefaultCurrency != "USD" {
		t.Errorf("unexpected currencies: %s %s", cfg.Catalog.Currency, cfg.Checkout.DefaultCurrency)
	}
	if got := cfg.Gateway.CurrencyRoutes; len(got) != 2 || got["usd"] != "stripe" || got["php"] != "paymongo" {
		t.Errorf("unexpected currency routes: %v", got)
	}
	if cfg.Gateway.CallTimeout != 5*time.Second || !cfg.Gateway.LiveMode {
		t.Errorf("unexpected gateway overrides: %+v", cfg.Gateway)
	}
	if cfg.Reaper.PendingTTL != 45*time.Minute || cfg.Reaper.Enabled {
		t.Errorf("unexpected reaper overrides: %+v", cfg.Reaper)
	}
	if cfg.Security.OIDC.Audience != "https://api.tabi.example" {
		t.Errorf("expected audience resolved from environment map, got %q", cfg.Security.OIDC.Audience)
	}
}

func TestLoadInvalidDurationKeepsDefault(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_CALL_TIMEOUT"] = "soon"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gateway.CallTimeout != defaultGatewayCallTimeout {
		t.Errorf("expected default timeout, got %s", cfg.Gateway.CallTimeout)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_CATALOG_CURRENCY":       "PESO",
		"API_BOOKING_SWEEP_BATCH":    "0",
		"API_BOOKING_PENDING_TTL":    "-1m",
		"API_CHECKOUT_QR_CURRENCY":   "PHP",
		"API_GATEWAY_STATUS_RETRIES": "0",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Firebase.ProjectID":     false,
		"Firestore.ProjectID":    false,
		"Catalog.Currency":       false,
		"Checkout.ReturnURLBase": false,
		"Reaper.BatchSize":       false,
		"Reaper.PendingTTL":      false,
		"Gateway.StatusRetries":  false,
	}
	for _, field := range vErr.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation errors, got %v", field, vErr.Fields())
		}
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_PAYMONGO_SECRET_KEY"] = "sm://projects/tabi/secrets/paymongo-secret"
	env["API_GATEWAY_WEBHOOK_SECRET"] = "secret://projects/tabi/secrets/paymongo-webhook"
	env["API_GATEWAY_STRIPE_API_KEY"] = "sk_plain"
	env["API_GATEWAY_STRIPE_WEBHOOK_SECRET"] = "secret://projects/tabi/secrets/stripe-webhook"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		values := map[string]string{
			"secret://projects/tabi/secrets/paymongo-secret":  "sk_test_resolved",
			"secret://projects/tabi/secrets/paymongo-webhook": "whsk_resolved",
			"secret://projects/tabi/secrets/stripe-webhook":   "whsec_resolved",
		}
		value, ok := values[ref]
		if !ok {
			t.Fatalf("unexpected ref %s", ref)
		}
		return value, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gateway.PayMongoSecretKey != "sk_test_resolved" {
		t.Errorf("expected resolved secret key, got %s", cfg.Gateway.PayMongoSecretKey)
	}
	if cfg.Gateway.WebhookSecret != "whsk_resolved" {
		t.Errorf("expected resolved webhook secret, got %s", cfg.Gateway.WebhookSecret)
	}
	if cfg.Gateway.StripeAPIKey != "sk_plain" {
		t.Errorf("expected plain value to pass through, got %s", cfg.Gateway.StripeAPIKey)
	}
	if cfg.Gateway.StripeWebhookSecret != "whsec_resolved" {
		t.Errorf("expected resolved stripe webhook secret, got %s", cfg.Gateway.StripeWebhookSecret)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_WEBHOOK_SECRET"] = "secret://projects/tabi/secrets/webhook"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Gateway.PayMongoSecretKey", "Gateway.WebhookSecret", "Gateway.WebhookSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	names := missing.Names()
	if len(names) != 2 || names[0] != "Gateway.PayMongoSecretKey" || names[1] != "Gateway.WebhookSecret" {
		t.Fatalf("unexpected missing names %v", names)
	}
	for _, redacted := range missing.RedactedNames() {
		if redacted == "Gateway.WebhookSecret" || len(redacted) != 16 {
			t.Fatalf("expected hashed name, got %s", redacted)
		}
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_FIREBASE_PROJECT_ID=\"tabi-file\"\nAPI_CHECKOUT_RETURN_URL_BASE=https://file.example\nAPI_SERVER_PORT=7070\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "tabi-file" {
		t.Errorf("expected project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit map to win over dotenv, got %s", cfg.Server.Port)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=file\nB=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"B": "map"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["A"] != "file" || values["B"] != "map" {
		t.Fatalf("unexpected merged values %v", values)
	}
}
