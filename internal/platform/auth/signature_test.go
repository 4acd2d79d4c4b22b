package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsk_test_secret"

func signHeader(secret, timestamp string, body []byte, field string) string {
	sig := hex.EncodeToString(ComputeWebhookSignature([]byte(secret), timestamp, body))
	if field == "li" {
		return fmt.Sprintf("t=%s,te=,li=%s", timestamp, sig)
	}
	return fmt.Sprintf("t=%s,te=%s,li=", timestamp, sig)
}

func TestVerifyAcceptsTestModeSignature(t *testing.T) {
	body := []byte(`{"data":{"id":"evt_1"}}`)
	v := NewWebhookSignatureVerifier(testWebhookSecret)
	if err := v.Verify(signHeader(testWebhookSecret, "1760000000", body, "te"), body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyPrefersLiveFieldInLiveMode(t *testing.T) {
	body := []byte(`{"data":{"id":"evt_live"}}`)
	good := hex.EncodeToString(ComputeWebhookSignature([]byte(testWebhookSecret), "1760000000", body))
	header := fmt.Sprintf("t=1760000000,te=%s,li=%s", strings.Repeat("00", 32), good)

	live := NewWebhookSignatureVerifier(testWebhookSecret, WithLiveMode(true))
	if err := live.Verify(header, body); err != nil {
		t.Fatalf("live verifier should use li: %v", err)
	}
	test := NewWebhookSignatureVerifier(testWebhookSecret)
	if err := test.Verify(header, body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("test verifier should use te and fail, got %v", err)
	}
}

func TestVerifyFallsBackToOtherField(t *testing.T) {
	body := []byte(`{}`)
	v := NewWebhookSignatureVerifier(testWebhookSecret, WithLiveMode(true))
	if err := v.Verify(signHeader(testWebhookSecret, "1760000000", body, "te"), body); err != nil {
		t.Fatalf("expected te fallback in live mode, got %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"amount":8500000}`)
	header := signHeader(testWebhookSecret, "1760000000", body, "te")
	v := NewWebhookSignatureVerifier(testWebhookSecret)
	if err := v.Verify(header, []byte(`{"amount":100}`)); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := v.Verify(signHeader("other-secret", "1760000000", body, "te"), body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for wrong secret, got %v", err)
	}
}

func TestVerifyMalformedHeaders(t *testing.T) {
	v := NewWebhookSignatureVerifier(testWebhookSecret)
	cases := map[string]error{
		"":                  ErrSignatureMissing,
		"te=abcd":           ErrSignatureMalformed,
		"t=1760000000":      ErrSignatureMalformed,
		"t=1,te=,li=":       ErrSignatureMalformed,
		"t=1,te=zz-not-hex": ErrSignatureMalformed,
	}
	for header, want := range cases {
		if err := v.Verify(header, []byte(`{}`)); !errors.Is(err, want) {
			t.Errorf("header %q: expected %v, got %v", header, want, err)
		}
	}
}

func TestVerifyTolerance(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1_760_000_000, 0)
	v := NewWebhookSignatureVerifier(testWebhookSecret,
		WithSignatureTolerance(5*time.Minute),
		WithSignatureClock(func() time.Time { return now }),
	)
	if err := v.Verify(signHeader(testWebhookSecret, "1760000100", body, "te"), body); err != nil {
		t.Fatalf("expected fresh signature to pass, got %v", err)
	}
	if err := v.Verify(signHeader(testWebhookSecret, "1759990000", body, "te"), body); !errors.Is(err, ErrSignatureStale) {
		t.Fatalf("expected stale signature, got %v", err)
	}
}

func TestRequireSignatureMiddleware(t *testing.T) {
	body := `{"data":{"id":"evt_1"}}`
	metrics := &recordingMetrics{}
	v := NewWebhookSignatureVerifier(testWebhookSecret, WithSignatureMetrics(metrics))

	var seen string
	handler := v.RequireSignature()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymongo", strings.NewReader(body))
	req.Header.Set(WebhookSignatureHeader, signHeader(testWebhookSecret, "1760000000", []byte(body), "te"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || seen != body {
		t.Fatalf("expected body to reach handler, status=%d body=%q", rr.Code, seen)
	}
	if rec := metrics.last(); !rec.success || rec.kind != "webhook_signature" {
		t.Fatalf("unexpected metric %+v", rec)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymongo", strings.NewReader(body))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rr.Code)
	}
	if rec := metrics.last(); rec.reason != "signature_missing" {
		t.Fatalf("unexpected metric %+v", rec)
	}
}

type capturingLogger struct{ lines []string }

func (l *capturingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestRequireSignatureDisabledWithoutSecret(t *testing.T) {
	logger := &capturingLogger{}
	v := NewWebhookSignatureVerifier("  ", WithSignatureLogger(logger))
	if v.Enabled() {
		t.Fatalf("blank secret must disable verification")
	}
	called := false
	handler := v.RequireSignature()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymongo", strings.NewReader(`{}`)))
	if !called {
		t.Fatalf("expected passthrough when disabled")
	}
	if len(logger.lines) != 1 {
		t.Fatalf("expected a warning per request, got %v", logger.lines)
	}
}

func TestRequireSignatureAcceptsPlainHeader(t *testing.T) {
	body := `{"data":{"id":"evt_plain"}}`
	v := NewWebhookSignatureVerifier(testWebhookSecret)
	handler := v.RequireSignature()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymongo", strings.NewReader(body))
	req.Header.Set(PlainSignatureHeader, signHeader(testWebhookSecret, "1760000000", []byte(body), "te"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected Signature header to be accepted, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymongo", strings.NewReader(body))
	req.Header.Set(PlainSignatureHeader, signHeader("other-secret", "1760000000", []byte(body), "te"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad Signature header, got %d", rr.Code)
	}
}

const testStripeSecret = "whsec_test_secret"

func stripeHeader(secret string, body []byte, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func TestStripeVerifier(t *testing.T) {
	body := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	v := NewStripeSignatureVerifier(testStripeSecret)

	if err := v.Verify(stripeHeader(testStripeSecret, body, time.Now()), body); err != nil {
		t.Fatalf("expected valid stripe signature, got %v", err)
	}
	if err := v.Verify(stripeHeader("whsec_other", body, time.Now()), body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '
	if err := v.Verify(stripeHeader(testStripeSecret, body, time.Now()), tampered); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for tampered body, got %v", err)
	}
	if err := v.Verify("", body); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("expected missing, got %v", err)
	}
	if err := v.Verify("garbage", body); !errors.Is(err, ErrSignatureMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
	// Without a tolerance old signatures still verify.
	if err := v.Verify(stripeHeader(testStripeSecret, body, time.Now().Add(-24*time.Hour)), body); err != nil {
		t.Fatalf("expected old signature to pass without tolerance, got %v", err)
	}

	strict := NewStripeSignatureVerifier(testStripeSecret, WithSignatureTolerance(5*time.Minute))
	if err := strict.Verify(stripeHeader(testStripeSecret, body, time.Now().Add(-time.Hour)), body); !errors.Is(err, ErrSignatureStale) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestStripeRequireSignatureMiddleware(t *testing.T) {
	body := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`
	metrics := &recordingMetrics{}
	v := NewStripeSignatureVerifier(testStripeSecret, WithSignatureMetrics(metrics))

	var seen string
	handler := v.RequireSignature()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(StripeSignatureHeader, stripeHeader(testStripeSecret, []byte(body), time.Now()))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || seen != body {
		t.Fatalf("expected body to reach handler, status=%d body=%q", rr.Code, seen)
	}
	if rec := metrics.last(); !rec.success || rec.kind != "stripe_signature" {
		t.Fatalf("unexpected metric %+v", rec)
	}

	// A PayMongo header does not satisfy the Stripe verifier.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(WebhookSignatureHeader, signHeader(testStripeSecret, "1760000000", []byte(body), "te"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rec := metrics.last(); rec.reason != "signature_missing" {
		t.Fatalf("unexpected metric %+v", rec)
	}
}
