package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
)

func newTestPayMongo(t *testing.T, handler http.HandlerFunc) *PayMongoProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	provider, err := NewPayMongoProvider(PayMongoConfig{
		SecretKey:           "sk_test_123",
		BaseURL:             srv.URL,
		HTTPClient:          srv.Client(),
		StatusRetryAttempts: 3,
		Backoff:             gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 1.5},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestPayMongoCreateIntentSendsEnvelope(t *testing.T) {
	var captured map[string]any
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payment_intents" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "sk_test_123" || pass != "" {
			t.Fatalf("expected basic auth with secret key")
		}
		if got := r.Header.Get("Idempotency-Key"); got != "bk_1:intent" {
			t.Fatalf("unexpected idempotency key %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"id":"pi_1","attributes":{"amount":8500000,"currency":"PHP","client_key":"pi_1_client","status":"awaiting_payment_method"}}}`)
	})

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		Amount:         8500000,
		Currency:       "php",
		MethodTypes:    []MethodType{MethodQRPh},
		Description:    "Nara Day Tour",
		Metadata:       map[string]string{"booking_id": "bk_1"},
		IdempotencyKey: "bk_1:intent",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientKey != "pi_1_client" || intent.Status != StatusPending {
		t.Fatalf("unexpected intent %+v", intent)
	}

	attrs := captured["data"].(map[string]any)["attributes"].(map[string]any)
	if attrs["currency"] != "PHP" {
		t.Fatalf("expected upper-case currency, got %v", attrs["currency"])
	}
	allowed := attrs["payment_method_allowed"].([]any)
	if len(allowed) != 1 || allowed[0] != "qrph" {
		t.Fatalf("unexpected allowed methods %v", allowed)
	}
	if attrs["metadata"].(map[string]any)["booking_id"] != "bk_1" {
		t.Fatalf("expected booking metadata to be forwarded")
	}
}

func TestPayMongoClientErrorSurfacesVerbatim(t *testing.T) {
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":[{"code":"parameter_below_minimum","detail":"amount cannot be less than 2000."}]}`)
	})

	_, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "PHP", MethodTypes: []MethodType{MethodCard}})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.StatusCode != http.StatusBadRequest || gwErr.Code != "parameter_below_minimum" || gwErr.Detail != "amount cannot be less than 2000." {
		t.Fatalf("unexpected gateway error %+v", gwErr)
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("4xx must not be classified as unavailable")
	}
}

func TestPayMongoCreateIntentIsNotRetried(t *testing.T) {
	var calls int32
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 5000, Currency: "PHP", MethodTypes: []MethodType{MethodCard}})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestPayMongoRetrieveIntentRetriesTransientFailures(t *testing.T) {
	var calls int32
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/payment_intents/pi_9" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"id":"pi_9","attributes":{"amount":100,"currency":"PHP","status":"succeeded"}}}`)
	})

	intent, err := provider.RetrieveIntent(context.Background(), "pi_9")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if intent.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", intent.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestPayMongoRetrieveIntentStopsAtAttemptLimit(t *testing.T) {
	var calls int32
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := provider.RetrieveIntent(context.Background(), "pi_9"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestPayMongoAttachReturnsNextAction(t *testing.T) {
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment_intents/pi_1/attach" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body payMongoEnvelope[payMongoAttach]
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Data.Attributes.PaymentMethod != "pm_1" || body.Data.Attributes.ClientKey != "ck" || body.Data.Attributes.ReturnURL != "https://tours.example/return" {
			t.Fatalf("unexpected attach body %+v", body.Data.Attributes)
		}
		_, _ = io.WriteString(w, `{"data":{"id":"pi_1","attributes":{"status":"awaiting_next_action","next_action":{"type":"redirect","redirect":{"url":"https://3ds.example/challenge"}}}}}`)
	})

	intent, err := provider.AttachPaymentMethod(context.Background(), AttachRequest{
		IntentID:  "pi_1",
		MethodID:  "pm_1",
		ClientKey: "ck",
		ReturnURL: "https://tours.example/return",
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if intent.Status != StatusRequiresAction {
		t.Fatalf("expected requires_action, got %s", intent.Status)
	}
	if intent.NextAction.Type != NextActionRedirect || intent.NextAction.RedirectURL != "https://3ds.example/challenge" {
		t.Fatalf("unexpected next action %+v", intent.NextAction)
	}
}

func TestPayMongoQRAttachReturnsCode(t *testing.T) {
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":"pi_2","attributes":{"status":"awaiting_next_action","next_action":{"type":"consume_qr","code":{"image_url":"data:image/png;base64,AAAA"}}}}}`)
	})

	intent, err := provider.AttachPaymentMethod(context.Background(), AttachRequest{IntentID: "pi_2", MethodID: "pm_2"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if intent.NextAction.Type != NextActionQRCode || intent.NextAction.QRCodeImage == "" {
		t.Fatalf("expected qr next action, got %+v", intent.NextAction)
	}
}

func TestPayMongoCardMethodRequiresDetails(t *testing.T) {
	provider := newTestPayMongo(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("gateway must not be called")
	})
	if _, err := provider.CreatePaymentMethod(context.Background(), MethodRequest{Type: MethodCard}); err == nil {
		t.Fatalf("expected error for missing card")
	}
}
