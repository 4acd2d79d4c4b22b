package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz", "/api/v1/healthz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%s: expected json content type, got %s", path, ct)
		}
	}
}

func TestNewRouterUnregisteredGroupsAreNotImplemented(t *testing.T) {
	router := NewRouter()

	cases := map[string]string{
		"/api/v1/quotes":                  http.MethodPost,
		"/api/v1/checkout":                http.MethodPost,
		"/api/v1/bookings/bk_1":           http.MethodGet,
		"/api/v1/webhooks/paymongo":       http.MethodPost,
		"/api/v1/internal/bookings:sweep": http.MethodPost,
	}
	for path, method := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected status 501, got %d", path, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: expected JSON body: %v", path, err)
		}
		if body["error"] != "not_implemented" {
			t.Fatalf("%s: expected not_implemented, got %v", path, body["error"])
		}
	}
}

func TestNewRouterNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does/not/exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found error, got %v", body["error"])
	}
	if body["request_id"] == nil {
		t.Fatalf("expected request id in envelope, got %v", body)
	}
}

func TestNewRouterGroupMiddlewareScope(t *testing.T) {
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Chain", name)
				next.ServeHTTP(w, r)
			})
		}
	}
	ok := func(path string) RouteRegistrar {
		return func(r chi.Router) {
			r.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}

	router := NewRouter(
		WithQuoteRoutes(ok("/quotes")),
		WithCheckoutRoutes(ok("/checkout")),
		WithBookingRoutes(ok("/bookings/{bookingId}")),
		WithWebhookRoutes(ok("/webhooks/paymongo")),
		WithInternalRoutes(ok("/internal/bookings:sweep")),
		WithCustomerMiddlewares(tag("customer")),
		WithWebhookMiddlewares(tag("signature")),
		WithInternalMiddlewares(tag("oidc")),
	)

	cases := map[string]string{
		"/api/v1/quotes":                  "",
		"/api/v1/checkout":                "customer",
		"/api/v1/bookings/bk_1":           "customer",
		"/api/v1/webhooks/paymongo":       "signature",
		"/api/v1/internal/bookings:sweep": "oidc",
	}
	for path, chain := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected status 204, got %d", path, rr.Code)
		}
		if got := strings.Join(rr.Header().Values("X-Chain"), ","); got != chain {
			t.Fatalf("%s: expected middleware chain %q, got %q", path, chain, got)
		}
	}
}
