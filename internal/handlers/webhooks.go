package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabitours/api/internal/platform/httpx"
	"github.com/tabitours/api/internal/services"
)

const (
	maxWebhookBody  = 256 * 1024
	paymongoGateway = "paymongo"
	stripeGateway   = "stripe"
)

// WebhookHandlers receives gateway event deliveries. Each gateway route carries its own signature
// middleware, so the body seen here is already authenticated.
type WebhookHandlers struct {
	reconciler services.WebhookReconciler
	now        func() time.Time
	paymongoMW []func(http.Handler) http.Handler
	stripeMW   []func(http.Handler) http.Handler
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithPayMongoVerification wraps the PayMongo route, typically with its signature check.
func WithPayMongoVerification(mw ...func(http.Handler) http.Handler) WebhookOption {
	return func(h *WebhookHandlers) {
		h.paymongoMW = append(h.paymongoMW, mw...)
	}
}

// WithStripeVerification wraps the Stripe route.
func WithStripeVerification(mw ...func(http.Handler) http.Handler) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripeMW = append(h.stripeMW, mw...)
	}
}

func NewWebhookHandlers(reconciler services.WebhookReconciler, clock func() time.Time, opts ...WebhookOption) *WebhookHandlers {
	if clock == nil {
		clock = time.Now
	}
	h := &WebhookHandlers{reconciler: reconciler, now: clock}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.paymongoMW...).Post("/webhooks/paymongo", h.receive(paymongoGateway))
	r.With(h.stripeMW...).Post("/webhooks/stripe", h.receive(stripeGateway))
}

type webhookAck struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
	Action    string `json:"action"`
}

// receive acknowledges every delivery it can make sense of, including ones it ignores. Only a
// store outage answers 503 so the gateway redelivers.
func (h *WebhookHandlers) receive(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.deliver(w, r, provider)
	}
}

func (h *WebhookHandlers) deliver(w http.ResponseWriter, r *http.Request, provider string) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := httpx.ReadLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read webhook body", status))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, services.WebhookDelivery{
		Provider:   provider,
		Body:       body,
		Headers:    r.Header.Clone(),
		ReceivedAt: h.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, services.ErrWebhookStoreUnavailable) {
			w.Header().Set("Retry-After", "30")
			httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "booking store unavailable; redeliver later", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Action: string(services.ReconcileIgnored)})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, webhookAck{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		BookingID: result.BookingID,
		Action:    string(result.Action),
	})
}
