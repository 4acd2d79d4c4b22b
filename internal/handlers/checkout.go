package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/payments"
	"github.com/tabitours/api/internal/platform/auth"
	"github.com/tabitours/api/internal/platform/httpx"
	"github.com/tabitours/api/internal/services"
)

const (
	maxCheckoutRequestBody = 16 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
	replayedHeader         = "Idempotent-Replayed"
)

// CheckoutHandlers exposes the checkout endpoint for signed-in customers. Authentication runs in
// the router's customer middleware chain.
type CheckoutHandlers struct {
	checkout  services.CheckoutService
	keyHeader string
}

type CheckoutOption func(*CheckoutHandlers)

// WithIdempotencyHeader overrides the request header carrying the client idempotency key.
func WithIdempotencyHeader(name string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.keyHeader = name
		}
	}
}

func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout, keyHeader: idempotencyKeyHeader}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.checkoutBooking)
}

type cardRequest struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
}

type billingRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type checkoutRequest struct {
	ProductID     string                `json:"productId"`
	TravelerCount int                   `json:"travelerCount"`
	AddOnIDs      []string              `json:"addOnIds"`
	TravelDate    string                `json:"travelDate"`
	Days          []daySelectionRequest `json:"days"`
	PaymentType   string                `json:"paymentType"`
	Currency      string                `json:"currency"`
	Card          *cardRequest          `json:"card"`
	Billing       billingRequest        `json:"billing"`
	ExpectedTotal *int64                `json:"expectedTotal"`
}

type nextActionPayload struct {
	Type        string `json:"type"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	QRCodeImage string `json:"qrCodeImage,omitempty"`
}

type checkoutResponse struct {
	BookingID     string             `json:"bookingId"`
	BookingStatus string             `json:"bookingStatus"`
	Provider      string             `json:"provider"`
	IntentID      string             `json:"paymentIntentId"`
	IntentStatus  string             `json:"paymentIntentStatus"`
	ClientKey     string             `json:"clientKey,omitempty"`
	NextAction    *nextActionPayload `json:"nextAction,omitempty"`
	Amount        int64              `json:"amount"`
	AmountMinor   int64              `json:"amountMinor"`
	Currency      string             `json:"currency"`
	Quote         quotePayload       `json:"quote"`
}

func (h *CheckoutHandlers) checkoutBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, ok := auth.CustomerFromContext(ctx)
	if !ok || strings.TrimSpace(customer.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	key := strings.TrimSpace(r.Header.Get(h.keyHeader))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", h.keyHeader+" header is required", http.StatusBadRequest))
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cmd := services.CheckoutCommand{
		CustomerID:     customer.UID,
		IdempotencyKey: key,
		ProductID:      strings.TrimSpace(req.ProductID),
		TravelerCount:  req.TravelerCount,
		AddOnIDs:       req.AddOnIDs,
		TravelDate:     strings.TrimSpace(req.TravelDate),
		PaymentType:    domain.PaymentType(strings.ToLower(strings.TrimSpace(req.PaymentType))),
		Currency:       strings.TrimSpace(req.Currency),
		Billing: services.BillingDetails{
			Name:  req.Billing.Name,
			Email: req.Billing.Email,
			Phone: req.Billing.Phone,
		},
		ExpectedTotal: req.ExpectedTotal,
	}
	if len(req.Days) > 0 {
		cmd.Days = toDaySelections(req.Days)
	}
	if req.Card != nil {
		cmd.Card = &payments.Card{
			Number:   req.Card.Number,
			ExpMonth: req.Card.ExpMonth,
			ExpYear:  req.Card.ExpYear,
			CVC:      req.Card.CVC,
		}
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	if result.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, newCheckoutResponse(result))
}

func newCheckoutResponse(result services.CheckoutResult) checkoutResponse {
	resp := checkoutResponse{
		BookingID:     result.BookingID,
		BookingStatus: string(result.BookingStatus),
		Provider:      result.Provider,
		IntentID:      result.IntentID,
		IntentStatus:  string(result.IntentStatus),
		ClientKey:     result.ClientKey,
		Amount:        result.Amount,
		AmountMinor:   result.AmountMinor,
		Currency:      result.Currency,
		Quote:         newQuotePayload(result.Quote),
	}
	if result.NextAction.Type != "" && result.NextAction.Type != payments.NextActionNone {
		resp.NextAction = &nextActionPayload{
			Type:        string(result.NextAction.Type),
			RedirectURL: result.NextAction.RedirectURL,
			QRCodeImage: result.NextAction.QRCodeImage,
		}
	}
	return resp
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	details := map[string]any{}
	var checkoutErr *services.CheckoutError
	if errors.As(err, &checkoutErr) {
		if checkoutErr.BookingID != "" {
			details["bookingId"] = checkoutErr.BookingID
		}
		if checkoutErr.GatewayCode != "" {
			details["gatewayCode"] = checkoutErr.GatewayCode
		}
		if checkoutErr.QuotedTotal > 0 {
			details["quotedTotal"] = checkoutErr.QuotedTotal
		}
		if checkoutErr.Replayed {
			w.Header().Set(replayedHeader, "true")
		}
	}

	var apiErr httpx.Error
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrCartInvalidSelection):
		apiErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrPricingUnknownProduct):
		apiErr = httpx.NewError("product_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrCheckoutAmountMismatch):
		apiErr = httpx.NewError("amount_mismatch", "quoted total changed; review the new total and retry", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutIdempotencyConflict):
		apiErr = httpx.NewError("idempotency_conflict", "Idempotency-Key was already used with a different request", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrCheckoutInProgress):
		w.Header().Set("Retry-After", "1")
		apiErr = httpx.NewError("checkout_in_progress", "a checkout with this Idempotency-Key is still running", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutGatewayRejected):
		message := "payment gateway rejected the request"
		if checkoutErr != nil && checkoutErr.Detail != "" {
			message = checkoutErr.Detail
		}
		apiErr = httpx.NewError("payment_rejected", message, http.StatusPaymentRequired)
	case errors.Is(err, services.ErrCheckoutGatewayUnavailable):
		apiErr = httpx.NewError("payment_gateway_unavailable", "payment gateway unavailable; retry with a new Idempotency-Key", http.StatusBadGateway)
	case errors.Is(err, services.ErrCheckoutUnavailable):
		apiErr = httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable)
	default:
		apiErr = httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError)
	}
	if len(details) > 0 {
		apiErr = apiErr.WithDetails(details)
	}
	httpx.WriteError(ctx, w, apiErr)
}
