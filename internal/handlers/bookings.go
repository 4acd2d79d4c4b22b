package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabitours/api/internal/platform/auth"
	"github.com/tabitours/api/internal/platform/httpx"
	"github.com/tabitours/api/internal/services"
)

// BookingHandlers lets customers poll their bookings after checkout.
type BookingHandlers struct {
	bookings services.BookingService
}

func NewBookingHandlers(bookings services.BookingService) *BookingHandlers {
	return &BookingHandlers{bookings: bookings}
}

func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/bookings/{bookingId}", h.getBooking)
}

type bookingPayload struct {
	ID                  string       `json:"id"`
	Status              string       `json:"status"`
	StatusReason        string       `json:"statusReason,omitempty"`
	TotalDue            int64        `json:"totalDue"`
	Currency            string       `json:"currency"`
	PaymentType         string       `json:"paymentType"`
	Provider            string       `json:"provider,omitempty"`
	PaymentIntentID     string       `json:"paymentIntentId,omitempty"`
	PaymentIntentStatus string       `json:"paymentIntentStatus,omitempty"`
	Quote               quotePayload `json:"quote"`
	CreatedAt           string       `json:"createdAt"`
	UpdatedAt           string       `json:"updatedAt"`
	ClosedAt            string       `json:"closedAt,omitempty"`
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, ok := auth.CustomerFromContext(ctx)
	if !ok || strings.TrimSpace(customer.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	refresh := false
	if raw := strings.TrimSpace(r.URL.Query().Get("refresh")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "refresh must be a boolean", http.StatusBadRequest))
			return
		}
		refresh = parsed
	}

	view, err := h.bookings.GetBooking(ctx, services.BookingQuery{
		CustomerID:    customer.UID,
		BookingID:     chi.URLParam(r, "bookingId"),
		RefreshIntent: refresh,
	})
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, newBookingPayload(view))
}

func newBookingPayload(view services.BookingView) bookingPayload {
	b := view.Booking
	payload := bookingPayload{
		ID:                  b.ID,
		Status:              string(b.Status),
		StatusReason:        b.StatusReason,
		TotalDue:            b.TotalDue,
		Currency:            b.Currency,
		PaymentType:         string(b.PaymentType),
		Provider:            b.Provider,
		PaymentIntentID:     b.PaymentIntentID,
		PaymentIntentStatus: string(view.IntentStatus),
		Quote:               newQuotePayload(b.Quote),
		CreatedAt:           b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if b.ClosedAt != nil {
		payload.ClosedAt = b.ClosedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeBookingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBookingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bookingId is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrBookingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("booking_not_found", "booking not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBookingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("booking_error", "failed to load booking", http.StatusInternalServerError))
	}
}
