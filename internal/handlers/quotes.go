package handlers

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabitours/api/internal/platform/httpx"
	"github.com/tabitours/api/internal/services"
)

const maxQuoteRequestBody = 16 * 1024

// QuoteHandlers prices packages and custom carts without creating anything.
type QuoteHandlers struct {
	pricing services.PricingEngine
	cart    services.CartAggregator
	limiter quoteLimiter
}

type QuoteOption func(*QuoteHandlers)

// WithQuoteRateLimit caps quote requests per client address within every window.
func WithQuoteRateLimit(limit int, every time.Duration) QuoteOption {
	return func(h *QuoteHandlers) {
		h.limiter = newWindowLimiter(limit, every, nil)
	}
}

func withQuoteLimiter(l quoteLimiter) QuoteOption {
	return func(h *QuoteHandlers) {
		h.limiter = l
	}
}

func NewQuoteHandlers(pricing services.PricingEngine, cart services.CartAggregator, opts ...QuoteOption) *QuoteHandlers {
	h := &QuoteHandlers{pricing: pricing, cart: cart}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quotes", h.createQuote)
}

type daySelectionRequest struct {
	Date           string   `json:"date"`
	LocationID     string   `json:"locationId"`
	DestinationIDs []string `json:"destinationIds"`
	AddOnIDs       []string `json:"addOnIds"`
	TravelerCount  int      `json:"travelerCount"`
}

type quoteRequest struct {
	ProductID     string                `json:"productId"`
	TravelerCount int                   `json:"travelerCount"`
	AddOnIDs      []string              `json:"addOnIds"`
	Days          []daySelectionRequest `json:"days"`
}

type quoteLineItemPayload struct {
	Kind        string `json:"kind"`
	ReferenceID string `json:"referenceId"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	Amount      int64  `json:"amount"`
}

type quoteDayPayload struct {
	Date             string   `json:"date"`
	LocationID       string   `json:"locationId"`
	LocationName     string   `json:"locationName"`
	DestinationNames []string `json:"destinationNames"`
	TravelerCount    int      `json:"travelerCount"`
	Subtotal         int64    `json:"subtotal"`
}

type travelerRangePayload struct {
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Label string `json:"label"`
}

type quotePayload struct {
	Kind      string                 `json:"kind"`
	Currency  string                 `json:"currency"`
	ProductID string                 `json:"productId,omitempty"`
	Title     string                 `json:"title"`
	LineItems []quoteLineItemPayload `json:"lineItems"`
	Total     int64                  `json:"total"`
	Travelers travelerRangePayload   `json:"travelers"`
	Dates     []string               `json:"dates,omitempty"`
	Days      []quoteDayPayload      `json:"days,omitempty"`
}

func (h *QuoteHandlers) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil || h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil {
		if ok, wait := h.limiter.Allow(clientAddress(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quote requests", http.StatusTooManyRequests))
			return
		}
	}

	var req quoteRequest
	if err := httpx.DecodeJSON(r, maxQuoteRequestBody, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	var (
		quote services.Quote
		err   error
	)
	switch {
	case len(req.Days) > 0 && strings.TrimSpace(req.ProductID) != "":
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId and days are mutually exclusive", http.StatusBadRequest))
		return
	case len(req.Days) > 0:
		quote, err = h.cart.Aggregate(ctx, services.AggregateCommand{Days: toDaySelections(req.Days)})
	default:
		quote, err = h.pricing.Price(ctx, services.PriceCommand{
			ProductID:     req.ProductID,
			TravelerCount: req.TravelerCount,
			AddOnIDs:      req.AddOnIDs,
		})
	}
	if err != nil {
		writeQuoteError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, newQuotePayload(quote))
}

func toDaySelections(days []daySelectionRequest) []services.DaySelection {
	out := make([]services.DaySelection, 0, len(days))
	for _, day := range days {
		out = append(out, services.DaySelection{
			Date:           strings.TrimSpace(day.Date),
			LocationID:     strings.TrimSpace(day.LocationID),
			DestinationIDs: day.DestinationIDs,
			AddOnIDs:       day.AddOnIDs,
			TravelerCount:  day.TravelerCount,
		})
	}
	return out
}

func newQuotePayload(q services.Quote) quotePayload {
	payload := quotePayload{
		Kind:      string(q.Kind),
		Currency:  q.Currency,
		ProductID: q.ProductID,
		Title:     q.Title,
		LineItems: make([]quoteLineItemPayload, 0, len(q.LineItems)),
		Total:     q.Total,
		Travelers: travelerRangePayload{
			Min:   q.Travelers.Min,
			Max:   q.Travelers.Max,
			Label: q.Travelers.Label,
		},
		Dates: q.Dates,
	}
	for _, item := range q.LineItems {
		payload.LineItems = append(payload.LineItems, quoteLineItemPayload{
			Kind:        string(item.Kind),
			ReferenceID: item.ReferenceID,
			Date:        item.Date,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Amount:      item.Amount,
		})
	}
	for _, day := range q.Days {
		payload.Days = append(payload.Days, quoteDayPayload{
			Date:             day.Date,
			LocationID:       day.LocationID,
			LocationName:     day.LocationName,
			DestinationNames: day.DestinationNames,
			TravelerCount:    day.TravelerCount,
			Subtotal:         day.Subtotal,
		})
	}
	return payload
}

func writeQuoteError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPricingUnknownProduct):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartInvalidSelection):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_selection", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("quote_error", "failed to price selection", http.StatusInternalServerError))
	}
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
}

// clientAddress relies on middleware.RealIP having rewritten RemoteAddr.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
