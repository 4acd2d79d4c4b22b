package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tabitours/api/internal/platform/auth"
	"github.com/tabitours/api/internal/platform/httpx"
	"github.com/tabitours/api/internal/platform/requestctx"
	"github.com/tabitours/api/internal/services"
)

// InternalJobHandlers exposes maintenance jobs to Cloud Scheduler.
type InternalJobHandlers struct {
	reaper services.BookingReaper
}

func NewInternalJobHandlers(reaper services.BookingReaper) *InternalJobHandlers {
	return &InternalJobHandlers{reaper: reaper}
}

func (h *InternalJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/internal/bookings:sweep", h.sweepBookings)
}

type sweepResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (h *InternalJobHandlers) sweepBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reaper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweep_unavailable", "booking reaper unavailable", http.StatusServiceUnavailable))
		return
	}

	caller := "unknown"
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = identity.Email
	}

	result, err := h.reaper.Sweep(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("booking sweep failed", zap.String("caller", caller), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", "unable to list pending bookings", http.StatusServiceUnavailable))
		return
	}

	requestctx.Logger(ctx).Info("booking sweep completed",
		zap.String("caller", caller),
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Expired),
		zap.Int("failed", result.Failed),
	)
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{
		Scanned: result.Scanned,
		Expired: result.Expired,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	})
}
