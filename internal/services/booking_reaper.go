package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/repositories"
)

const (
	defaultPendingTTL     = 2 * time.Hour
	defaultSweepBatchSize = 100
	reaperReason          = "pending_ttl_elapsed"
)

type BookingReaperDeps struct {
	Bookings   repositories.BookingRepository
	Events     BookingEventPublisher
	PendingTTL time.Duration
	BatchSize  int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type bookingReaper struct {
	bookings   repositories.BookingRepository
	events     BookingEventPublisher
	pendingTTL time.Duration
	batchSize  int
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

var _ BookingReaper = (*bookingReaper)(nil)

func NewBookingReaper(deps BookingReaperDeps) (BookingReaper, error) {
	if deps.Bookings == nil {
		return nil, errors.New("booking reaper: booking repository is required")
	}
	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &bookingReaper{
		bookings:   deps.Bookings,
		events:     deps.Events,
		pendingTTL: ttl,
		batchSize:  batch,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep expires up to one batch of bookings that stayed pending longer than the TTL. Each move is
// a compare-and-set, so a webhook that lands first keeps its outcome.
func (r *bookingReaper) Sweep(ctx context.Context) (SweepResult, error) {
	now := r.now()
	cutoff := now.Add(-r.pendingTTL)
	stale, err := r.bookings.ListStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("booking reaper: list stale bookings: %w", err)
	}

	result := SweepResult{Scanned: len(stale)}
	for _, booking := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		updated, applied, err := r.bookings.SetStatus(ctx, repositories.BookingStatusUpdate{
			BookingID: booking.ID,
			Expected:  domain.BookingStatusPending,
			Next:      domain.BookingStatusPaymentExpired,
			Reason:    reaperReason,
			At:        now,
		})
		if err != nil {
			result.Failed++
			r.logger(ctx, "booking.reaper.expire_failed", map[string]any{"bookingId": booking.ID, "error": err})
			continue
		}
		if !applied {
			result.Skipped++
			continue
		}
		result.Expired++
		publishBookingChange(ctx, r.events, r.logger, BookingStatusChange{
			Type:       domain.BookingEventStatusChanged,
			BookingID:  updated.ID,
			CustomerID: updated.CustomerID,
			From:       domain.BookingStatusPending,
			To:         domain.BookingStatusPaymentExpired,
			Reason:     reaperReason,
			Source:     "reaper",
			Amount:     updated.TotalDue,
			Currency:   updated.Currency,
			OccurredAt: now,
		})
	}

	if result.Scanned > 0 {
		r.logger(ctx, "booking.reaper.swept", map[string]any{
			"cutoff":  cutoff.Format(time.RFC3339),
			"scanned": result.Scanned,
			"expired": result.Expired,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		})
	}
	return result, nil
}
