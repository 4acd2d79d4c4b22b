package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/repositories"
)

var (
	ErrBookingInvalidInput = errors.New("booking: invalid input")
	// ErrBookingNotFound is also returned for bookings owned by another customer.
	ErrBookingNotFound    = errors.New("booking: not found")
	ErrBookingUnavailable = errors.New("booking: unavailable")
)

const defaultIntentLookupTimeout = 10 * time.Second

type BookingServiceDeps struct {
	Bookings      repositories.BookingRepository
	Gateways      GatewayDirectory
	LookupTimeout time.Duration
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	bookings      repositories.BookingRepository
	gateways      GatewayDirectory
	lookupTimeout time.Duration
	logger        func(ctx context.Context, event string, fields map[string]any)
}

var _ BookingService = (*bookingService)(nil)

func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Bookings == nil {
		return nil, errors.New("booking service: booking repository is required")
	}
	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = defaultIntentLookupTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &bookingService{
		bookings:      deps.Bookings,
		gateways:      deps.Gateways,
		lookupTimeout: timeout,
		logger:        logger,
	}, nil
}

// GetBooking returns the booking for its owner. A requested intent refresh only reports the
// gateway's view; it never changes the stored status, which webhooks own.
func (s *bookingService) GetBooking(ctx context.Context, query BookingQuery) (BookingView, error) {
	customerID := strings.TrimSpace(query.CustomerID)
	bookingID := strings.TrimSpace(query.BookingID)
	if customerID == "" || bookingID == "" {
		return BookingView{}, ErrBookingInvalidInput
	}

	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return BookingView{}, ErrBookingNotFound
		}
		s.logger(ctx, "booking.lookup_failed", map[string]any{"bookingId": bookingID, "error": err})
		return BookingView{}, ErrBookingUnavailable
	}
	if booking.CustomerID != customerID {
		return BookingView{}, ErrBookingNotFound
	}

	view := BookingView{Booking: booking}
	if query.RefreshIntent && booking.Status == domain.BookingStatusPending && booking.PaymentIntentID != "" {
		view.IntentStatus = s.lookupIntent(ctx, booking)
	}
	return view, nil
}

// lookupIntent is a read-only GET; the gateway adapter applies its bounded retry here.
func (s *bookingService) lookupIntent(ctx context.Context, booking domain.Booking) domain.PaymentIntentStatus {
	if s.gateways == nil {
		return ""
	}
	gateway, ok := s.gateways.Provider(booking.Provider)
	if !ok {
		return ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	intent, err := gateway.RetrieveIntent(lookupCtx, booking.PaymentIntentID)
	if err != nil {
		s.logger(ctx, "booking.intent_lookup_failed", map[string]any{
			"bookingId": booking.ID,
			"intentId":  booking.PaymentIntentID,
			"error":     err,
		})
		return ""
	}
	return intentStatus(intent.Status)
}

func publishBookingChange(ctx context.Context, events BookingEventPublisher, logger func(context.Context, string, map[string]any), change BookingStatusChange) {
	if events == nil {
		return
	}
	if _, err := events.PublishBookingEvent(ctx, change); err != nil {
		logger(ctx, "booking.event_publish_failed", map[string]any{
			"bookingId": change.BookingID,
			"type":      change.Type,
			"error":     err,
		})
	}
}
