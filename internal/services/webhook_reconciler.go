package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/payments"
	"github.com/tabitours/api/internal/platform/storage"
	"github.com/tabitours/api/internal/repositories"
)

var (
	// ErrWebhookMalformed is reported in results only; malformed payloads are acknowledged.
	ErrWebhookMalformed = errors.New("webhook: malformed payload")
	// ErrWebhookStoreUnavailable asks the gateway to redeliver.
	ErrWebhookStoreUnavailable = errors.New("webhook: store unavailable")
)

type WebhookReconcilerDeps struct {
	Bookings repositories.BookingRepository
	Payments repositories.PaymentRecordRepository
	Archive  WebhookArchiver
	Events   BookingEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type webhookReconciler struct {
	bookings repositories.BookingRepository
	payments repositories.PaymentRecordRepository
	archive  WebhookArchiver
	events   BookingEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ WebhookReconciler = (*webhookReconciler)(nil)

func NewWebhookReconciler(deps WebhookReconcilerDeps) (WebhookReconciler, error) {
	if deps.Bookings == nil {
		return nil, errors.New("webhook reconciler: booking repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("webhook reconciler: payment record repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookReconciler{
		bookings: deps.Bookings,
		payments: deps.Payments,
		archive:  deps.Archive,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile applies one verified event. The only error it returns is ErrWebhookStoreUnavailable;
// everything else is acknowledged so the gateway stops redelivering.
func (r *webhookReconciler) Reconcile(ctx context.Context, delivery WebhookDelivery) (ReconcileResult, error) {
	provider := deliveryProvider(delivery)
	event, err := parseDelivery(provider, delivery.Body)
	if err != nil {
		r.logger(ctx, "webhook.malformed", map[string]any{"provider": provider, "bytes": len(delivery.Body), "error": ErrWebhookMalformed})
		r.archivePayload(ctx, delivery, payments.WebhookEvent{})
		return ReconcileResult{Action: ReconcileMalformed}, nil
	}
	r.archivePayload(ctx, delivery, event)

	result := ReconcileResult{EventID: event.ID, EventType: event.Type, BookingID: event.Resource.BookingID}
	switch event.Type {
	case payments.EventPaymentPaid, payments.EventPaymentFailed, payments.EventQRPhExpired:
	default:
		r.logger(ctx, "webhook.ignored", map[string]any{"provider": provider, "eventId": event.ID, "type": event.Type})
		result.Action = ReconcileIgnored
		return result, nil
	}
	if result.BookingID == "" {
		r.logger(ctx, "webhook.missing_booking", map[string]any{
			"eventId":   event.ID,
			"type":      event.Type,
			"paymentId": event.Resource.ID,
		})
		result.Action = ReconcileMissingBooking
		return result, nil
	}

	switch event.Type {
	case payments.EventPaymentPaid:
		return r.applyPaid(ctx, provider, event, result)
	case payments.EventPaymentFailed:
		return r.applyFailed(ctx, provider, event, result)
	default:
		return r.applyExpired(ctx, event, result)
	}
}

func (r *webhookReconciler) applyPaid(ctx context.Context, provider string, event payments.WebhookEvent, result ReconcileResult) (ReconcileResult, error) {
	if err := r.recordPayment(ctx, provider, event, domain.PaymentRecordPaid); err != nil {
		return result, err
	}

	booking, applied, err := r.transition(ctx, result.BookingID, domain.BookingStatusConfirmed, "")
	if err != nil {
		return r.transitionError(ctx, event, result, err)
	}
	switch {
	case applied:
		r.checkAmount(ctx, event, booking)
		result.Action = ReconcileConfirmed
	case booking.Status == domain.BookingStatusConfirmed:
		result.Action = ReconcileDuplicate
	default:
		// Payment captured after the booking failed or expired. Kept for manual refund review.
		r.logger(ctx, "webhook.late_paid", map[string]any{
			"eventId":   event.ID,
			"bookingId": booking.ID,
			"status":    string(booking.Status),
			"paymentId": event.Resource.ID,
			"amount":    event.Resource.Amount,
		})
		result.Action = ReconcileLatePaid
	}
	return result, nil
}

func (r *webhookReconciler) applyFailed(ctx context.Context, provider string, event payments.WebhookEvent, result ReconcileResult) (ReconcileResult, error) {
	if err := r.recordPayment(ctx, provider, event, domain.PaymentRecordFailed); err != nil {
		return result, err
	}
	reason := strings.TrimSpace(event.Resource.FailureCode)
	if reason == "" {
		reason = "payment_failed"
	}
	booking, applied, err := r.transition(ctx, result.BookingID, domain.BookingStatusPaymentFailed, reason)
	if err != nil {
		return r.transitionError(ctx, event, result, err)
	}
	result.Action = ReconcileFailed
	if !applied {
		result.Action = r.notApplied(ctx, event, booking, domain.BookingStatusPaymentFailed)
	}
	return result, nil
}

func (r *webhookReconciler) applyExpired(ctx context.Context, event payments.WebhookEvent, result ReconcileResult) (ReconcileResult, error) {
	booking, applied, err := r.transition(ctx, result.BookingID, domain.BookingStatusPaymentExpired, "qr_expired")
	if err != nil {
		return r.transitionError(ctx, event, result, err)
	}
	result.Action = ReconcileExpired
	if !applied {
		result.Action = r.notApplied(ctx, event, booking, domain.BookingStatusPaymentExpired)
	}
	return result, nil
}

func (r *webhookReconciler) notApplied(ctx context.Context, event payments.WebhookEvent, booking domain.Booking, target domain.BookingStatus) ReconcileAction {
	if booking.Status == target {
		return ReconcileDuplicate
	}
	r.logger(ctx, "webhook.stale_event", map[string]any{
		"eventId":   event.ID,
		"type":      event.Type,
		"bookingId": booking.ID,
		"status":    string(booking.Status),
	})
	return ReconcileStale
}

// transition moves a pending booking to next. The first terminal status wins.
func (r *webhookReconciler) transition(ctx context.Context, bookingID string, next domain.BookingStatus, reason string) (domain.Booking, bool, error) {
	now := r.now()
	booking, applied, err := r.bookings.SetStatus(ctx, repositories.BookingStatusUpdate{
		BookingID: bookingID,
		Expected:  domain.BookingStatusPending,
		Next:      next,
		Reason:    reason,
		At:        now,
	})
	if err != nil || !applied {
		return booking, applied, err
	}
	publishBookingChange(ctx, r.events, r.logger, BookingStatusChange{
		Type:       domain.BookingEventStatusChanged,
		BookingID:  booking.ID,
		CustomerID: booking.CustomerID,
		From:       domain.BookingStatusPending,
		To:         next,
		Reason:     reason,
		Source:     "webhook",
		Amount:     booking.TotalDue,
		Currency:   booking.Currency,
		OccurredAt: now,
	})
	return booking, true, nil
}

func (r *webhookReconciler) transitionError(ctx context.Context, event payments.WebhookEvent, result ReconcileResult, err error) (ReconcileResult, error) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		r.logger(ctx, "webhook.booking_not_found", map[string]any{"eventId": event.ID, "bookingId": result.BookingID})
		result.Action = ReconcileBookingNotFound
		return result, nil
	}
	r.logger(ctx, "webhook.booking_update_failed", map[string]any{"eventId": event.ID, "bookingId": result.BookingID, "error": err})
	if isRetryableStoreError(err) {
		return result, fmt.Errorf("%w: %w", ErrWebhookStoreUnavailable, err)
	}
	result.Action = ReconcileIgnored
	return result, nil
}

// recordPayment writes the payment row. Only store outages are returned.
func (r *webhookReconciler) recordPayment(ctx context.Context, provider string, event payments.WebhookEvent, status domain.PaymentRecordStatus) error {
	if strings.TrimSpace(event.Resource.ID) == "" {
		r.logger(ctx, "webhook.payment_id_missing", map[string]any{"eventId": event.ID, "bookingId": event.Resource.BookingID})
		return nil
	}
	now := r.now()
	record := domain.PaymentRecord{
		GatewayPaymentID: event.Resource.ID,
		BookingID:        event.Resource.BookingID,
		IntentID:         event.Resource.IntentID,
		Provider:         provider,
		Amount:           event.Resource.Amount,
		Currency:         event.Resource.Currency,
		Status:           status,
		EventID:          event.ID,
		EventType:        event.Type,
		FailureCode:      event.Resource.FailureCode,
		FailureMessage:   event.Resource.FailureMessage,
		LiveMode:         event.LiveMode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	stored, created, err := r.payments.Upsert(ctx, record)
	if err != nil {
		r.logger(ctx, "webhook.payment_record_failed", map[string]any{"eventId": event.ID, "paymentId": record.GatewayPaymentID, "error": err})
		if isRetryableStoreError(err) {
			return fmt.Errorf("%w: %w", ErrWebhookStoreUnavailable, err)
		}
		return nil
	}
	if !created {
		r.logger(ctx, "webhook.payment_record_exists", map[string]any{
			"eventId":      event.ID,
			"paymentId":    stored.GatewayPaymentID,
			"storedStatus": string(stored.Status),
		})
	}
	return nil
}

func (r *webhookReconciler) checkAmount(ctx context.Context, event payments.WebhookEvent, booking domain.Booking) {
	expected, err := payments.ToMinorUnits(booking.TotalDue, booking.Currency)
	if err != nil || event.Resource.Amount == 0 {
		return
	}
	if expected != event.Resource.Amount || !strings.EqualFold(booking.Currency, event.Resource.Currency) {
		r.logger(ctx, "webhook.amount_mismatch", map[string]any{
			"eventId":        event.ID,
			"bookingId":      booking.ID,
			"expectedAmount": expected,
			"paidAmount":     event.Resource.Amount,
			"paidCurrency":   event.Resource.Currency,
			"error":          errors.New("paid amount differs from booking total"),
		})
	}
}

func (r *webhookReconciler) archivePayload(ctx context.Context, delivery WebhookDelivery, event payments.WebhookEvent) {
	if r.archive == nil {
		return
	}
	provider := deliveryProvider(delivery)
	received := delivery.ReceivedAt
	if received.IsZero() {
		received = r.now()
	}
	if _, err := r.archive.Archive(ctx, storage.WebhookPayload{
		Provider:   provider,
		EventID:    event.ID,
		EventType:  event.Type,
		ReceivedAt: received,
		Headers:    http.Header(delivery.Headers),
		Body:       delivery.Body,
	}); err != nil {
		r.logger(ctx, "webhook.archive_failed", map[string]any{"eventId": event.ID, "error": err})
	}
}

// deliveryProvider names the gateway a delivery came from. Deliveries without one are PayMongo's.
func deliveryProvider(delivery WebhookDelivery) string {
	provider := strings.ToLower(strings.TrimSpace(delivery.Provider))
	if provider == "" {
		return payments.ProviderPayMongo
	}
	return provider
}

func parseDelivery(provider string, body []byte) (payments.WebhookEvent, error) {
	if provider == payments.ProviderStripe {
		return payments.ParseStripeEvent(body)
	}
	return payments.ParseWebhookEvent(body)
}

// isRetryableStoreError asks for a redelivery on every store failure except a missing booking or
// a stored document that cannot be decoded.
func isRetryableStoreError(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return false
	}
	var malformed repositories.MalformedError
	if errors.As(err, &malformed) && malformed.IsMalformed() {
		return false
	}
	return true
}
