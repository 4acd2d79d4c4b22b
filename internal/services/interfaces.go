package services

import (
	"context"
	"time"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/payments"
	"github.com/tabitours/api/internal/platform/storage"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Quote               = domain.Quote
	QuoteLineItem       = domain.QuoteLineItem
	QuoteDay            = domain.QuoteDay
	TravelerRange       = domain.TravelerRange
	DaySelection        = domain.DaySelection
	Booking             = domain.Booking
	BookingStatus       = domain.BookingStatus
	BookingStatusChange = domain.BookingStatusChange
	BillingDetails      = domain.BillingDetails
	PaymentRecord       = domain.PaymentRecord
	SystemHealthReport  = domain.SystemHealthReport
)

// PricingEngine prices a packaged tour for a party size.
type PricingEngine interface {
	Price(ctx context.Context, cmd PriceCommand) (Quote, error)
}

// CartAggregator prices a multi-day custom cart.
type CartAggregator interface {
	Aggregate(ctx context.Context, cmd AggregateCommand) (Quote, error)
}

// CheckoutService turns a selection into a pending booking with a gateway payment intent.
// It never confirms a booking; only the webhook reconciler does.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// WebhookReconciler applies verified gateway events to bookings and payment records.
type WebhookReconciler interface {
	Reconcile(ctx context.Context, delivery WebhookDelivery) (ReconcileResult, error)
}

// BookingService serves booking status reads to the owning customer.
type BookingService interface {
	GetBooking(ctx context.Context, query BookingQuery) (BookingView, error)
}

// BookingReaper expires bookings that stayed pending past their TTL.
type BookingReaper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// BookingEventPublisher fans booking lifecycle changes out to other systems.
type BookingEventPublisher interface {
	PublishBookingEvent(ctx context.Context, change BookingStatusChange) (string, error)
}

// WebhookArchiver keeps a copy of every verified webhook payload.
type WebhookArchiver interface {
	Archive(ctx context.Context, payload storage.WebhookPayload) (string, error)
}

// GatewayDirectory abstracts payments.Manager for easier testing.
type GatewayDirectory interface {
	Resolve(pctx payments.PaymentContext) (string, payments.Gateway, error)
	Provider(name string) (payments.Gateway, bool)
}

// CheckoutCommand is one checkout submission. Days selects the custom-cart path; otherwise
// ProductID and TravelerCount select a package.
type CheckoutCommand struct {
	CustomerID     string
	IdempotencyKey string
	ProductID      string
	TravelerCount  int
	AddOnIDs       []string
	TravelDate     string
	Days           []DaySelection
	PaymentType    domain.PaymentType
	Currency       string
	Card           *payments.Card
	Billing        BillingDetails
	ExpectedTotal  *int64
}

// CheckoutResult is what the client needs to finish paying. Exactly one of the next action
// fields is set when the gateway asks for payer interaction.
type CheckoutResult struct {
	BookingID     string
	BookingStatus BookingStatus
	Provider      string
	IntentID      string
	IntentStatus  domain.PaymentIntentStatus
	ClientKey     string
	NextAction    payments.NextAction
	Amount        int64
	AmountMinor   int64
	Currency      string
	Quote         Quote
	Replayed      bool
}

// WebhookDelivery is one authenticated webhook request.
type WebhookDelivery struct {
	Provider   string
	Body       []byte
	Headers    map[string][]string
	ReceivedAt time.Time
}

// ReconcileAction names what the reconciler did with an event.
type ReconcileAction string

const (
	ReconcileConfirmed       ReconcileAction = "confirmed"
	ReconcileFailed          ReconcileAction = "payment_failed"
	ReconcileExpired         ReconcileAction = "payment_expired"
	ReconcileDuplicate       ReconcileAction = "duplicate"
	ReconcileLatePaid        ReconcileAction = "late_paid"
	ReconcileStale           ReconcileAction = "stale"
	ReconcileIgnored         ReconcileAction = "ignored"
	ReconcileMalformed       ReconcileAction = "malformed"
	ReconcileMissingBooking  ReconcileAction = "missing_booking"
	ReconcileBookingNotFound ReconcileAction = "booking_not_found"
)

type ReconcileResult struct {
	EventID   string
	EventType string
	BookingID string
	Action    ReconcileAction
}

type BookingQuery struct {
	CustomerID string
	BookingID  string
	// RefreshIntent asks the gateway for the live intent status of a pending booking.
	RefreshIntent bool
}

// BookingView is a booking plus the gateway's view of its intent when it was looked up.
type BookingView struct {
	Booking      Booking
	IntentStatus domain.PaymentIntentStatus
}

type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}
