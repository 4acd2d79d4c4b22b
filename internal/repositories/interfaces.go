package repositories

import (
	"context"
	"time"

	domain "github.com/tabitours/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// MalformedError is implemented by errors for stored documents that cannot be decoded.
type MalformedError interface {
	IsMalformed() bool
}

// CatalogRepository reads the pricing catalog maintained by the back-office tools.
type CatalogRepository interface {
	LoadCatalog(ctx context.Context) (domain.Catalog, error)
}

// BookingRepository persists bookings. Status changes only go through SetStatus, which is a
// compare-and-set against the expected prior status.
type BookingRepository interface {
	Create(ctx context.Context, booking domain.Booking) error
	Get(ctx context.Context, bookingID string) (domain.Booking, error)
	// AttachIntent records the gateway intent for a pending booking.
	AttachIntent(ctx context.Context, bookingID, provider, intentID string, at time.Time) error
	// SetStatus moves the booking to next only when its stored status equals expected. Returns
	// applied=false with the stored booking when the precondition does not hold.
	SetStatus(ctx context.Context, cmd BookingStatusUpdate) (domain.Booking, bool, error)
	// ListStalePending returns pending bookings created at or before cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error)
}

// BookingStatusUpdate describes a conditional status transition.
type BookingStatusUpdate struct {
	BookingID string
	Expected  domain.BookingStatus
	Next      domain.BookingStatus
	Reason    string
	At        time.Time
}

// PaymentRecordRepository stores reconciled gateway payments keyed by gateway payment id.
type PaymentRecordRepository interface {
	// Upsert inserts the record when absent. An existing failed record may be replaced; an existing
	// paid record is never overwritten. created reports whether the stored row changed.
	Upsert(ctx context.Context, record domain.PaymentRecord) (stored domain.PaymentRecord, created bool, err error)
	Get(ctx context.Context, gatewayPaymentID string) (domain.PaymentRecord, error)
}

// HealthRepository surfaces dependency status for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
