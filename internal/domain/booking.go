package domain

import "time"

// BookingStatus tracks the payment lifecycle of a booking.
type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusPaymentFailed  BookingStatus = "payment_failed"
	BookingStatusPaymentExpired BookingStatus = "payment_expired"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusPaymentFailed, BookingStatusPaymentExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is permitted from s.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusPaymentFailed, BookingStatusPaymentExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed. Only pending bookings move,
// and only into a terminal state, so the first terminal outcome wins.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return s == BookingStatusPending && next.IsTerminal()
}

// PaymentType is the payer-facing method family.
type PaymentType string

const (
	PaymentTypeCard PaymentType = "card"
	PaymentTypeQRPh PaymentType = "qrph"
)

// Valid reports whether t is supported.
func (t PaymentType) Valid() bool {
	return t == PaymentTypeCard || t == PaymentTypeQRPh
}

// PaymentIntentStatus mirrors the gateway-side intent state.
type PaymentIntentStatus string

const (
	PaymentIntentPending        PaymentIntentStatus = "pending"
	PaymentIntentRequiresAction PaymentIntentStatus = "requires_action"
	PaymentIntentSucceeded      PaymentIntentStatus = "succeeded"
	PaymentIntentFailed         PaymentIntentStatus = "failed"
)

// BillingDetails identifies the payer on the gateway.
type BillingDetails struct {
	Name  string
	Email string
	Phone string
}

// BookingSelection records what the customer asked for so the quote can be re-derived.
type BookingSelection struct {
	ProductID     string
	TravelerCount int
	AddOnIDs      []string
	TravelDate    string
	Days          []DaySelection
}

// Booking is the customer's reservation awaiting or holding a payment outcome.
type Booking struct {
	ID              string
	CustomerID      string
	Status          BookingStatus
	StatusReason    string
	Selection       BookingSelection
	Quote           Quote
	TotalDue        int64
	Currency        string
	PaymentType     PaymentType
	Provider        string
	PaymentIntentID string
	Billing         BillingDetails
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// PaymentRecordStatus is the reconciled outcome for one gateway payment.
type PaymentRecordStatus string

const (
	PaymentRecordPaid   PaymentRecordStatus = "paid"
	PaymentRecordFailed PaymentRecordStatus = "failed"
)

// PaymentRecord is keyed by the gateway payment id so redelivered webhooks collapse onto one row.
type PaymentRecord struct {
	GatewayPaymentID string
	BookingID        string
	IntentID         string
	Provider         string
	Amount           int64
	Currency         string
	Status           PaymentRecordStatus
	EventID          string
	EventType        string
	FailureCode      string
	FailureMessage   string
	LiveMode         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
