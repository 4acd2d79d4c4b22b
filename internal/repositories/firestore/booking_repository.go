package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tabitours/api/internal/domain"
	pfirestore "github.com/tabitours/api/internal/platform/firestore"
	"github.com/tabitours/api/internal/repositories"
)

const bookingsCollection = "bookings"

// ListStalePending filters on both fields, which needs the composite index in firestore.indexes.json.
const (
	bookingStatusField    = "status"
	bookingCreatedAtField = "createdAt"
)

// BookingRepository persists bookings. Status moves run in transactions so the first terminal
// outcome wins.
type BookingRepository struct {
	provider *pfirestore.Provider
	bookings *pfirestore.Collection[domain.Booking]
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		provider: provider,
		bookings: pfirestore.NewCollection[domain.Booking](provider, bookingsCollection, decodeBooking),
	}, nil
}

func (r *BookingRepository) Create(ctx context.Context, booking domain.Booking) error {
	id := strings.TrimSpace(booking.ID)
	if id == "" {
		return errors.New("booking repository: booking id is required")
	}
	if !booking.Status.Valid() {
		return errors.New("booking repository: booking status is invalid")
	}
	return r.bookings.Create(ctx, id, newBookingDocument(booking))
}

func (r *BookingRepository) Get(ctx context.Context, bookingID string) (domain.Booking, error) {
	return r.bookings.Get(ctx, strings.TrimSpace(bookingID))
}

func (r *BookingRepository) AttachIntent(ctx context.Context, bookingID, provider, intentID string, at time.Time) error {
	ref, err := r.bookings.Doc(ctx, strings.TrimSpace(bookingID))
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "provider", Value: provider},
		{Path: "paymentIntentId", Value: intentID},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return pfirestore.WrapError("bookings.attach_intent", err)
}

func (r *BookingRepository) SetStatus(ctx context.Context, cmd repositories.BookingStatusUpdate) (domain.Booking, bool, error) {
	ref, err := r.bookings.Doc(ctx, strings.TrimSpace(cmd.BookingID))
	if err != nil {
		return domain.Booking{}, false, err
	}
	if !cmd.Next.Valid() {
		return domain.Booking{}, false, errors.New("booking repository: next status is invalid")
	}
	at := cmd.At.UTC()

	var (
		result  domain.Booking
		applied bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("bookings.set_status", "booking "+ref.ID)
			}
			return err
		}
		current, err := decodeBooking(snap)
		if err != nil {
			return err
		}
		result = current
		if current.Status != cmd.Expected || !current.Status.CanTransitionTo(cmd.Next) {
			return nil
		}

		updates := []firestore.Update{
			{Path: bookingStatusField, Value: string(cmd.Next)},
			{Path: "statusReason", Value: cmd.Reason},
			{Path: "updatedAt", Value: at},
		}
		if cmd.Next.IsTerminal() {
			updates = append(updates, firestore.Update{Path: "closedAt", Value: at})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		result.Status = cmd.Next
		result.StatusReason = cmd.Reason
		result.UpdatedAt = at
		if cmd.Next.IsTerminal() {
			closed := at
			result.ClosedAt = &closed
		}
		applied = true
		return nil
	})
	if err != nil {
		return domain.Booking{}, false, pfirestore.WrapError("bookings.set_status", err)
	}
	return result, applied, nil
}

func (r *BookingRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(bookingStatusField, "==", string(domain.BookingStatusPending)).
			Where(bookingCreatedAtField, "<=", cutoff.UTC()).
			OrderBy(bookingCreatedAtField, firestore.Asc).
			Limit(limit)
	})
}

type bookingDocument struct {
	CustomerID      string            `firestore:"customerId"`
	Status          string            `firestore:"status"`
	StatusReason    string            `firestore:"statusReason"`
	Selection       selectionDocument `firestore:"selection"`
	Quote           quoteDocument     `firestore:"quote"`
	TotalDue        int64             `firestore:"totalDue"`
	Currency        string            `firestore:"currency"`
	PaymentType     string            `firestore:"paymentType"`
	Provider        string            `firestore:"provider"`
	PaymentIntentID string            `firestore:"paymentIntentId"`
	Billing         billingDocument   `firestore:"billing"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
	ClosedAt        *time.Time        `firestore:"closedAt,omitempty"`
}

type billingDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type selectionDocument struct {
	ProductID     string                 `firestore:"productId,omitempty"`
	TravelerCount int                    `firestore:"travelerCount,omitempty"`
	AddOnIDs      []string               `firestore:"addOnIds,omitempty"`
	TravelDate    string                 `firestore:"travelDate,omitempty"`
	Days          []daySelectionDocument `firestore:"days,omitempty"`
}

type daySelectionDocument struct {
	Date           string   `firestore:"date"`
	LocationID     string   `firestore:"locationId"`
	DestinationIDs []string `firestore:"destinationIds"`
	AddOnIDs       []string `firestore:"addOnIds,omitempty"`
	TravelerCount  int      `firestore:"travelerCount"`
}

type quoteDocument struct {
	Kind      string             `firestore:"kind"`
	Currency  string             `firestore:"currency"`
	ProductID string             `firestore:"productId,omitempty"`
	Title     string             `firestore:"title"`
	LineItems []lineItemDocument `firestore:"lineItems"`
	Total     int64              `firestore:"total"`
	Travelers travelersDocument  `firestore:"travelers"`
	Dates     []string           `firestore:"dates,omitempty"`
	Days      []quoteDayDocument `firestore:"days,omitempty"`
}

type lineItemDocument struct {
	Kind        string `firestore:"kind"`
	ReferenceID string `firestore:"referenceId"`
	Date        string `firestore:"date,omitempty"`
	Description string `firestore:"description"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	Amount      int64  `firestore:"amount"`
}

type travelersDocument struct {
	Min   int    `firestore:"min"`
	Max   int    `firestore:"max"`
	Label string `firestore:"label"`
}

type quoteDayDocument struct {
	Date             string   `firestore:"date"`
	LocationID       string   `firestore:"locationId"`
	LocationName     string   `firestore:"locationName"`
	DestinationNames []string `firestore:"destinationNames"`
	TravelerCount    int      `firestore:"travelerCount"`
	Subtotal         int64    `firestore:"subtotal"`
}

func newBookingDocument(b domain.Booking) bookingDocument {
	doc := bookingDocument{
		CustomerID:      b.CustomerID,
		Status:          string(b.Status),
		StatusReason:    b.StatusReason,
		Selection:       newSelectionDocument(b.Selection),
		Quote:           newQuoteDocument(b.Quote),
		TotalDue:        b.TotalDue,
		Currency:        b.Currency,
		PaymentType:     string(b.PaymentType),
		Provider:        b.Provider,
		PaymentIntentID: b.PaymentIntentID,
		Billing:         billingDocument{Name: b.Billing.Name, Email: b.Billing.Email, Phone: b.Billing.Phone},
		CreatedAt:       b.CreatedAt.UTC(),
		UpdatedAt:       b.UpdatedAt.UTC(),
	}
	if b.ClosedAt != nil {
		closed := b.ClosedAt.UTC()
		doc.ClosedAt = &closed
	}
	return doc
}

func newSelectionDocument(s domain.BookingSelection) selectionDocument {
	doc := selectionDocument{
		ProductID:     s.ProductID,
		TravelerCount: s.TravelerCount,
		AddOnIDs:      s.AddOnIDs,
		TravelDate:    s.TravelDate,
	}
	for _, day := range s.Days {
		doc.Days = append(doc.Days, daySelectionDocument{
			Date:           day.Date,
			LocationID:     day.LocationID,
			DestinationIDs: day.DestinationIDs,
			AddOnIDs:       day.AddOnIDs,
			TravelerCount:  day.TravelerCount,
		})
	}
	return doc
}

func newQuoteDocument(q domain.Quote) quoteDocument {
	doc := quoteDocument{
		Kind:      string(q.Kind),
		Currency:  q.Currency,
		ProductID: q.ProductID,
		Title:     q.Title,
		Total:     q.Total,
		Travelers: travelersDocument{Min: q.Travelers.Min, Max: q.Travelers.Max, Label: q.Travelers.Label},
		Dates:     q.Dates,
	}
	for _, item := range q.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument{
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
		doc.Days = append(doc.Days, quoteDayDocument{
			Date:             day.Date,
			LocationID:       day.LocationID,
			LocationName:     day.LocationName,
			DestinationNames: day.DestinationNames,
			TravelerCount:    day.TravelerCount,
			Subtotal:         day.Subtotal,
		})
	}
	return doc
}

func decodeBooking(snap *firestore.DocumentSnapshot) (domain.Booking, error) {
	var doc bookingDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Booking{}, pfirestore.Malformed("bookings.decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (d bookingDocument) toDomain(id string) domain.Booking {
	booking := domain.Booking{
		ID:              id,
		CustomerID:      d.CustomerID,
		Status:          domain.BookingStatus(d.Status),
		StatusReason:    d.StatusReason,
		Selection:       d.Selection.toDomain(),
		Quote:           d.Quote.toDomain(),
		TotalDue:        d.TotalDue,
		Currency:        d.Currency,
		PaymentType:     domain.PaymentType(d.PaymentType),
		Provider:        d.Provider,
		PaymentIntentID: d.PaymentIntentID,
		Billing:         domain.BillingDetails{Name: d.Billing.Name, Email: d.Billing.Email, Phone: d.Billing.Phone},
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.ClosedAt != nil {
		closed := d.ClosedAt.UTC()
		booking.ClosedAt = &closed
	}
	return booking
}

func (d selectionDocument) toDomain() domain.BookingSelection {
	sel := domain.BookingSelection{
		ProductID:     d.ProductID,
		TravelerCount: d.TravelerCount,
		AddOnIDs:      d.AddOnIDs,
		TravelDate:    d.TravelDate,
	}
	for _, day := range d.Days {
		sel.Days = append(sel.Days, domain.DaySelection{
			Date:           day.Date,
			LocationID:     day.LocationID,
			DestinationIDs: day.DestinationIDs,
			AddOnIDs:       day.AddOnIDs,
			TravelerCount:  day.TravelerCount,
		})
	}
	return sel
}

func (d quoteDocument) toDomain() domain.Quote {
	quote := domain.Quote{
		Kind:      domain.QuoteKind(d.Kind),
		Currency:  d.Currency,
		ProductID: d.ProductID,
		Title:     d.Title,
		Total:     d.Total,
		Travelers: domain.TravelerRange{Min: d.Travelers.Min, Max: d.Travelers.Max, Label: d.Travelers.Label},
		Dates:     d.Dates,
	}
	for _, item := range d.LineItems {
		quote.LineItems = append(quote.LineItems, domain.QuoteLineItem{
			Kind:        domain.QuoteLineItemKind(item.Kind),
			ReferenceID: item.ReferenceID,
			Date:        item.Date,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Amount:      item.Amount,
		})
	}
	for _, day := range d.Days {
		quote.Days = append(quote.Days, domain.QuoteDay{
			Date:             day.Date,
			LocationID:       day.LocationID,
			LocationName:     day.LocationName,
			DestinationNames: day.DestinationNames,
			TravelerCount:    day.TravelerCount,
			Subtotal:         day.Subtotal,
		})
	}
	return quote
}
