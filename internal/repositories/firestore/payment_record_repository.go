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

const paymentRecordsCollection = "paymentRecords"

// PaymentRecordRepository keys records by the gateway payment id so redelivered events land on the
// same document.
type PaymentRecordRepository struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[domain.PaymentRecord]
}

var _ repositories.PaymentRecordRepository = (*PaymentRecordRepository)(nil)

func NewPaymentRecordRepository(provider *pfirestore.Provider) (*PaymentRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("payment record repository requires firestore provider")
	}
	return &PaymentRecordRepository{
		provider: provider,
		records:  pfirestore.NewCollection[domain.PaymentRecord](provider, paymentRecordsCollection, decodePaymentRecord),
	}, nil
}

// Upsert inserts the record, or replaces a stored failure. A stored paid record is final.
func (r *PaymentRecordRepository) Upsert(ctx context.Context, record domain.PaymentRecord) (domain.PaymentRecord, bool, error) {
	id := strings.TrimSpace(record.GatewayPaymentID)
	if id == "" || strings.Contains(id, "/") {
		return domain.PaymentRecord{}, false, errors.New("payment record repository: gateway payment id is invalid")
	}
	ref, err := r.records.Doc(ctx, id)
	if err != nil {
		return domain.PaymentRecord{}, false, err
	}

	var (
		stored  domain.PaymentRecord
		changed bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			stored = record
			changed = true
			return tx.Create(ref, newPaymentRecordDocument(record))
		case err != nil:
			return err
		}

		existing, err := decodePaymentRecord(snap)
		if err != nil {
			return err
		}
		stored = existing
		if existing.Status == domain.PaymentRecordPaid {
			return nil
		}
		if existing.Status == record.Status && existing.EventID == record.EventID {
			return nil
		}

		doc := newPaymentRecordDocument(record)
		doc.CreatedAt = existing.CreatedAt.UTC()
		stored = doc.toDomain(id)
		changed = true
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.PaymentRecord{}, false, pfirestore.WrapError("payment_records.upsert", err)
	}
	return stored, changed, nil
}

func (r *PaymentRecordRepository) Get(ctx context.Context, gatewayPaymentID string) (domain.PaymentRecord, error) {
	return r.records.Get(ctx, strings.TrimSpace(gatewayPaymentID))
}

type paymentRecordDocument struct {
	BookingID      string    `firestore:"bookingId"`
	IntentID       string    `firestore:"intentId"`
	Provider       string    `firestore:"provider"`
	Amount         int64     `firestore:"amount"`
	Currency       string    `firestore:"currency"`
	Status         string    `firestore:"status"`
	EventID        string    `firestore:"eventId"`
	EventType      string    `firestore:"eventType"`
	FailureCode    string    `firestore:"failureCode,omitempty"`
	FailureMessage string    `firestore:"failureMessage,omitempty"`
	LiveMode       bool      `firestore:"liveMode"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newPaymentRecordDocument(r domain.PaymentRecord) paymentRecordDocument {
	return paymentRecordDocument{
		BookingID:      r.BookingID,
		IntentID:       r.IntentID,
		Provider:       r.Provider,
		Amount:         r.Amount,
		Currency:       r.Currency,
		Status:         string(r.Status),
		EventID:        r.EventID,
		EventType:      r.EventType,
		FailureCode:    r.FailureCode,
		FailureMessage: r.FailureMessage,
		LiveMode:       r.LiveMode,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (d paymentRecordDocument) toDomain(id string) domain.PaymentRecord {
	return domain.PaymentRecord{
		GatewayPaymentID: id,
		BookingID:        d.BookingID,
		IntentID:         d.IntentID,
		Provider:         d.Provider,
		Amount:           d.Amount,
		Currency:         d.Currency,
		Status:           domain.PaymentRecordStatus(d.Status),
		EventID:          d.EventID,
		EventType:        d.EventType,
		FailureCode:      d.FailureCode,
		FailureMessage:   d.FailureMessage,
		LiveMode:         d.LiveMode,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func decodePaymentRecord(snap *firestore.DocumentSnapshot) (domain.PaymentRecord, error) {
	var doc paymentRecordDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PaymentRecord{}, pfirestore.Malformed("payment_records.decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}
