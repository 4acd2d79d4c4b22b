package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "checkout_attempts"
	defaultMaxAttempts = 5
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures the transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore implements Store on Firestore. Documents are keyed by the SHA-256 of the scoped key.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

// Reserve claims the key inside a transaction so concurrent submissions see exactly one winner.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.doc(key)

	var result Reservation
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc attemptDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			attempt := doc.toAttempt()
			if !expired(attempt, now) {
				result, err = classify(attempt, fingerprint)
				return err
			}
		}

		attempt := newPendingAttempt(key, fingerprint, now, ttl)
		if err := tx.Set(ref, fromAttempt(attempt)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Attempt: attempt}
		return nil
	}, firestore.MaxAttempts(s.maxAttempts))

	return result, err
}

// Complete stores the final outcome of the attempt.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.doc(key)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempt := Attempt{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc attemptDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			attempt = doc.toAttempt()
		}

		attempt.Status = StatusCompleted
		attempt.BookingID = outcome.BookingID
		attempt.Succeeded = outcome.Succeeded
		attempt.Payload = append([]byte(nil), outcome.Payload...)
		attempt.UpdatedAt = now
		attempt.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, fromAttempt(attempt))
	}, firestore.MaxAttempts(s.maxAttempts))
}

// CleanupExpired removes expired attempts up to limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Release drops the reservation so the same key can be retried.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

type attemptDocument struct {
	Key         string    `firestore:"key"`
	Fingerprint string    `firestore:"fingerprint"`
	Status      string    `firestore:"status"`
	BookingID   string    `firestore:"booking_id,omitempty"`
	Succeeded   bool      `firestore:"succeeded"`
	Payload     []byte    `firestore:"payload,omitempty"`
	CreatedAt   time.Time `firestore:"created_at"`
	UpdatedAt   time.Time `firestore:"updated_at"`
	ExpiresAt   time.Time `firestore:"expires_at"`
}

func fromAttempt(a Attempt) attemptDocument {
	return attemptDocument{
		Key:         a.Key,
		Fingerprint: a.Fingerprint,
		Status:      string(a.Status),
		BookingID:   a.BookingID,
		Succeeded:   a.Succeeded,
		Payload:     a.Payload,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		ExpiresAt:   a.ExpiresAt,
	}
}

func (d attemptDocument) toAttempt() Attempt {
	return Attempt{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Status:      Status(d.Status),
		BookingID:   d.BookingID,
		Succeeded:   d.Succeeded,
		Payload:     d.Payload,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
