package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps attempts in process. Used by tests and local runs without Firestore.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]Attempt)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	attempt, ok := s.attempts[id]
	if !ok || expired(attempt, now) {
		attempt = newPendingAttempt(key, fingerprint, now, ttl)
		s.attempts[id] = attempt
		return Reservation{State: ReservationStateNew, Attempt: attempt}, nil
	}
	return classify(attempt, fingerprint)
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	attempt, ok := s.attempts[id]
	if ok && attempt.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		attempt = Attempt{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	attempt.Status = StatusCompleted
	attempt.BookingID = outcome.BookingID
	attempt.Succeeded = outcome.Succeeded
	attempt.Payload = append([]byte(nil), outcome.Payload...)
	attempt.UpdatedAt = now
	attempt.ExpiresAt = now.Add(ttl)
	s.attempts[id] = attempt
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.attempts) {
		limit = len(s.attempts)
	}
	removed := 0
	for id, attempt := range s.attempts {
		if removed >= limit {
			break
		}
		if !expired(attempt, now) {
			continue
		}
		delete(s.attempts, id)
		removed++
	}
	return removed, nil
}

// Release drops a pending reservation so the same key can be retried.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if attempt, ok := s.attempts[id]; ok && attempt.Fingerprint == fingerprint && attempt.Status == StatusPending {
		delete(s.attempts, id)
	}
	return nil
}
