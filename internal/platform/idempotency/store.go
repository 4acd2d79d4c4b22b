package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a checkout attempt.
type Status string

const (
	// DefaultTTL is how long attempts are retained for replay.
	DefaultTTL = 24 * time.Hour
	// StatusPending indicates the attempt is reserved and still talking to the gateway.
	StatusPending Status = "pending"
	// StatusCompleted indicates the attempt finished, successfully or not, and its outcome can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the attempt and must complete or release it.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored outcome exists and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is currently processing this key.
	ReservationStatePending
)

// Reservation is the result of Reserve.
type Reservation struct {
	State   ReservationState
	Attempt Attempt
}

// Attempt is one checkout attempt as recorded in the ledger.
type Attempt struct {
	Key         string
	Fingerprint string
	Status      Status
	BookingID   string
	Succeeded   bool
	Payload     []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Outcome is what gets stored when an attempt finishes. Payload is an opaque encoding owned by the caller.
type Outcome struct {
	BookingID string
	Succeeded bool
	Payload   []byte
}

// Store persists checkout attempts keyed by the client's idempotency key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	// ErrFingerprintMismatch is returned when a key is reused with a different request fingerprint.
	ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")
)

// Fingerprint hashes the request parts that must match for a key to be replayed.
func Fingerprint(parts ...string) string {
	return sha256Hex([]byte(strings.Join(parts, "\x1f")))
}

func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newPendingAttempt(key, fingerprint string, now time.Time, ttl time.Duration) Attempt {
	return Attempt{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func classify(attempt Attempt, fingerprint string) (Reservation, error) {
	if attempt.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if attempt.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Attempt: attempt}, nil
	}
	return Reservation{State: ReservationStatePending, Attempt: attempt}, nil
}

func expired(attempt Attempt, now time.Time) bool {
	return !attempt.ExpiresAt.IsZero() && !now.Before(attempt.ExpiresAt)
}
