package domain

import (
	"time"
)

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

const (
	BookingEventCheckoutStarted = "booking.checkout_started"
	BookingEventStatusChanged   = "booking.status_changed"
)

// BookingStatusChange is emitted whenever a booking leaves or enters a lifecycle state.
type BookingStatusChange struct {
	Type       string
	BookingID  string
	CustomerID string
	From       BookingStatus
	To         BookingStatus
	Reason     string
	Source     string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}
