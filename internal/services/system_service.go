package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires the health report. Registry is optional and adds a pricing catalog check.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Registry         *PricingRegistry
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	registry   *PricingRegistry
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		healthRepo: deps.HealthRepository,
		registry:   deps.Registry,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	maps.Copy(checks, report.Checks)
	if s.registry != nil {
		checks["pricing_catalog"] = s.catalogCheck(now)
	}
	report.Checks = checks

	if strings.TrimSpace(report.Status) == "" || s.registry != nil {
		report.Status = deriveStatus(checks)
	}
	return report, nil
}

func (s *systemService) catalogCheck(now time.Time) domain.SystemHealthCheck {
	products := s.registry.ProductCount()
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("%d products, currency %s", products, s.registry.Currency()),
		CheckedAt: now,
	}
	if products == 0 {
		check.Status = domain.HealthStatusDegraded
		check.Error = "catalog has no active products"
	}
	return check
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
