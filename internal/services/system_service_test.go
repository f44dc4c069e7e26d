package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
)

type stubHealthRepository struct {
	collectFn func(context.Context) (domain.HealthReport, error)
}

func (s stubHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	return s.collectFn(ctx)
}

func TestSystemServiceHealthReportDecoratesBuildInfo(t *testing.T) {
	started := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{collectFn: func(context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{Checks: map[string]domain.HealthCheck{
				"orders":  {Status: domain.HealthStatusOK},
				"redis":   {Status: domain.HealthStatusDegraded, Detail: "slow"},
				"pubsub":  {Status: ""},
				"catalog": {Status: domain.HealthStatusOK},
			}}, nil
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.2.0", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Uptime != 90*time.Second || report.Version != "1.2.0" || report.Environment != "staging" {
		t.Fatalf("unexpected build metadata %#v", report)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated at %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportPropagatesErrors(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{collectFn: func(context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{}, boom
		}},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected collect error, got %v", err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
