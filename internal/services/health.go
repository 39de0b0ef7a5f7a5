package services

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

type HealthCheck func(ctx context.Context) error

type healthCheck struct {
	name     string
	critical bool
	check    HealthCheck
}

type HealthService struct {
	logger  *logrus.Logger
	metrics *Metrics
	timeout time.Duration
	checks  []healthCheck
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Checks      map[string]CheckResult `json:"checks"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string  `json:"status"`
	Critical  bool    `json:"critical"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func NewHealthService(logger *logrus.Logger, metrics *Metrics) *HealthService {
	return &HealthService{
		logger:  logger,
		metrics: metrics,
		timeout: 5 * time.Second,
	}
}

// AddCheck registers a dependency. A failing critical dependency makes the
// service unhealthy, any other failure only degrades it.
func (s *HealthService) AddCheck(name string, critical bool, check HealthCheck) {
	s.checks = append(s.checks, healthCheck{name: name, critical: critical, check: check})
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Checks:    make(map[string]CheckResult),
	}

	allCriticalHealthy := true
	for _, hc := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		started := time.Now()
		err := hc.check(checkCtx)
		cancel()

		result := CheckResult{
			Status:    "healthy",
			Critical:  hc.critical,
			LatencyMs: float64(time.Since(started).Microseconds()) / 1000,
		}
		if err != nil {
			result.Status = "unhealthy"
			result.Error = err.Error()
		}
		status.Checks[hc.name] = result

		if err != nil {
			status.Services[hc.name] = "unhealthy"
			if hc.critical {
				status.Critical = append(status.Critical, hc.name)
				allCriticalHealthy = false
				s.logger.WithError(err).Errorf("Critical service %s is unhealthy", hc.name)
			} else {
				status.NonCritical = append(status.NonCritical, hc.name)
				s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", hc.name)
			}
			s.UpdateHealthMetrics(hc.name, false)
			continue
		}

		status.Services[hc.name] = "healthy"
		s.UpdateHealthMetrics(hc.name, true)
	}
	sort.Strings(status.Critical)
	sort.Strings(status.NonCritical)

	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if s.metrics == nil {
		return
	}
	if healthy {
		s.metrics.HealthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.metrics.HealthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.metrics.LastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
