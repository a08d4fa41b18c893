package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status   string                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Latency  string                 `json:"latency,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HealthChecker manages and executes health checks
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

// HealthCheck is a function that performs a health check
type HealthCheck func() CheckResult

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck adds a health check to the checker
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs all health checks and returns the overall status
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	anyUnhealthy := false
	anyDegraded := false
	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		case StatusUnhealthy:
			anyUnhealthy = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}

	return status
}

// Handler returns a handler for the health check endpoint
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// Herald health check functions

// ConnectionCapacityHealthCheck reports the total subscriber count
// against the per-channel capacity limit. Degrades when any channel is
// at its configured limit.
func ConnectionCapacityHealthCheck(channels func() map[string]int, maxPerChannel int) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		counts := channels()

		total := 0
		atCapacity := []string{}
		for name, count := range counts {
			total += count
			if maxPerChannel > 0 && count >= maxPerChannel {
				atCapacity = append(atCapacity, name)
			}
		}

		result := CheckResult{
			Status:  StatusHealthy,
			Message: "Connection capacity within limits",
			Latency: time.Since(start).String(),
			Metadata: map[string]interface{}{
				"total_connections":       total,
				"max_clients_per_channel": maxPerChannel,
			},
		}
		if len(atCapacity) > 0 {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("Channels at capacity: %v", atCapacity)
			result.Metadata["channels_at_capacity"] = atCapacity
		}
		return result
	}
}

// ConnectionManagerHealthCheck reports the channels currently held by
// the registry.
func ConnectionManagerHealthCheck(channels func() map[string]int) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		counts := channels()

		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}

		return CheckResult{
			Status:  StatusHealthy,
			Message: "Connection manager operational",
			Latency: time.Since(start).String(),
			Metadata: map[string]interface{}{
				"channel_names": names,
				"channel_count": len(names),
			},
		}
	}
}

// ConfigurationHealthCheck creates a health check for required configuration
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		missing := []string{}

		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}

		if len(missing) > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Missing required configuration: %v", missing),
				Latency: time.Since(start).String(),
			}
		}

		return CheckResult{
			Status:  StatusHealthy,
			Message: "All required configuration present",
			Latency: time.Since(start).String(),
		}
	}
}
