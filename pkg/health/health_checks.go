package health

import (
	"context"
	"time"
)

// Common health check functions

// SimpleCheck creates a simple health check that always returns healthy
func SimpleCheck(name string) CheckFunc {
	return func(ctx context.Context) Check {
		return Check{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now(),
		}
	}
}

// DatabaseCheck creates a health check for database connectivity
func DatabaseCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name: "database",
		}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// PublisherCheck reports the event publisher. A disabled publisher is
// healthy and a failed one only degrades.
func PublisherCheck(state func() (enabled bool, addr string, err error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "events",
			Details: make(map[string]any),
		}

		enabled, addr, err := state()
		check.Details["enabled"] = enabled
		if addr != "" {
			check.Details["address"] = addr
		}

		switch {
		case !enabled:
			check.Status = StatusHealthy
			check.Message = "Events disabled"
		case err != nil:
			check.Status = StatusDegraded
			check.Message = err.Error()
		default:
			check.Status = StatusHealthy
			check.Message = "Publishing"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		var usagePercent float64
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
