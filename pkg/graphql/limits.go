package graphql

import (
	"fmt"
)

// LimitConfig bounds the edges returned by one edges selection.
type LimitConfig struct {
	DefaultLimit int // Edges returned when no limit is given, 0 for all
	MaxLimit     int // Upper bound on any limit, 0 for none
}

// DefaultLimitConfig returns every edge unless the query asks for fewer.
func DefaultLimitConfig() *LimitConfig {
	return &LimitConfig{}
}

// ValidateLimitConfig validates the limit configuration
func ValidateLimitConfig(config *LimitConfig) error {
	if config.MaxLimit < 0 {
		return fmt.Errorf("max limit must not be negative, got %d", config.MaxLimit)
	}
	if config.DefaultLimit < 0 {
		return fmt.Errorf("default limit must not be negative, got %d", config.DefaultLimit)
	}
	if config.MaxLimit > 0 && config.DefaultLimit > config.MaxLimit {
		return fmt.Errorf("default limit (%d) cannot exceed max limit (%d)", config.DefaultLimit, config.MaxLimit)
	}
	return nil
}

// applyLimit returns how many of total edges to return for requestedLimit.
// A negative request means no limit was given.
func applyLimit(requestedLimit, total int, config *LimitConfig) int {
	n := requestedLimit
	if n < 0 {
		n = config.DefaultLimit
		if n == 0 {
			n = total
		}
	}
	if config.MaxLimit > 0 && n > config.MaxLimit {
		n = config.MaxLimit
	}
	if n > total {
		n = total
	}
	return n
}
