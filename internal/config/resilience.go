package config

import (
	"time"

	"listing_f1s/internal/retry"
)

type ResilienceConfig struct {
	RatingRequest  retry.Config
	ReferenceFetch retry.Config
	TaskRequest    retry.Config
}

// DefaultResilienceConfig carries the observed ratings API policy: three
// retries on 429, waiting 30s, 60s and 90s.
var DefaultResilienceConfig = ResilienceConfig{
	RatingRequest: retry.Config{
		MaxRetries: 3,
		BaseDelay:  30 * time.Second,
		MaxDelay:   2 * time.Minute,
		Timeout:    15 * time.Second,
		Strategy:   retry.Linear,
	},
	ReferenceFetch: retry.Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    30 * time.Second,
		Strategy:   retry.Exponential,
	},
	TaskRequest: retry.Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   15 * time.Second,
		Timeout:    30 * time.Second,
		Strategy:   retry.Exponential,
	},
}
