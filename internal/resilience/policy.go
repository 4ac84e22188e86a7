package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Policy configures a Guard.
type Policy struct {
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`

	// the breaker opens once FailureRatioThreshold of the last
	// RequestVolumeThreshold runs failed, and stays open for Cooldown
	FailureRatioThreshold  float64       `yaml:"failureRatioThreshold"`
	RequestVolumeThreshold int           `yaml:"requestVolumeThreshold"`
	Cooldown               time.Duration `yaml:"cooldown"`

	RateWindow time.Duration `yaml:"rateWindow"`
	RateLimit  int           `yaml:"rateLimit"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:             3,
		RetryDelay:             10 * time.Second,
		FailureRatioThreshold:  0.5,
		RequestVolumeThreshold: 4,
		Cooldown:               time.Hour,
		RateWindow:             10 * time.Minute,
		RateLimit:              1,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("maxRetries must not be negative, got %d", p.MaxRetries))
	}
	if p.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retryDelay must not be negative, got %s", p.RetryDelay))
	}
	if p.FailureRatioThreshold <= 0 || p.FailureRatioThreshold > 1 {
		errs = append(errs, fmt.Errorf("failureRatioThreshold must be in (0, 1], got %v", p.FailureRatioThreshold))
	}
	if p.RequestVolumeThreshold < 1 {
		errs = append(errs, fmt.Errorf("requestVolumeThreshold must be at least 1, got %d", p.RequestVolumeThreshold))
	}
	if p.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("cooldown must be positive, got %s", p.Cooldown))
	}
	if p.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("rateWindow must be positive, got %s", p.RateWindow))
	}
	if p.RateLimit < 1 {
		errs = append(errs, fmt.Errorf("rateLimit must be at least 1, got %d", p.RateLimit))
	}
	return errors.Join(errs...)
}
