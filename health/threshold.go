package health

import (
	"context"
	"errors"
	"fmt"
)

// ErrThresholdExceeded is the error of a ThresholdChecker result at or above
// the critical threshold.
var ErrThresholdExceeded = errors.New("health: critical threshold exceeded")

// ThresholdConfig configures a ThresholdChecker.
type ThresholdConfig struct {
	// Name is the checker name.
	Name string

	// Sample returns the observed ratio in [0, 1] and details to attach. ok is
	// false while there is not enough data to judge.
	Sample func() (ratio float64, details map[string]any, ok bool)

	// WarningThreshold marks the result degraded. Default: 0.5
	WarningThreshold float64

	// CriticalThreshold marks the result unhealthy. Default: 0.9
	CriticalThreshold float64
}

// ThresholdChecker grades a sampled ratio, such as the share of failed secret
// loads, against warning and critical thresholds.
type ThresholdChecker struct {
	config ThresholdConfig
}

// NewThresholdChecker creates a ThresholdChecker.
func NewThresholdChecker(config ThresholdConfig) *ThresholdChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.5
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold > 1 {
		config.CriticalThreshold = 0.9
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = config.WarningThreshold
	}
	return &ThresholdChecker{config: config}
}

// Name returns the configured name.
func (c *ThresholdChecker) Name() string {
	return c.config.Name
}

// Check samples the ratio and grades it.
func (c *ThresholdChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}
	if c.config.Sample == nil {
		return Healthy("no sampler configured")
	}

	ratio, details, ok := c.config.Sample()
	if !ok {
		return Healthy("not enough data").WithDetails(details)
	}
	details = withRatio(details, ratio)

	switch {
	case ratio >= c.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("ratio critical: %.1f%%", ratio*100), ErrThresholdExceeded).WithDetails(details)
	case ratio >= c.config.WarningThreshold:
		return Degraded(fmt.Sprintf("ratio high: %.1f%%", ratio*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("ratio normal: %.1f%%", ratio*100)).WithDetails(details)
	}
}

func withRatio(details map[string]any, ratio float64) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["ratio"] = ratio
	return out
}
