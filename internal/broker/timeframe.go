package broker

import (
	"fmt"
	"time"
)

// Supported chart timeframes
const (
	TF1m  = "1m"
	TF5m  = "5m"
	TF15m = "15m"
	TF30m = "30m"
	TF1h  = "1h"
	TF4h  = "4h"
	TF1d  = "1d"
)

var timeframeDurations = map[string]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// ValidTimeframe reports whether tf is a supported timeframe.
func ValidTimeframe(tf string) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// TimeframeDuration returns the bar length of tf.
func TimeframeDuration(tf string) (time.Duration, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return d, nil
}

// PeriodsPerYear returns the number of tf bars in a 365 day calendar year.
func PeriodsPerYear(tf string) float64 {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0
	}
	return float64(365*24*time.Hour) / float64(d)
}
