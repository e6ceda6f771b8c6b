package router

import (
	"fmt"
	"strings"
)

// Strategy is the ranking policy applied among eligible keys.
type Strategy string

const (
	// CostFirst orders by price per call, then priority.
	CostFirst Strategy = "cost"
	// SpeedFirst orders by average latency, then priority.
	SpeedFirst Strategy = "speed"
	// Balanced orders by priority alone.
	Balanced Strategy = "balanced"
	// Random picks uniformly and ignores priority.
	Random Strategy = "random"
)

// ParseStrategy maps a configuration value to a Strategy. Blank input yields
// Balanced.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", Balanced:
		return Balanced, nil
	case CostFirst:
		return CostFirst, nil
	case SpeedFirst:
		return SpeedFirst, nil
	case Random:
		return Random, nil
	default:
		return "", fmt.Errorf("unknown routing strategy %q", value)
	}
}
