package anomaly

import (
	"fmt"
)

// DefaultPowerThreshold is the apparent-power alert level in watts
const DefaultPowerThreshold = 5000.0

// Detector flags samples whose apparent power crosses the configured threshold
type Detector struct {
	powerThreshold float64
}

// NewDetector creates a new detector; a non-positive threshold falls back to the default
func NewDetector(powerThreshold float64) *Detector {
	if powerThreshold <= 0 {
		powerThreshold = DefaultPowerThreshold
	}
	return &Detector{powerThreshold: powerThreshold}
}

// Threshold returns the active power threshold
func (d *Detector) Threshold() float64 {
	return d.powerThreshold
}

// CheckPower reports whether papp is strictly above the threshold, with a message
func (d *Detector) CheckPower(papp float64) (bool, string) {
	if papp > d.powerThreshold {
		return true, fmt.Sprintf("high power: %.0fW (threshold: %.0fW)", papp, d.powerThreshold)
	}
	return false, ""
}
