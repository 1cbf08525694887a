package preprocess

import (
	"errors"
	"fmt"
)

// ErrThresholdOrder is returned when thresholds are out of range or not
// monotonically ordered. Invalid thresholds are rejected, never reordered.
var ErrThresholdOrder = errors.New("thresholds must satisfy 0 <= low <= medium <= high <= 1")

// Thresholds are the score cut points for the decision logic. A score at or
// above High blocks; at or above Low warns; below Low allows.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// DefaultThresholds returns the standard cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Low:    0.25,
		Medium: 0.60,
		High:   0.85,
	}
}

// Validate checks range and ordering.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 || t.Low > t.Medium || t.Medium > t.High {
		return fmt.Errorf("%w: got low=%v medium=%v high=%v", ErrThresholdOrder, t.Low, t.Medium, t.High)
	}
	return nil
}
