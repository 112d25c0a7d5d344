package telemetry

import (
	"fmt"
	"math"
)

// DecayModel is the calibrated exponential relationship between RSSI and
// distance:
//
//	rssi = K + (A-K) * exp(-S * distance)
//
// A is the intercept (RSSI at zero range), K the horizontal asymptote and S
// the decay rate. The three coefficients are fitted once from reference
// transmissions at known ranges and supplied to the engine as constants.
type DecayModel struct {
	A float64
	S float64
	K float64
}

// Validate rejects coefficient sets that make the model non-invertible.
func (m DecayModel) Validate() error {
	if !isFinite(m.A) || !isFinite(m.S) || !isFinite(m.K) {
		return fmt.Errorf("decay model coefficients must be finite, got a=%v s=%v k=%v", m.A, m.S, m.K)
	}
	if m.A <= m.K {
		return fmt.Errorf("decay model requires a > k for invertibility, got a=%v k=%v", m.A, m.K)
	}
	if m.S <= 0 {
		return fmt.Errorf("decay rate s must be positive, got %v", m.S)
	}
	return nil
}

// Distance inverts the model for an observed RSSI. RSSI values at or outside
// the model's domain (rssi <= K or rssi >= A) have no meaningful inversion
// and yield NaN rather than a clamped value, so impossible geometry is never
// fabricated. A negative or non-finite inversion result also yields NaN.
func (m DecayModel) Distance(rssi float64) float64 {
	if rssi <= m.K || rssi >= m.A {
		return math.NaN()
	}
	d := -math.Log((rssi-m.K)/(m.A-m.K)) / m.S
	if d < 0 || !isFinite(d) {
		return math.NaN()
	}
	return d
}

// RSSI evaluates the forward model at a distance. Used by calibration checks
// and tests; the engine only ever inverts.
func (m DecayModel) RSSI(distance float64) float64 {
	return m.K + (m.A-m.K)*math.Exp(-m.S*distance)
}

// EstimateDistances converts each aggregated signal into a
// DistanceObservation by inverting the decay model and attaching the
// receiving node's coordinates. A signal from a node missing from the node
// table is a configuration error: the caller wired up mismatched inputs and
// no meaningful output can be produced.
func EstimateDistances(sigs []AggregatedSignal, nodes map[string]Node, model DecayModel) ([]DistanceObservation, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}

	out := make([]DistanceObservation, 0, len(sigs))
	for _, s := range sigs {
		node, ok := nodes[s.NodeID]
		if !ok {
			return nil, fmt.Errorf("detection references unknown node %q", s.NodeID)
		}
		out = append(out, DistanceObservation{
			AggregatedSignal: s,
			Distance:         model.Distance(s.MeanRSSI),
			NodeX:            node.X,
			NodeY:            node.Y,
		})
	}
	return out, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
