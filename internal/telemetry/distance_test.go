package telemetry

import (
	"math"
	"testing"
	"time"
)

// Reference coefficients in the shape produced by site calibration: RSSI
// -45 dB at zero range, decaying toward -105 dB.
var testModel = DecayModel{A: -45, S: 0.005, K: -105}

func TestDecayModel_Validate(t *testing.T) {
	cases := []struct {
		name    string
		model   DecayModel
		wantErr bool
	}{
		{"valid", DecayModel{A: -45, S: 0.005, K: -105}, false},
		{"a equals k", DecayModel{A: -105, S: 0.005, K: -105}, true},
		{"a below k", DecayModel{A: -110, S: 0.005, K: -105}, true},
		{"zero decay rate", DecayModel{A: -45, S: 0, K: -105}, true},
		{"negative decay rate", DecayModel{A: -45, S: -1, K: -105}, true},
		{"nan coefficient", DecayModel{A: math.NaN(), S: 0.005, K: -105}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.model.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("expected error for %+v", tc.model)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecayModel_InvertsForwardModel(t *testing.T) {
	// For any RSSI strictly between K and A, feeding the estimated
	// distance back through the forward model must reproduce the RSSI.
	for rssi := -104.0; rssi < -46.0; rssi += 3.7 {
		d := testModel.Distance(rssi)
		if math.IsNaN(d) {
			t.Fatalf("rssi %v inside (K, A) yielded undefined distance", rssi)
		}
		if d < 0 {
			t.Fatalf("rssi %v yielded negative distance %v", rssi, d)
		}
		back := testModel.RSSI(d)
		if math.Abs(back-rssi) > 1e-9 {
			t.Errorf("round trip for rssi %v: got %v", rssi, back)
		}
	}
}

func TestDecayModel_OutOfDomainIsUndefined(t *testing.T) {
	cases := []struct {
		name string
		rssi float64
	}{
		{"above intercept", -40},
		{"exactly intercept", testModel.A},
		{"exactly asymptote", testModel.K},
		{"below asymptote", -120},
		{"nan", math.NaN()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := testModel.Distance(tc.rssi); !math.IsNaN(d) {
				t.Errorf("rssi %v: got distance %v, want NaN", tc.rssi, d)
			}
		})
	}
}

func TestEstimateDistances_AttachesNodeCoordinates(t *testing.T) {
	bucket := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	sigs := []AggregatedSignal{
		{TagID: "t1", NodeID: "n1", Bucket: bucket, MeanRSSI: -70, Count: 3},
		{TagID: "t1", NodeID: "n2", Bucket: bucket, MeanRSSI: -120, Count: 1}, // below asymptote
	}
	nodes := map[string]Node{
		"n1": {ID: "n1", X: 10, Y: 20},
		"n2": {ID: "n2", X: 30, Y: 40},
	}

	obs, err := EstimateDistances(sigs, nodes, testModel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}

	if obs[0].NodeX != 10 || obs[0].NodeY != 20 {
		t.Errorf("n1 coordinates not attached: %+v", obs[0])
	}
	if !obs[0].DistanceDefined() {
		t.Errorf("n1 distance should be defined, got %v", obs[0].Distance)
	}
	if obs[1].DistanceDefined() {
		t.Errorf("n2 out-of-domain distance should be undefined, got %v", obs[1].Distance)
	}
}

func TestEstimateDistances_UnknownNodeIsFatal(t *testing.T) {
	sigs := []AggregatedSignal{
		{TagID: "t1", NodeID: "ghost", Bucket: time.Now(), MeanRSSI: -70, Count: 1},
	}
	_, err := EstimateDistances(sigs, map[string]Node{}, testModel)
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestEstimateDistances_InvalidModelIsFatal(t *testing.T) {
	_, err := EstimateDistances(nil, nil, DecayModel{A: -105, S: 0.005, K: -45})
	if err == nil {
		t.Fatal("expected error for non-invertible model")
	}
}
