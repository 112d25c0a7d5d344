package telemetry

import (
	"math"
	"testing"
	"time"
)

var filterBucket = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func obsAt(tag, node string, rssi, dist float64) DistanceObservation {
	return DistanceObservation{
		AggregatedSignal: AggregatedSignal{
			TagID: tag, NodeID: node, Bucket: filterBucket, MeanRSSI: rssi, Count: 1,
		},
		Distance: dist,
	}
}

func TestFilterCandidates_DropsBelowFloorAndUndefined(t *testing.T) {
	obs := []DistanceObservation{
		obsAt("t1", "n1", -60, 50),
		obsAt("t1", "n2", -70, 80),
		obsAt("t1", "n3", -80, 110),
		obsAt("t1", "n4", -99, 300),        // below floor
		obsAt("t1", "n5", -75, math.NaN()), // undefined distance
	}

	sets := FilterCandidates(obs, 500, -95)
	key := BucketKey{TagID: "t1", Bucket: filterBucket}
	cs, ok := sets[key]
	if !ok {
		t.Fatal("expected a candidate set for the bucket")
	}
	if len(cs.Observations) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cs.Observations))
	}
	for _, o := range cs.Observations {
		if o.NodeID == "n4" || o.NodeID == "n5" {
			t.Errorf("node %s should have been dropped", o.NodeID)
		}
	}
}

func TestFilterCandidates_RelativeDistanceCap(t *testing.T) {
	obs := []DistanceObservation{
		obsAt("t1", "n1", -60, 50), // anchor: strongest signal
		obsAt("t1", "n2", -70, 120),
		obsAt("t1", "n3", -75, 140),
		obsAt("t1", "n4", -80, 201), // 151m beyond anchor, over the 150m cap
	}

	sets := FilterCandidates(obs, 150, -95)
	cs := sets[BucketKey{TagID: "t1", Bucket: filterBucket}]
	if len(cs.Observations) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cs.Observations))
	}
	for _, o := range cs.Observations {
		if o.NodeID == "n4" {
			t.Error("n4 exceeds the relative cap and should have been dropped")
		}
		if o.Distance > 50+150 {
			t.Errorf("node %s distance %v exceeds anchor+cap", o.NodeID, o.Distance)
		}
	}
}

func TestFilterCandidates_AnchorTieBreakLowestNodeID(t *testing.T) {
	// n2 and n9 tie on RSSI; the anchor must be n2, whose shorter distance
	// then excludes n9 under a tight cap.
	obs := []DistanceObservation{
		obsAt("t1", "n9", -60, 100),
		obsAt("t1", "n2", -60, 40),
		obsAt("t1", "n3", -70, 45),
		obsAt("t1", "n4", -75, 50),
	}

	sets := FilterCandidates(obs, 20, -95)
	cs, ok := sets[BucketKey{TagID: "t1", Bucket: filterBucket}]
	if !ok {
		t.Fatal("expected a candidate set")
	}
	for _, o := range cs.Observations {
		if o.NodeID == "n9" {
			t.Error("n9 kept: tie-break must pick n2 as anchor, putting n9 60m beyond the cap")
		}
	}
	if len(cs.Observations) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(cs.Observations))
	}
}

func TestFilterCandidates_MinimumThreeNodes(t *testing.T) {
	obs := []DistanceObservation{
		obsAt("t1", "n1", -60, 50),
		obsAt("t1", "n2", -70, 80),
	}

	sets := FilterCandidates(obs, 500, -95)
	if len(sets) != 0 {
		t.Errorf("two-node bucket must be dropped, got %d sets", len(sets))
	}
}

func TestFilterCandidates_GroupsShareTagAndBucket(t *testing.T) {
	other := filterBucket.Add(time.Minute)
	obs := []DistanceObservation{
		obsAt("t1", "n1", -60, 50),
		obsAt("t1", "n2", -70, 80),
		obsAt("t1", "n3", -80, 110),
		{AggregatedSignal: AggregatedSignal{TagID: "t1", NodeID: "n1", Bucket: other, MeanRSSI: -60, Count: 1}, Distance: 50},
	}

	sets := FilterCandidates(obs, 500, -95)
	if len(sets) != 1 {
		t.Fatalf("expected 1 solvable set, got %d", len(sets))
	}
	for key, cs := range sets {
		for _, o := range cs.Observations {
			if o.TagID != key.TagID || !o.Bucket.Equal(key.Bucket) {
				t.Errorf("member (%s,%v) does not match key (%s,%v)", o.TagID, o.Bucket, key.TagID, key.Bucket)
			}
		}
	}
}
