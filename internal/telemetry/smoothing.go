package telemetry

import (
	"sort"
	"time"
)

// Smooth replaces each detection's RSSI with the mean RSSI of all detections
// for the same (tag, node) pair whose timestamps lie within windowMinutes
// before or after it, inclusive of the detection itself. Detections near the
// start or end of a group simply see a smaller window.
//
// A windowMinutes of 0 is the identity transform. Tag, node and timestamp are
// never changed. The returned slice is sorted by (tag, node, time).
func Smooth(dets []Detection, windowMinutes int) []Detection {
	out := make([]Detection, len(dets))
	copy(out, dets)
	sortDetections(out)

	if windowMinutes == 0 || len(out) == 0 {
		return out
	}

	window := time.Duration(windowMinutes) * time.Minute

	// Groups are contiguous runs after sorting.
	start := 0
	for i := 1; i <= len(out); i++ {
		if i < len(out) && out[i].TagID == out[start].TagID && out[i].NodeID == out[start].NodeID {
			continue
		}
		smoothGroup(out[start:i], window)
		start = i
	}

	return out
}

// smoothGroup averages RSSI over a sliding symmetric time window within one
// time-ordered (tag, node) group. The raw values are snapshotted first so
// each output is computed from unsmoothed inputs.
func smoothGroup(group []Detection, window time.Duration) {
	raw := make([]float64, len(group))
	for i, d := range group {
		raw[i] = d.RSSI
	}

	lo, hi := 0, 0
	for i := range group {
		t := group[i].Time
		for lo < len(group) && group[lo].Time.Before(t.Add(-window)) {
			lo++
		}
		if hi < i {
			hi = i
		}
		for hi+1 < len(group) && !group[hi+1].Time.After(t.Add(window)) {
			hi++
		}

		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += raw[j]
		}
		group[i].RSSI = sum / float64(hi-lo+1)
	}
}

func sortDetections(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].TagID != dets[j].TagID {
			return dets[i].TagID < dets[j].TagID
		}
		if dets[i].NodeID != dets[j].NodeID {
			return dets[i].NodeID < dets[j].NodeID
		}
		return dets[i].Time.Before(dets[j].Time)
	})
}
