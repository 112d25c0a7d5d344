package telemetry

import (
	"sort"
	"time"
)

// Aggregate partitions detections into fixed-width, right-open time buckets
// per (tag, node) pair and emits one AggregatedSignal per non-empty bucket
// with the mean RSSI and contributing count. Bucket starts are anchored by
// truncating the UTC timestamp to the bucket width, so edges are
// reproducible across runs. Empty buckets are omitted.
//
// Aggregate never fails on well-formed input; empty input yields empty
// output. bucketWidth must be positive (enforced by EngineConfig.Validate).
func Aggregate(dets []Detection, bucketWidth time.Duration) []AggregatedSignal {
	type acc struct {
		sum   float64
		count int
	}

	type groupKey struct {
		tagID  string
		nodeID string
		bucket time.Time
	}

	sums := make(map[groupKey]*acc)
	for _, d := range dets {
		k := groupKey{
			tagID:  d.TagID,
			nodeID: d.NodeID,
			bucket: d.Time.UTC().Truncate(bucketWidth),
		}
		a := sums[k]
		if a == nil {
			a = &acc{}
			sums[k] = a
		}
		a.sum += d.RSSI
		a.count++
	}

	out := make([]AggregatedSignal, 0, len(sums))
	for k, a := range sums {
		out = append(out, AggregatedSignal{
			TagID:    k.tagID,
			NodeID:   k.nodeID,
			Bucket:   k.bucket,
			MeanRSSI: a.sum / float64(a.count),
			Count:    a.count,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TagID != out[j].TagID {
			return out[i].TagID < out[j].TagID
		}
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].Bucket.Before(out[j].Bucket)
	})

	return out
}
