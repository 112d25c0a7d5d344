// Package telemetry implements the batch localization engine: it conditions
// raw RSSI detections from fixed receiver nodes, converts them to distance
// estimates through a calibrated decay model, and multilaterates a 2D
// position per tag and time bucket.
package telemetry

import (
	"math"
	"time"
)

// Detection is one raw observation of a radio tag by a receiver node.
// Detections are immutable; every pipeline stage produces new records.
type Detection struct {
	TagID  string
	NodeID string
	Time   time.Time
	RSSI   float64 // signed, dB
}

// Node is a fixed receiver anchor with known coordinates (meters, local grid).
type Node struct {
	ID string
	X  float64
	Y  float64
}

// Tag is a deployed transmitter. DeployDate is used by callers to exclude
// detections recorded before the tag was on an animal; the engine itself
// never consults it.
type Tag struct {
	ID         string
	DeployDate time.Time
}

// AggregatedSignal is one row per (tag, node, time bucket): the mean smoothed
// RSSI over the bucket and the number of detections that contributed.
type AggregatedSignal struct {
	TagID    string
	NodeID   string
	Bucket   time.Time // bucket start, UTC
	MeanRSSI float64
	Count    int
}

// DistanceObservation is an AggregatedSignal with the decay-model distance
// estimate and the receiving node's coordinates attached.
//
// Distance is NaN when the mean RSSI falls outside the model's invertible
// range. An undefined distance is never clamped to zero; downstream stages
// must drop the observation instead.
type DistanceObservation struct {
	AggregatedSignal
	Distance float64 // meters; NaN when undefined
	NodeX    float64
	NodeY    float64
}

// DistanceDefined reports whether the distance estimate is usable geometry.
func (o DistanceObservation) DistanceDefined() bool {
	return !math.IsNaN(o.Distance) && !math.IsInf(o.Distance, 0) && o.Distance >= 0
}

// BucketKey identifies one (tag, time bucket) localization problem.
type BucketKey struct {
	TagID  string
	Bucket time.Time
}

// CandidateSet is the set of distance observations for one (tag, bucket)
// that survived filtering. Members share the key and are distinct by node.
type CandidateSet struct {
	Key          BucketKey
	Observations []DistanceObservation
}

// LocationEstimate is the terminal output: a fitted 2D position for one tag
// and time bucket with coordinate-wise 95% confidence bounds.
type LocationEstimate struct {
	TagID     string
	Bucket    time.Time
	Hour      int // hour of day of the bucket start, UTC
	NodeCount int
	X         float64
	Y         float64
	XLow      float64
	XHigh     float64
	YLow      float64
	YHigh     float64
}
