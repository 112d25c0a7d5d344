package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var solverBucket = time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)

// candidateSetAt builds a CandidateSet with exact geometric distances from
// a known true position to each node.
func candidateSetAt(trueX, trueY float64, nodes []Node) CandidateSet {
	key := BucketKey{TagID: "t1", Bucket: solverBucket}
	cs := CandidateSet{Key: key}
	for _, n := range nodes {
		d := math.Hypot(trueX-n.X, trueY-n.Y)
		cs.Observations = append(cs.Observations, DistanceObservation{
			AggregatedSignal: AggregatedSignal{TagID: "t1", NodeID: n.ID, Bucket: solverBucket, Count: 1},
			Distance:         d,
			NodeX:            n.X,
			NodeY:            n.Y,
		})
	}
	return cs
}

func squareNodes() []Node {
	return []Node{
		{ID: "n1", X: 0, Y: 0},
		{ID: "n2", X: 100, Y: 0},
		{ID: "n3", X: 0, Y: 100},
		{ID: "n4", X: 100, Y: 100},
	}
}

func TestSolveBucket_RecoversKnownPosition(t *testing.T) {
	cs := candidateSetAt(50, 50, squareNodes())

	est, err := SolveBucket(cs, DefaultSolverConfig())
	require.NoError(t, err)

	assert.InDelta(t, 50.0, est.X, 1e-6)
	assert.InDelta(t, 50.0, est.Y, 1e-6)
	assert.Equal(t, 4, est.NodeCount)
	assert.Equal(t, "t1", est.TagID)
	assert.Equal(t, 14, est.Hour)

	// Zero noise: intervals collapse onto the estimate.
	assert.InDelta(t, est.X, est.XLow, 1e-6)
	assert.InDelta(t, est.X, est.XHigh, 1e-6)
	assert.InDelta(t, est.Y, est.YLow, 1e-6)
	assert.InDelta(t, est.Y, est.YHigh, 1e-6)
}

func TestSolveBucket_OffCenterPosition(t *testing.T) {
	cs := candidateSetAt(72.5, 31.25, squareNodes())

	est, err := SolveBucket(cs, DefaultSolverConfig())
	require.NoError(t, err)
	assert.InDelta(t, 72.5, est.X, 1e-6)
	assert.InDelta(t, 31.25, est.Y, 1e-6)
}

func TestSolveBucket_IntervalShrinksWithRedundantNodes(t *testing.T) {
	// Perturb one distance so residuals are nonzero, then compare interval
	// width between 4 and 8 anchors.
	noisy := func(nodes []Node) CandidateSet {
		cs := candidateSetAt(50, 50, nodes)
		cs.Observations[0].Distance *= 1.05
		return cs
	}

	few, err := SolveBucket(noisy(squareNodes()), DefaultSolverConfig())
	require.NoError(t, err)

	more := append(squareNodes(),
		Node{ID: "n5", X: 50, Y: 0},
		Node{ID: "n6", X: 0, Y: 50},
		Node{ID: "n7", X: 100, Y: 50},
		Node{ID: "n8", X: 50, Y: 100},
	)
	many, err := SolveBucket(noisy(more), DefaultSolverConfig())
	require.NoError(t, err)

	assert.Less(t, many.XHigh-many.XLow, few.XHigh-few.XLow,
		"adding redundant anchors should narrow the x interval")
	assert.Less(t, many.YHigh-many.YLow, few.YHigh-few.YLow,
		"adding redundant anchors should narrow the y interval")
}

func TestSolveBucket_CollinearNodesAreSingular(t *testing.T) {
	nodes := []Node{
		{ID: "n1", X: 0, Y: 0},
		{ID: "n2", X: 50, Y: 0},
		{ID: "n3", X: 100, Y: 0},
	}
	cs := candidateSetAt(50, 0, nodes)

	_, err := SolveBucket(cs, DefaultSolverConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSingularFit)
}

func TestSolveBucket_TooFewNodes(t *testing.T) {
	nodes := []Node{
		{ID: "n1", X: 0, Y: 0},
		{ID: "n2", X: 100, Y: 0},
	}
	cs := candidateSetAt(50, 20, nodes)

	_, err := SolveBucket(cs, DefaultSolverConfig())
	assert.ErrorIs(t, err, ErrInsufficientCandidates)
}

func TestSolveBucket_IterationCapReported(t *testing.T) {
	cfg := DefaultSolverConfig()
	cfg.MaxIterations = 1
	cfg.Tolerance = 1e-12

	// The true position sits far from the centroid start, so the first
	// Gauss-Newton step is large and one iteration cannot reach tolerance.
	cs := candidateSetAt(10, 10, squareNodes())

	_, err := SolveBucket(cs, cfg)
	assert.ErrorIs(t, err, ErrNoConvergence)
}

func TestSolveBucket_Deterministic(t *testing.T) {
	cs := candidateSetAt(62.3, 41.7, squareNodes())
	cs.Observations[1].Distance += 3 // off-model noise

	first, err := SolveBucket(cs, DefaultSolverConfig())
	require.NoError(t, err)
	second, err := SolveBucket(cs, DefaultSolverConfig())
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical inputs must produce bit-identical estimates")
}
