package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// EngineConfig carries every caller-supplied constant the pipeline needs.
// The engine validates but never re-derives them; calibration of the decay
// model happens elsewhere.
type EngineConfig struct {
	// WindowMinutes is the half-width of the RSSI smoothing window. Zero
	// disables smoothing.
	WindowMinutes int

	// BucketWidth is the localization interval; one estimate is produced
	// per tag per bucket.
	BucketWidth time.Duration

	// Model holds the calibrated decay coefficients (a, S, K).
	Model DecayModel

	// DistCapMeters drops nodes whose distance estimate exceeds the
	// bucket's strongest-signal node by more than this.
	DistCapMeters float64

	// RSSFloorDB drops signals weaker than this floor.
	RSSFloorDB float64

	// SolverWorkers bounds the solver fan-out. Zero means GOMAXPROCS.
	SolverWorkers int

	Solver SolverConfig
}

// DefaultEngineConfig returns the coefficients used by the reference
// deployment; the decay model must still be supplied per site.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WindowMinutes: 2,
		BucketWidth:   time.Minute,
		DistCapMeters: 150,
		RSSFloorDB:    -95,
		Solver:        DefaultSolverConfig(),
	}
}

// Validate rejects configurations for which no meaningful output exists.
func (c EngineConfig) Validate() error {
	if c.WindowMinutes < 0 {
		return fmt.Errorf("window minutes must be >= 0, got %d", c.WindowMinutes)
	}
	if c.BucketWidth <= 0 {
		return fmt.Errorf("bucket width must be positive, got %v", c.BucketWidth)
	}
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if c.DistCapMeters <= 0 {
		return fmt.Errorf("distance cap must be positive, got %v", c.DistCapMeters)
	}
	if c.SolverWorkers < 0 {
		return fmt.Errorf("solver workers must be >= 0, got %d", c.SolverWorkers)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver iteration cap must be positive, got %d", c.Solver.MaxIterations)
	}
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("solver tolerance must be positive, got %v", c.Solver.Tolerance)
	}
	if c.Solver.ConfidenceLevel <= 0 || c.Solver.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence level must be in (0, 1), got %v", c.Solver.ConfidenceLevel)
	}
	return nil
}

// PipelineStats accounts for every bucket so no skip is silent.
type PipelineStats struct {
	Detections          int
	Buckets             int // distinct (tag, bucket) pairs seen after aggregation
	Solved              int
	SkippedInsufficient int // fewer than 3 usable nodes
	SkippedSingular     int // degenerate geometry
	SkippedDiverged     int // iteration cap exhausted
}

// Pipeline runs the five localization stages over a batch of detections.
type Pipeline struct {
	cfg EngineConfig
}

// NewPipeline validates the configuration once so Run never has to.
func NewPipeline(cfg EngineConfig) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run smooths, aggregates, converts, filters and solves the batch. Buckets
// are solved concurrently; per-bucket failures are counted, never fatal. The
// returned estimates are sorted by (tag, bucket) so identical inputs always
// yield identical output sequences.
func (p *Pipeline) Run(ctx context.Context, dets []Detection, nodes map[string]Node) ([]LocationEstimate, PipelineStats, error) {
	stats := PipelineStats{Detections: len(dets)}

	smoothed := Smooth(dets, p.cfg.WindowMinutes)
	signals := Aggregate(smoothed, p.cfg.BucketWidth)
	stats.Buckets = countBuckets(signals)

	obs, err := EstimateDistances(signals, nodes, p.cfg.Model)
	if err != nil {
		return nil, stats, err
	}

	candidates := FilterCandidates(obs, p.cfg.DistCapMeters, p.cfg.RSSFloorDB)
	stats.SkippedInsufficient = stats.Buckets - len(candidates)

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	estimates := p.solveAll(ctx, candidates, &stats)

	sort.Slice(estimates, func(i, j int) bool {
		if estimates[i].TagID != estimates[j].TagID {
			return estimates[i].TagID < estimates[j].TagID
		}
		return estimates[i].Bucket.Before(estimates[j].Bucket)
	})
	return estimates, stats, ctx.Err()
}

// solveAll fans candidate sets out over a bounded worker pool. Each bucket
// is independent, so workers share nothing but the output slice and stats,
// both guarded by one mutex.
func (p *Pipeline) solveAll(ctx context.Context, candidates map[BucketKey]CandidateSet, stats *PipelineStats) []LocationEstimate {
	workers := p.cfg.SolverWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	work := make(chan CandidateSet)
	estimates := make([]LocationEstimate, 0, len(candidates))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cs := range work {
				est, err := SolveBucket(cs, p.cfg.Solver)

				mu.Lock()
				switch err {
				case nil:
					estimates = append(estimates, est)
					stats.Solved++
				case ErrInsufficientCandidates:
					stats.SkippedInsufficient++
				case ErrSingularFit:
					stats.SkippedSingular++
				default:
					stats.SkippedDiverged++
				}
				mu.Unlock()
			}
		}()
	}

	for _, cs := range candidates {
		if ctx.Err() != nil {
			break
		}
		work <- cs
	}
	close(work)
	wg.Wait()

	return estimates
}

func countBuckets(signals []AggregatedSignal) int {
	seen := make(map[BucketKey]struct{})
	for _, s := range signals {
		seen[BucketKey{TagID: s.TagID, Bucket: s.Bucket}] = struct{}{}
	}
	return len(seen)
}
