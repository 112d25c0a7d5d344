package telemetry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Solver failure reasons. Callers distinguish buckets skipped for lack of
// data from buckets skipped for numerical failure when reporting a run.
var (
	// ErrInsufficientCandidates means fewer than three usable nodes were
	// available for the bucket.
	ErrInsufficientCandidates = errors.New("fewer than 3 usable nodes in bucket")

	// ErrSingularFit means the anchor geometry is degenerate (for example
	// collinear nodes), leaving the Jacobian rank-deficient.
	ErrSingularFit = errors.New("degenerate anchor geometry: singular fit")

	// ErrNoConvergence means the optimizer did not settle within the
	// iteration cap.
	ErrNoConvergence = errors.New("solver did not converge within iteration cap")
)

// SolverConfig bounds the Gauss-Newton iteration. With a fixed tolerance and
// cap the fit is deterministic: identical candidate sets always produce
// identical estimates regardless of scheduling.
type SolverConfig struct {
	// MaxIterations caps Gauss-Newton steps before declaring divergence.
	MaxIterations int

	// Tolerance is the step-norm (meters) below which the fit has converged.
	Tolerance float64

	// ConfidenceLevel for the coordinate-wise interval bounds, e.g. 0.95.
	ConfidenceLevel float64
}

// DefaultSolverConfig returns bounds that converge well for receiver grids
// spanning tens to hundreds of meters.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MaxIterations:   50,
		Tolerance:       1e-8,
		ConfidenceLevel: 0.95,
	}
}

// SolveBucket fits the tag position for one candidate set by nonlinear least
// squares, minimizing the sum of squared differences between each node's
// estimated distance and its geometric range to the fitted point.
//
// The iteration starts from the centroid of the candidate node positions,
// which always lies inside the anchors' convex hull. Each Gauss-Newton step
// solves the linearized system through a QR factorization of the range
// Jacobian; a rank-deficient Jacobian (collinear or duplicated anchors)
// aborts with ErrSingularFit rather than reporting a wrong position.
//
// Confidence bounds come from the asymptotic covariance of the fit,
// sigma^2 * (J'J)^-1 with n-2 residual degrees of freedom, scaled by the
// Student's t quantile for the configured level.
func SolveBucket(cs CandidateSet, cfg SolverConfig) (LocationEstimate, error) {
	obs := cs.Observations
	n := len(obs)
	if n < minSolvableNodes {
		return LocationEstimate{}, ErrInsufficientCandidates
	}

	// Centroid initial guess.
	var x, y float64
	for _, o := range obs {
		x += o.NodeX
		y += o.NodeY
	}
	x /= float64(n)
	y /= float64(n)

	jac := mat.NewDense(n, 2, nil)
	res := mat.NewVecDense(n, nil)
	var delta mat.VecDense

	converged := false
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		fillResiduals(obs, x, y, jac, res)

		var qr mat.QR
		qr.Factorize(jac)
		if err := qr.SolveVecTo(&delta, false, res); err != nil {
			return LocationEstimate{}, ErrSingularFit
		}

		dx, dy := delta.AtVec(0), delta.AtVec(1)
		if !isFinite(dx) || !isFinite(dy) {
			return LocationEstimate{}, ErrSingularFit
		}

		x += dx
		y += dy

		if math.Hypot(dx, dy) < cfg.Tolerance {
			converged = true
			break
		}
	}
	if !converged {
		return LocationEstimate{}, ErrNoConvergence
	}

	// Asymptotic covariance at the solution.
	fillResiduals(obs, x, y, jac, res)

	var ssr, jxx, jxy, jyy float64
	for i := 0; i < n; i++ {
		r := res.AtVec(i)
		ssr += r * r
		jx, jy := jac.At(i, 0), jac.At(i, 1)
		jxx += jx * jx
		jxy += jx * jy
		jyy += jy * jy
	}

	det := jxx*jyy - jxy*jxy
	if det <= 0 || !isFinite(det) {
		return LocationEstimate{}, ErrSingularFit
	}

	dof := float64(n - 2)
	sigma2 := ssr / dof
	seX := math.Sqrt(sigma2 * jyy / det)
	seY := math.Sqrt(sigma2 * jxx / det)
	if !isFinite(seX) || !isFinite(seY) {
		return LocationEstimate{}, ErrSingularFit
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}
	q := t.Quantile(0.5 + cfg.ConfidenceLevel/2)

	bucket := cs.Key.Bucket
	return LocationEstimate{
		TagID:     cs.Key.TagID,
		Bucket:    bucket,
		Hour:      bucket.UTC().Hour(),
		NodeCount: countDistinctNodes(obs),
		X:         x,
		Y:         y,
		XLow:      x - q*seX,
		XHigh:     x + q*seX,
		YLow:      y - q*seY,
		YHigh:     y + q*seY,
	}, nil
}

// fillResiduals evaluates the residual vector and range Jacobian at (x, y).
// Residual i is the observed distance minus the geometric range to node i;
// the Jacobian rows hold the partial derivatives of the range. A node
// coincident with the current estimate contributes a zero row, which the QR
// solve surfaces as a singularity if it leaves the system rank-deficient.
func fillResiduals(obs []DistanceObservation, x, y float64, jac *mat.Dense, res *mat.VecDense) {
	for i, o := range obs {
		dx := x - o.NodeX
		dy := y - o.NodeY
		rng := math.Hypot(dx, dy)
		res.SetVec(i, o.Distance-rng)
		if rng == 0 {
			jac.Set(i, 0, 0)
			jac.Set(i, 1, 0)
			continue
		}
		jac.Set(i, 0, dx/rng)
		jac.Set(i, 1, dy/rng)
	}
}
