// Package runner drives Coherent Point Drift registrations: it validates the
// run configuration, normalizes the inputs, and loops E-step and M-step until
// a convergence criterion holds.
//
// The runner is method-agnostic. It works against the
// registration.Registration interface, so the rigid method of pkg/rigid and
// any future affine or non-rigid variant share the same loop.
package runner

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"pointdrift/pkg/gauss"
	"pointdrift/pkg/normalize"
	"pointdrift/pkg/registration"
)

// Defaults for a Runner.
const (
	DefaultMaxIterations        = 150
	DefaultErrorChangeThreshold = 1e-5
	DefaultOutlierWeight        = 0.1
)

// DefaultSigma2Threshold is the default lower bound on sigma2: ten times the
// float64 machine epsilon.
var DefaultSigma2Threshold = 10 * (math.Nextafter(1, 2) - 1)

// Runner is the configuration of a registration run. Construct one with New,
// adjust the exported fields, and pass it to Run; it is treated as immutable
// once a run starts.
type Runner struct {
	// MaxIterations bounds the number of iterations.
	MaxIterations int

	// ErrorChangeThreshold stops the run once the relative change of the
	// log-likelihood error between iterations drops below it.
	ErrorChangeThreshold float64

	// Sigma2Threshold stops the run once the bandwidth drops below it.
	Sigma2Threshold float64

	// OutlierWeight is the prior probability of a point being an outlier,
	// in [0, 1].
	OutlierWeight float64

	// Normalize selects the pre-registration normalization strategy.
	Normalize normalize.Strategy

	// InitialSigma2 overrides the starting bandwidth when positive. Zero
	// or negative means: compute it from the matrices with Sigma2.
	InitialSigma2 float64

	// Workers is the number of goroutines used by the Gauss transform.
	// Zero means one per CPU.
	Workers int

	// Progress, when non-nil, is called once per iteration with the
	// iteration number, the relative error change, and the bandwidth
	// going into that iteration.
	Progress func(iteration int, errorChange, sigma2 float64)
}

// Run summarizes a completed registration run. The final transform is held
// by the registration that was run, e.g. rigid.Registration.
type Run struct {
	// Converged is true when the run stopped on a threshold rather than
	// by exhausting MaxIterations. Exhaustion is a normal outcome, not an
	// error.
	Converged bool

	// Iterations is the number of iterations that ran.
	Iterations int

	// Moved is the moving matrix under the final, denormalized transform.
	Moved *mat.Dense
}

// New creates a runner with the default configuration.
func New() *Runner {
	return &Runner{
		MaxIterations:        DefaultMaxIterations,
		ErrorChangeThreshold: DefaultErrorChangeThreshold,
		Sigma2Threshold:      DefaultSigma2Threshold,
		OutlierWeight:        DefaultOutlierWeight,
		Normalize:            normalize.SameScale,
	}
}

// validate rejects impossible configurations before any matrix work.
func (r *Runner) validate(fixed, moving *mat.Dense) error {
	if r.MaxIterations <= 0 {
		return registration.NewConfigError("max iterations must be positive, got %d", r.MaxIterations)
	}
	if r.ErrorChangeThreshold <= 0 {
		return registration.NewConfigError("error change threshold must be positive, got %v", r.ErrorChangeThreshold)
	}
	if r.Sigma2Threshold <= 0 {
		return registration.NewConfigError("sigma2 threshold must be positive, got %v", r.Sigma2Threshold)
	}
	if r.OutlierWeight < 0 || r.OutlierWeight > 1 {
		return registration.NewConfigError("outlier weight %v is outside [0, 1]", r.OutlierWeight)
	}
	fixedRows, fixedCols := fixed.Dims()
	movingRows, movingCols := moving.Dims()
	if fixedCols != movingCols {
		return registration.NewConfigError(
			"fixed and moving dimensionality differ: %d vs %d", fixedCols, movingCols)
	}
	if fixedRows == 0 || movingRows == 0 {
		return registration.NewConfigError("point sets must not be empty")
	}
	return nil
}

// Run registers the moving points to the fixed points with the given
// registration method.
//
// The inputs are never modified. Errors are either a ConfigError, raised
// before any iteration, or a DegeneracyError from an E- or M-step, which
// aborts the run immediately.
func (r *Runner) Run(fixed, moving *mat.Dense, reg registration.Registration) (*Run, error) {
	if err := r.validate(fixed, moving); err != nil {
		return nil, err
	}

	workingFixed, workingMoving, normalization := r.Normalize.Normalize(fixed, moving)
	sigma2 := r.InitialSigma2
	if sigma2 <= 0 {
		sigma2 = Sigma2(workingFixed, workingMoving)
	}

	transformer, err := gauss.NewTransformer(workingFixed, r.OutlierWeight, r.Workers)
	if err != nil {
		return nil, err
	}

	var errorValue float64
	errorChange := math.MaxFloat64
	iterations := 0
	moved := mat.DenseCopyOf(workingMoving)
	for iterations < r.MaxIterations &&
		errorChange > r.ErrorChangeThreshold &&
		sigma2 > r.Sigma2Threshold {
		probabilities, err := transformer.Probabilities(moved, sigma2)
		if err != nil {
			return nil, err
		}
		errorChange = math.Abs((probabilities.Error - errorValue) / probabilities.Error)
		if r.Progress != nil {
			r.Progress(iterations, errorChange, sigma2)
		}
		errorValue = probabilities.Error
		sigma2, err = reg.Iterate(workingFixed, workingMoving, probabilities)
		if err != nil {
			return nil, err
		}
		moved = reg.Apply(workingMoving)
		iterations++
	}

	// The final moved points always come from the finalized transform
	// applied to the original-scale moving matrix, so the reported
	// transform and the reported points cannot disagree.
	if normalization != nil {
		reg.Denormalize(normalization)
	}
	moved = reg.Apply(moving)

	return &Run{
		Converged:  iterations < r.MaxIterations,
		Iterations: iterations,
		Moved:      moved,
	}, nil
}

// Sigma2 returns the default initial bandwidth for two point sets: the mean
// squared pairwise distance between their points, computed in closed form
// from column sums and squared norms.
func Sigma2(fixed, moving *mat.Dense) float64 {
	fixedRows, dims := fixed.Dims()
	movingRows, _ := moving.Dims()

	numerator := float64(fixedRows)*squaredSum(fixed) +
		float64(movingRows)*squaredSum(moving) -
		2*floats.Dot(columnSums(fixed), columnSums(moving))
	return numerator / float64(fixedRows*movingRows*dims)
}

// columnSums returns the per-column sums of a point matrix.
func columnSums(points *mat.Dense) []float64 {
	rows, cols := points.Dims()
	sums := make([]float64, cols)
	col := make([]float64, rows)
	for d := 0; d < cols; d++ {
		mat.Col(col, d, points)
		sums[d] = floats.Sum(col)
	}
	return sums
}

// squaredSum returns the sum of all squared elements, i.e. the trace of
// points^T * points.
func squaredSum(points *mat.Dense) float64 {
	rows, cols := points.Dims()
	var sum float64
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			v := points.At(i, d)
			sum += v * v
		}
	}
	return sum
}
