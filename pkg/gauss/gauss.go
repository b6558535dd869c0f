// Package gauss computes the correspondence probabilities between two point
// sets: the E-step of Coherent Point Drift, also known as the Gauss
// transform.
//
// This is the direct O(N*M*D) method. Each fixed point is compared against
// every moving point through a Gaussian kernel of bandwidth sigma2, with a
// uniform outlier component absorbing unexplained mass. The per-fixed-row
// contributions to the result are independent partial sums, so the outer loop
// is spread across a worker pool and reduced afterwards; the reduction order
// can change the last bits of the floating-point results between runs, which
// is accepted.
package gauss

import (
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"pointdrift/pkg/registration"
)

// Transformer computes Gauss transforms against one fixed point set.
type Transformer struct {
	fixed         *mat.Dense
	outlierWeight float64
	workers       int
}

// NewTransformer creates a transformer for the given fixed points.
//
// The outlier weight is the prior probability mass reserved for points with
// no correspondence; it must lie in [0, 1]. workers sets how many goroutines
// share the per-fixed-row loop; zero or less means one per CPU.
func NewTransformer(fixed *mat.Dense, outlierWeight float64, workers int) (*Transformer, error) {
	if outlierWeight < 0 || outlierWeight > 1 {
		return nil, registration.NewConfigError("outlier weight %v is outside [0, 1]", outlierWeight)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Transformer{
		fixed:         fixed,
		outlierWeight: outlierWeight,
		workers:       workers,
	}, nil
}

// partial is one worker's contribution to the transform.
type partial struct {
	p1         []float64
	px         []float64
	errorSum   float64
	degenerate bool
}

// Probabilities computes the correspondence probabilities between the fixed
// points and the given moving points for the bandwidth sigma2.
//
// It returns a DegeneracyError if sigma2 is not positive or if any kernel sum
// fails to stay finite and positive (for example when every pairwise distance
// has overflowed the kernel to zero with a zero outlier term).
func (t *Transformer) Probabilities(moving *mat.Dense, sigma2 float64) (*registration.Probabilities, error) {
	if sigma2 <= 0 {
		return nil, &registration.DegeneracyError{
			Op:     "gauss transform",
			Reason: "sigma2 must be positive",
		}
	}

	n, d := t.fixed.Dims()
	m, _ := moving.Dims()
	outlierTerm := t.outlierWeight * float64(m) *
		math.Pow(2*math.Pi*sigma2, float64(d)/2) /
		((1 - t.outlierWeight) * float64(n))

	pt1 := make([]float64, n)
	workers := t.workers
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	partials := make([]partial, workers)
	rowsPerWorker := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			start := w * rowsPerWorker
			end := start + rowsPerWorker
			if end > n {
				end = n
			}
			part := partial{
				p1: make([]float64, m),
				px: make([]float64, m*d),
			}
			kernel := make([]float64, m)
			for i := start; i < end; i++ {
				sp := outlierTerm
				for j := 0; j < m; j++ {
					var dist2 float64
					for k := 0; k < d; k++ {
						diff := t.fixed.At(i, k) - moving.At(j, k)
						dist2 += diff * diff
					}
					kernel[j] = math.Exp(-dist2 / (2 * sigma2))
					sp += kernel[j]
				}
				if sp <= 0 || math.IsInf(sp, 0) || math.IsNaN(sp) {
					part.degenerate = true
					partials[w] = part
					return
				}
				pt1[i] = 1 - outlierTerm/sp
				for j := 0; j < m; j++ {
					weight := kernel[j] / sp
					part.p1[j] += weight
					for k := 0; k < d; k++ {
						part.px[j*d+k] += t.fixed.At(i, k) * weight
					}
				}
				part.errorSum -= math.Log(sp)
			}
			partials[w] = part
		}(w)
	}
	wg.Wait()

	p1 := make([]float64, m)
	px := make([]float64, m*d)
	errorSum := float64(d) * float64(n) * math.Log(sigma2) / 2
	for _, part := range partials {
		if part.degenerate {
			return nil, &registration.DegeneracyError{
				Op:     "gauss transform",
				Reason: "non-finite kernel sum",
			}
		}
		floats.Add(p1, part.p1)
		floats.Add(px, part.px)
		errorSum += part.errorSum
	}
	if math.IsInf(errorSum, 0) || math.IsNaN(errorSum) {
		return nil, &registration.DegeneracyError{
			Op:     "gauss transform",
			Reason: "non-finite error sum",
		}
	}

	return &registration.Probabilities{
		P1:    mat.NewVecDense(m, p1),
		PT1:   mat.NewVecDense(n, pt1),
		PX:    mat.NewDense(m, d, px),
		Error: errorSum,
	}, nil
}
