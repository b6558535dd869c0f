// Package registration defines the data types and errors shared by every
// Coherent Point Drift registration method, together with the interface a
// method must satisfy to be driven by the runner's iteration loop.
//
// A registration method owns its transform state (for the rigid method a
// rotation, an optional uniform scale, and a translation) and exposes three
// operations: Iterate consumes the correspondence probabilities of one E-step
// and performs one M-step, Apply moves a point matrix with the current
// transform state, and Denormalize maps the transform back to the original
// coordinate frame after a normalized run. New variants (affine, non-rigid)
// plug into the same loop by implementing this interface.
package registration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"pointdrift/pkg/normalize"
)

// Probabilities holds the soft correspondences between a fixed and a moving
// point set for one iteration, as produced by the Gauss transform.
type Probabilities struct {
	// P1 has one entry per moving point: the total responsibility mass
	// assigned to that point. Entries are non-negative.
	P1 *mat.VecDense

	// PT1 has one entry per fixed point: one minus the outlier share of
	// that point. Entries lie in [0, 1].
	PT1 *mat.VecDense

	// PX has one row per moving point: the responsibility-weighted
	// accumulation of fixed coordinates corresponding to that point.
	PX *mat.Dense

	// Error is the negative log-likelihood surrogate for the iteration.
	// Its relative change between iterations drives convergence.
	Error float64
}

// Registration is implemented by registration methods that can be run by a
// runner.Runner.
type Registration interface {
	// Iterate performs one M-step from the given probabilities and
	// returns the updated sigma2 bandwidth.
	Iterate(fixed, moving *mat.Dense, probabilities *Probabilities) (float64, error)

	// Apply transforms a point matrix with the current transform state,
	// returning a new matrix.
	Apply(points *mat.Dense) *mat.Dense

	// Denormalize folds normalization parameters into the transform state
	// so that it maps original-scale moving points onto original-scale
	// fixed points. Called at most once, after the iteration loop.
	Denormalize(normalization *normalize.Normalization)
}

// ConfigError reports an invalid configuration, detected before any matrix
// work starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid registration configuration: " + e.Reason
}

// NewConfigError builds a ConfigError from a format string.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// DegeneracyError reports a numeric degeneracy during iteration: non-finite
// probability sums, an undecomposable cross-covariance matrix, or a vanishing
// scale denominator. A degeneracy aborts the run; it is never clamped or
// retried.
type DegeneracyError struct {
	Op     string
	Reason string
}

func (e *DegeneracyError) Error() string {
	return fmt.Sprintf("numeric degeneracy in %s: %s", e.Op, e.Reason)
}
