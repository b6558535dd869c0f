// Package rigid implements the rigid registration method of Coherent Point
// Drift: a rotation, a translation, and optionally a uniform scale, updated
// each iteration by a weighted Procrustes solve over the correspondence
// probabilities.
//
// The Procrustes solve decomposes the weighted cross-covariance of the two
// point sets with an SVD. By default the method forces the result to be a
// proper rotation (determinant +1); reflections must be allowed explicitly:
//
//	result, err := rigid.Rigid{AllowReflections: true}.Register(r, fixed, moving)
package rigid

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"pointdrift/pkg/normalize"
	"pointdrift/pkg/registration"
	"pointdrift/pkg/runner"
)

// Rigid configures the rigid registration method.
type Rigid struct {
	// AllowReflections permits the solved rotation matrix to be a
	// reflection. Off by default: a reflection is almost never the
	// intended alignment of two real point clouds.
	AllowReflections bool

	// Scale enables solving for a uniform scale along with the rotation
	// and translation.
	Scale bool
}

// Transform is the result of a rigid registration.
type Transform struct {
	// Rotation is the D-by-D rotation matrix. Proper (determinant +1)
	// unless reflections were allowed.
	Rotation *mat.Dense

	// Scale is the uniform scale factor. Nil when scaling was disabled
	// and normalization did not require one.
	Scale *float64

	// Translation is the D-vector added after rotation and scaling.
	Translation *mat.VecDense
}

// Result is the outcome of a complete rigid registration run.
type Result struct {
	// Converged is true when the run stopped on a threshold rather than
	// by exhausting its iterations.
	Converged bool

	// Iterations is the number of iterations that ran.
	Iterations int

	// Moved is the moving matrix under the final transform.
	Moved *mat.Dense

	// Transform aligns the moving points to the fixed points.
	Transform Transform
}

// Registration holds the transform state of an in-progress rigid
// registration. It implements registration.Registration.
type Registration struct {
	rigid       Rigid
	scaled      bool
	rotation    *mat.Dense
	scale       float64
	translation *mat.VecDense
}

// NewRegistration creates the registration state for a run over
// dims-dimensional points, initialized to the identity transform.
//
// It returns a ConfigError when the normalization strategy is Independent but
// scaling is disabled: independent normalization changes the relative scale
// of the two point sets, which only a scale-enabled update can correct.
func (r Rigid) NewRegistration(dims int, strategy normalize.Strategy) (*Registration, error) {
	if strategy.RequiresScaling() && !r.Scale {
		return nil, registration.NewConfigError(
			"cannot normalize with strategy %s without rigid scaling", strategy)
	}
	rotation := mat.NewDense(dims, dims, nil)
	for i := 0; i < dims; i++ {
		rotation.Set(i, i, 1)
	}
	return &Registration{
		rigid:       r,
		scaled:      r.Scale,
		rotation:    rotation,
		scale:       1,
		translation: mat.NewVecDense(dims, nil),
	}, nil
}

// Register aligns the moving points to the fixed points with this method,
// driven by the given runner.
func (r Rigid) Register(run *runner.Runner, fixed, moving *mat.Dense) (*Result, error) {
	_, dims := fixed.Dims()
	reg, err := r.NewRegistration(dims, run.Normalize)
	if err != nil {
		return nil, err
	}
	summary, err := run.Run(fixed, moving, reg)
	if err != nil {
		return nil, err
	}
	return &Result{
		Converged:  summary.Converged,
		Iterations: summary.Iterations,
		Moved:      summary.Moved,
		Transform:  reg.Transform(),
	}, nil
}

// Iterate performs one weighted Procrustes update from the probabilities of
// an E-step, replacing the rotation, scale, and translation, and returns the
// updated sigma2.
func (g *Registration) Iterate(fixed, moving *mat.Dense, probabilities *registration.Probabilities) (float64, error) {
	_, dims := fixed.Dims()

	np := floats.Sum(probabilities.PT1.RawVector().Data)
	if np <= 0 || math.IsNaN(np) || math.IsInf(np, 0) {
		return 0, &registration.DegeneracyError{
			Op:     "rigid update",
			Reason: "probability mass is not positive",
		}
	}

	// Weighted centroids of the two sets.
	muFixed := mat.NewVecDense(dims, nil)
	muFixed.MulVec(fixed.T(), probabilities.PT1)
	muFixed.ScaleVec(1/np, muFixed)
	muMoving := mat.NewVecDense(dims, nil)
	muMoving.MulVec(moving.T(), probabilities.P1)
	muMoving.ScaleVec(1/np, muMoving)

	// Weighted cross-covariance, centered on the weighted centroids.
	var a mat.Dense
	a.Mul(probabilities.PX.T(), moving)
	outer := mat.NewDense(dims, dims, nil)
	outer.Outer(np, muFixed, muMoving)
	a.Sub(&a, outer)

	var svd mat.SVD
	if ok := svd.Factorize(&a, mat.SVDFull); !ok {
		return 0, &registration.DegeneracyError{
			Op:     "rigid update",
			Reason: "singular value decomposition of the cross-covariance failed",
		}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	// Correction matrix C. When reflections are disallowed its last
	// diagonal entry flips sign with det(U V^T), forcing det(R) = +1.
	c := mat.NewDense(dims, dims, nil)
	for i := 0; i < dims; i++ {
		c.Set(i, i, 1)
	}
	if !g.rigid.AllowReflections {
		var uv mat.Dense
		uv.Mul(&u, v.T())
		if mat.Det(&uv) < 0 {
			c.Set(dims-1, dims-1, -1)
		}
	}

	var uc mat.Dense
	uc.Mul(&u, c)
	rotation := mat.NewDense(dims, dims, nil)
	rotation.Mul(&uc, v.T())

	var trace float64
	for i := 0; i < dims; i++ {
		trace += values[i] * c.At(i, i)
	}

	fixedSpread := weightedSquaredNorms(fixed, probabilities.PT1) -
		np*mat.Dot(muFixed, muFixed)
	movingSpread := weightedSquaredNorms(moving, probabilities.P1) -
		np*mat.Dot(muMoving, muMoving)

	scale := 1.0
	var sigma2 float64
	if g.rigid.Scale {
		if math.Abs(movingSpread) < 1e-300 {
			return 0, &registration.DegeneracyError{
				Op:     "rigid update",
				Reason: "vanishing denominator while solving for scale",
			}
		}
		scale = trace / movingSpread
		sigma2 = math.Abs(fixedSpread-scale*trace) / (np * float64(dims))
	} else {
		sigma2 = math.Abs(fixedSpread+movingSpread-2*trace) / (np * float64(dims))
	}
	if math.IsNaN(sigma2) || math.IsInf(sigma2, 0) {
		return 0, &registration.DegeneracyError{
			Op:     "rigid update",
			Reason: "non-finite sigma2",
		}
	}

	translation := mat.NewVecDense(dims, nil)
	translation.MulVec(rotation, muMoving)
	translation.AddScaledVec(muFixed, -scale, translation)

	g.rotation = rotation
	g.scale = scale
	g.translation = translation
	return sigma2, nil
}

// weightedSquaredNorms returns the weight-vector-weighted sum of squared row
// norms of a point matrix.
func weightedSquaredNorms(points *mat.Dense, weights *mat.VecDense) float64 {
	rows, cols := points.Dims()
	var sum float64
	for i := 0; i < rows; i++ {
		var norm2 float64
		for d := 0; d < cols; d++ {
			v := points.At(i, d)
			norm2 += v * v
		}
		sum += weights.AtVec(i) * norm2
	}
	return sum
}

// Apply transforms a point matrix with the current rotation, scale, and
// translation, returning a new matrix.
func (g *Registration) Apply(points *mat.Dense) *mat.Dense {
	rows, cols := points.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(points, g.rotation.T())
	out.Scale(g.scale, out)
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			out.Set(i, d, out.At(i, d)+g.translation.AtVec(d))
		}
	}
	return out
}

// Denormalize folds the normalization parameters into the transform so it
// maps original-scale moving points onto original-scale fixed points. The
// scale is corrected first; the translation formula uses the corrected scale.
func (g *Registration) Denormalize(normalization *normalize.Normalization) {
	g.scale *= normalization.Fixed.Scale / normalization.Moving.Scale

	dims := g.translation.Len()
	movingOffset := mat.NewVecDense(dims, normalization.Moving.Offset)
	rotated := mat.NewVecDense(dims, nil)
	rotated.MulVec(g.rotation, movingOffset)

	g.translation.ScaleVec(normalization.Fixed.Scale, g.translation)
	g.translation.AddVec(g.translation, mat.NewVecDense(dims, normalization.Fixed.Offset))
	g.translation.AddScaledVec(g.translation, -g.scale, rotated)
}

// Transform returns a copy of the current transform state. The scale is
// present only when scaling was enabled.
func (g *Registration) Transform() Transform {
	transform := Transform{
		Rotation:    mat.DenseCopyOf(g.rotation),
		Translation: mat.VecDenseCopyOf(g.translation),
	}
	if g.scaled {
		scale := g.scale
		transform.Scale = &scale
	}
	return transform
}

// Apply transforms a point matrix with this transform, returning a new
// matrix.
func (t Transform) Apply(points *mat.Dense) *mat.Dense {
	rows, cols := points.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(points, t.Rotation.T())
	if t.Scale != nil {
		out.Scale(*t.Scale, out)
	}
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			out.Set(i, d, out.At(i, d)+t.Translation.AtVec(d))
		}
	}
	return out
}
