// Package normalize centers and scale-standardizes point sets before
// registration and maps the results back afterwards.
//
// Normalizing keeps the error sums of the registration small and, for large
// coordinate values (UTM easting/northing, for example), prevents them from
// swamping the Gaussian kernel entirely.
package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Strategy selects how the fixed and moving point sets are normalized before
// a registration run. The zero value is SameScale.
type Strategy int

const (
	// SameScale normalizes both sets with their own offsets but a shared
	// scale, the arithmetic mean of the two individual scales. Useful for
	// LiDAR-style data where coordinate magnitudes should shrink but the
	// relative scale of the two sets must be preserved.
	SameScale Strategy = iota

	// Independent normalizes both sets separately. Because this changes
	// the relative scale of the two sets, it requires a registration
	// method with scaling enabled to undo the distortion.
	Independent

	// None leaves the points untouched.
	None
)

// String returns the configuration-file spelling of the strategy.
func (s Strategy) String() string {
	switch s {
	case SameScale:
		return "same-scale"
	case Independent:
		return "independent"
	case None:
		return "none"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration-file spelling into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "same-scale", "sameScale", "":
		return SameScale, nil
	case "independent":
		return Independent, nil
	case "none":
		return None, nil
	default:
		return SameScale, fmt.Errorf("unknown normalization strategy %q", name)
	}
}

// RequiresScaling reports whether the strategy distorts the relative scale of
// the two point sets and therefore requires a scale-enabled registration.
func (s Strategy) RequiresScaling() bool {
	return s == Independent
}

// Parameters holds the offset and scale that normalize one point set.
type Parameters struct {
	// Offset is the centroid of the points, one entry per dimension.
	Offset []float64

	// Scale is the root mean square distance of the centered points from
	// the origin.
	Scale float64
}

// Normalization pairs the parameters of the fixed and moving sets so a
// transform computed in normalized space can be mapped back.
type Normalization struct {
	Fixed  Parameters
	Moving Parameters
}

// ComputeParameters derives normalization parameters from a point matrix.
func ComputeParameters(points *mat.Dense) Parameters {
	rows, cols := points.Dims()
	offset := make([]float64, cols)
	col := make([]float64, rows)
	for d := 0; d < cols; d++ {
		mat.Col(col, d, points)
		offset[d] = stat.Mean(col, nil)
	}
	var sum float64
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			v := points.At(i, d) - offset[d]
			sum += v * v
		}
	}
	scale := math.Sqrt(sum / float64(rows))
	if scale == 0 {
		// Zero-spread point set, e.g. a single repeated point. Unit
		// scale keeps normalization a pure centering.
		scale = 1
	}
	return Parameters{Offset: offset, Scale: scale}
}

// Normalize returns a new matrix with the offset subtracted from every row
// and every element divided by the scale. The input is not modified.
func (p Parameters) Normalize(points *mat.Dense) *mat.Dense {
	rows, cols := points.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			out.Set(i, d, (points.At(i, d)-p.Offset[d])/p.Scale)
		}
	}
	return out
}

// Denormalize is the exact inverse of Normalize: multiply by the scale, then
// add the offset back. The input is not modified.
func (p Parameters) Denormalize(points *mat.Dense) *mat.Dense {
	rows, cols := points.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			out.Set(i, d, points.At(i, d)*p.Scale+p.Offset[d])
		}
	}
	return out
}

// Normalize applies the strategy to a fixed and a moving point set. It
// returns the working copies to register and, for strategies other than None,
// the parameters needed to denormalize the results. None returns the inputs
// unchanged with a nil Normalization.
func (s Strategy) Normalize(fixed, moving *mat.Dense) (*mat.Dense, *mat.Dense, *Normalization) {
	if s == None {
		return fixed, moving, nil
	}
	normalization := &Normalization{
		Fixed:  ComputeParameters(fixed),
		Moving: ComputeParameters(moving),
	}
	if s == SameScale {
		shared := (normalization.Fixed.Scale + normalization.Moving.Scale) / 2
		normalization.Fixed.Scale = shared
		normalization.Moving.Scale = shared
	}
	return normalization.Fixed.Normalize(fixed),
		normalization.Moving.Normalize(moving),
		normalization
}
