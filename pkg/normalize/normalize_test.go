package normalize

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const tolerance = 1e-12

// almostEqual checks two values for equality within the test tolerance
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestComputeParameters(t *testing.T) {
	points := mat.NewDense(2, 2, []float64{
		1, 3,
		2, 4,
	})

	params := ComputeParameters(points)

	if !almostEqual(params.Offset[0], 1.5) || !almostEqual(params.Offset[1], 3.5) {
		t.Errorf("Expected offset (1.5, 3.5), got (%v, %v)", params.Offset[0], params.Offset[1])
	}
	if !almostEqual(params.Scale, math.Sqrt(0.5)) {
		t.Errorf("Expected scale sqrt(0.5), got %v", params.Scale)
	}
}

func TestComputeParametersZeroSpread(t *testing.T) {
	// A repeated single point has no spread; normalization must not
	// divide by zero.
	points := mat.NewDense(3, 2, []float64{
		2, 2,
		2, 2,
		2, 2,
	})

	params := ComputeParameters(points)
	if params.Scale != 1 {
		t.Errorf("Expected unit scale for zero-spread points, got %v", params.Scale)
	}
}

func TestRoundTrip(t *testing.T) {
	points := mat.NewDense(4, 3, []float64{
		1, 2, 3,
		-4, 5, 6,
		7, -8, 9,
		10, 11, -12,
	})

	params := ComputeParameters(points)
	normalized := params.Normalize(points)
	restored := params.Denormalize(normalized)

	if !mat.EqualApprox(points, restored, tolerance) {
		t.Errorf("Round trip changed the points:\ngot:\n%v\nwant:\n%v",
			mat.Formatted(restored), mat.Formatted(points))
	}

	// Normalized points are centered with unit RMS distance
	checked := ComputeParameters(normalized)
	for d, offset := range checked.Offset {
		if !almostEqual(offset, 0) {
			t.Errorf("Normalized column %d is not centered: %v", d, offset)
		}
	}
	if !almostEqual(checked.Scale, 1) {
		t.Errorf("Normalized scale is not 1: %v", checked.Scale)
	}
}

func TestStrategyNone(t *testing.T) {
	fixed := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	moving := mat.NewDense(2, 2, []float64{5, 6, 7, 8})

	gotFixed, gotMoving, normalization := None.Normalize(fixed, moving)

	if gotFixed != fixed || gotMoving != moving {
		t.Error("None must return the inputs unchanged")
	}
	if normalization != nil {
		t.Errorf("None must not produce parameters, got %+v", normalization)
	}
}

func TestStrategyIndependent(t *testing.T) {
	fixed := mat.NewDense(2, 2, []float64{1, 3, 2, 4})
	moving := mat.NewDense(2, 2, []float64{10, 30, 20, 40})

	gotFixed, gotMoving, normalization := Independent.Normalize(fixed, moving)
	if normalization == nil {
		t.Fatal("Independent must produce parameters")
	}

	// Each set gets its own scale
	if !almostEqual(normalization.Fixed.Scale, math.Sqrt(0.5)) {
		t.Errorf("Unexpected fixed scale %v", normalization.Fixed.Scale)
	}
	if !almostEqual(normalization.Moving.Scale, 10*math.Sqrt(0.5)) {
		t.Errorf("Unexpected moving scale %v", normalization.Moving.Scale)
	}

	// Inputs must not be mutated
	if fixed.At(0, 0) != 1 || moving.At(0, 0) != 10 {
		t.Error("Normalize mutated its inputs")
	}

	// Working copies denormalize back to the originals
	if !mat.EqualApprox(fixed, normalization.Fixed.Denormalize(gotFixed), tolerance) {
		t.Error("Fixed points did not round trip")
	}
	if !mat.EqualApprox(moving, normalization.Moving.Denormalize(gotMoving), tolerance) {
		t.Error("Moving points did not round trip")
	}
}

func TestStrategySameScale(t *testing.T) {
	fixed := mat.NewDense(2, 2, []float64{1, 3, 2, 4})
	moving := mat.NewDense(2, 2, []float64{10, 30, 20, 40})

	_, _, normalization := SameScale.Normalize(fixed, moving)
	if normalization == nil {
		t.Fatal("SameScale must produce parameters")
	}

	// Both sets share the mean of the two individual scales
	expected := (math.Sqrt(0.5) + 10*math.Sqrt(0.5)) / 2
	if !almostEqual(normalization.Fixed.Scale, expected) {
		t.Errorf("Expected shared scale %v, got %v", expected, normalization.Fixed.Scale)
	}
	if normalization.Fixed.Scale != normalization.Moving.Scale {
		t.Errorf("Scales differ: %v vs %v",
			normalization.Fixed.Scale, normalization.Moving.Scale)
	}

	// Offsets stay per-set
	if normalization.Fixed.Offset[0] == normalization.Moving.Offset[0] {
		t.Error("SameScale must keep per-set offsets")
	}
}

func TestRequiresScaling(t *testing.T) {
	if !Independent.RequiresScaling() {
		t.Error("Independent requires scaling")
	}
	if SameScale.RequiresScaling() || None.RequiresScaling() {
		t.Error("SameScale and None must not require scaling")
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		name     string
		expected Strategy
	}{
		{"same-scale", SameScale},
		{"independent", Independent},
		{"none", None},
		{"", SameScale},
	}
	for _, c := range cases {
		got, err := ParseStrategy(c.name)
		if err != nil {
			t.Errorf("ParseStrategy(%q) failed: %v", c.name, err)
		}
		if got != c.expected {
			t.Errorf("ParseStrategy(%q) = %v, want %v", c.name, got, c.expected)
		}
	}

	if _, err := ParseStrategy("sideways"); err == nil {
		t.Error("Expected an error for an unknown strategy")
	}
}
