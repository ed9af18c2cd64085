package tangram

import (
	"math"
	"testing"
)

const epsilon = 1e-9

// almostEqual checks if two floats are equal within epsilon tolerance
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// pointsEqual checks if two points are equal within epsilon tolerance
func pointsEqual(p1, p2 Point) bool {
	return almostEqual(p1.X, p2.X) && almostEqual(p1.Y, p2.Y)
}

func TestTransformPoint(t *testing.T) {
	tests := []struct {
		name   string
		point  Point
		matrix AffineMatrix
		want   Point
	}{
		{
			name:   "identity transform",
			point:  Point{X: 1, Y: 2},
			matrix: Identity(),
			want:   Point{X: 1, Y: 2},
		},
		{
			name:   "translation only",
			point:  Point{X: 0.5, Y: 0.5},
			matrix: Translation(1, -1),
			want:   Point{X: 1.5, Y: -0.5},
		},
		{
			name:   "quarter turn",
			point:  Point{X: 1, Y: 0},
			matrix: Rotation(math.Pi / 2),
			want:   Point{X: 0, Y: 1},
		},
		{
			name:   "mirror about y axis",
			point:  Point{X: 1, Y: 2},
			matrix: MirrorX(),
			want:   Point{X: -1, Y: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformPoint(tt.point, tt.matrix)
			if !pointsEqual(got, tt.want) {
				t.Errorf("TransformPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMultiplyMatricesOrder(t *testing.T) {
	// result = m1 * m2 applies m2 first.
	m := MultiplyMatrices(Translation(1, 0), Rotation(math.Pi/2))
	got := TransformPoint(Point{X: 1, Y: 0}, m)
	want := Point{X: 1, Y: 1}
	if !pointsEqual(got, want) {
		t.Errorf("rotate-then-translate = %v, want %v", got, want)
	}
}

func TestCalculateRigidFitRecoversTransform(t *testing.T) {
	theta := 0.7
	translation := Point{X: 2.5, Y: -1.25}

	source := []Point{{0, 0}, {1, 0}, {0.3, 0.9}, {-0.5, 0.5}}
	truth := RigidFit{Theta: theta, T: translation}
	target := make([]Point, len(source))
	for i, p := range source {
		target[i] = truth.Apply(p)
	}

	fit := CalculateRigidFit(source, target)
	if !almostEqual(fit.Theta, theta) {
		t.Errorf("Theta = %v, want %v", fit.Theta, theta)
	}
	if !pointsEqual(fit.T, translation) {
		t.Errorf("T = %v, want %v", fit.T, translation)
	}

	for i, p := range source {
		if got := fit.Apply(p); !pointsEqual(got, target[i]) {
			t.Errorf("Apply(%v) = %v, want %v", p, got, target[i])
		}
	}
}

func TestCalculateRigidFitRotationSign(t *testing.T) {
	// Points on the x axis rotated onto the y axis: positive quarter turn.
	source := []Point{{1, 0}, {-1, 0}}
	target := []Point{{0, 1}, {0, -1}}

	fit := CalculateRigidFit(source, target)
	if !almostEqual(fit.Theta, math.Pi/2) {
		t.Errorf("Theta = %v, want %v", fit.Theta, math.Pi/2)
	}
}

func TestCalculateRigidFitDegenerate(t *testing.T) {
	if fit := CalculateRigidFit(nil, nil); fit.Theta != 0 || fit.T != (Point{}) {
		t.Errorf("empty fit = %+v, want identity", fit)
	}

	fit := CalculateRigidFit([]Point{{1, 1}}, []Point{{3, 0}})
	if fit.Theta != 0 {
		t.Errorf("single pair Theta = %v, want 0", fit.Theta)
	}
	if !pointsEqual(fit.T, Point{X: 2, Y: -1}) {
		t.Errorf("single pair T = %v, want {2 -1}", fit.T)
	}
}

func TestPoseMatrixFlipThenRotate(t *testing.T) {
	// Flip is applied in local space before rotation.
	pose := Pose{Position: Point{X: 1, Y: 0}, Rotation: math.Pi / 2, Flipped: true}
	m := PoseMatrix(pose)

	// Local (1, 0): mirror -> (-1, 0), rotate 90 -> (0, -1), translate -> (1, -1).
	got := TransformPoint(Point{X: 1, Y: 0}, m)
	want := Point{X: 1, Y: -1}
	if !pointsEqual(got, want) {
		t.Errorf("PoseMatrix point = %v, want %v", got, want)
	}
}
