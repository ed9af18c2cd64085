package tangram

import "math"

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// MirrorX creates a mirror transform about the local Y axis (x negated).
// This is the flip applied to a mirrored parallelogram.
func MirrorX() AffineMatrix {
	return AffineMatrix{A: -1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// TransformPoint applies an affine transform to a point
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []Point) Point {
	return centroidOf(points)
}

// RigidFit holds the result of a Procrustes rigid fit: rotation angle plus
// translation such that target ~= R(Theta)*source + T.
type RigidFit struct {
	Theta float64
	T     Point
}

// CalculateRigidFit computes the best rigid transform (rotation + translation,
// no scale) mapping source points onto target points using Procrustes
// analysis. With a single pair the rotation is zero and only translation is
// fitted; with zero pairs the identity fit is returned.
func CalculateRigidFit(source, target []Point) RigidFit {
	n := len(source)
	if n == 0 || n != len(target) {
		return RigidFit{}
	}
	if n == 1 {
		return RigidFit{T: Point{X: target[0].X - source[0].X, Y: target[0].Y - source[0].Y}}
	}

	srcCentroid := Centroid(source)
	tgtCentroid := Centroid(target)

	// Cross-covariance of the centered point sets. For 2D the optimal
	// rotation falls straight out of atan2.
	var h11, h12, h21, h22 float64
	for i := range source {
		sx := source[i].X - srcCentroid.X
		sy := source[i].Y - srcCentroid.Y
		tx := target[i].X - tgtCentroid.X
		ty := target[i].Y - tgtCentroid.Y
		h11 += sx * tx
		h12 += sx * ty
		h21 += sy * tx
		h22 += sy * ty
	}

	theta := math.Atan2(h12-h21, h11+h22)
	cos := math.Cos(theta)
	sin := math.Sin(theta)

	return RigidFit{
		Theta: theta,
		T: Point{
			X: tgtCentroid.X - (cos*srcCentroid.X - sin*srcCentroid.Y),
			Y: tgtCentroid.Y - (sin*srcCentroid.X + cos*srcCentroid.Y),
		},
	}
}

// Apply maps a point through the rigid fit.
func (f RigidFit) Apply(p Point) Point {
	cos := math.Cos(f.Theta)
	sin := math.Sin(f.Theta)
	return Point{
		X: cos*p.X - sin*p.Y + f.T.X,
		Y: sin*p.X + cos*p.Y + f.T.Y,
	}
}

// Matrix returns the fit as an AffineMatrix.
func (f RigidFit) Matrix() AffineMatrix {
	cos := math.Cos(f.Theta)
	sin := math.Sin(f.Theta)
	return AffineMatrix{A: cos, B: -sin, Tx: f.T.X, C: sin, D: cos, Ty: f.T.Y}
}
