package tangram

import "math"

// Canonical tan dimensions in board units, where the assembled tangram
// square has side 2. Leg lengths follow the classic dissection: the large
// triangle's hypotenuse equals the full square side.
const (
	largeLeg  = math.Sqrt2       // large triangle legs
	mediumLeg = 1.0              // medium triangle legs
	smallLeg  = math.Sqrt2 / 2.0 // small triangle legs, also the square side
)

// shapeVertices holds the canonical local polygon for each shape, centered
// at the shape centroid so Pose.Position always refers to the centroid.
var shapeVertices = map[PieceShape][]Point{
	ShapeLargeTriangle:  centerAtCentroid(rightTriangle(largeLeg)),
	ShapeMediumTriangle: centerAtCentroid(rightTriangle(mediumLeg)),
	ShapeSmallTriangle:  centerAtCentroid(rightTriangle(smallLeg)),
	ShapeSquare: centerAtCentroid([]Point{
		{0, 0}, {smallLeg, 0}, {smallLeg, smallLeg}, {0, smallLeg},
	}),
	ShapeParallelogram: centerAtCentroid([]Point{
		{0, 0}, {1, 0}, {1.5, 0.5}, {0.5, 0.5},
	}),
}

// shapeSymmetry is the rotational symmetry period per shape, in radians.
// Two orientations differing by a multiple of the period are visually
// indistinguishable to the detector: the square every quarter turn, the
// right triangles every half turn (hypotenuse ambiguity), the parallelogram
// every half turn (C2 symmetry). The parallelogram additionally carries a
// flip parity handled separately.
var shapeSymmetry = map[PieceShape]float64{
	ShapeLargeTriangle:  math.Pi,
	ShapeMediumTriangle: math.Pi,
	ShapeSmallTriangle:  math.Pi,
	ShapeSquare:         math.Pi / 2,
	ShapeParallelogram:  math.Pi,
}

// shapeImportance ranks shapes for anchor selection: big stable pieces make
// better mapping anchors than the small triangles.
var shapeImportance = map[PieceShape]int{
	ShapeLargeTriangle:  3,
	ShapeMediumTriangle: 2,
	ShapeSquare:         2,
	ShapeParallelogram:  2,
	ShapeSmallTriangle:  1,
}

func rightTriangle(leg float64) []Point {
	return []Point{{0, 0}, {leg, 0}, {0, leg}}
}

// centerAtCentroid translates a polygon so its centroid sits at the origin.
func centerAtCentroid(pts []Point) []Point {
	c := centroidOf(pts)
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X - c.X, Y: p.Y - c.Y}
	}
	return out
}

func centroidOf(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(pts))
	return Point{X: sx / n, Y: sy / n}
}

// ShapeVertices returns a copy of the canonical centroid-centered polygon
// for the given shape, or nil for an unknown shape.
func ShapeVertices(shape PieceShape) []Point {
	src, ok := shapeVertices[shape]
	if !ok {
		return nil
	}
	out := make([]Point, len(src))
	copy(out, src)
	return out
}

// SymmetryPeriod returns the rotational symmetry period for a shape in
// radians. Unknown shapes get a full turn (no symmetry credit).
func SymmetryPeriod(shape PieceShape) float64 {
	if p, ok := shapeSymmetry[shape]; ok {
		return p
	}
	return 2 * math.Pi
}

// ShapeImportance returns the anchor-selection rank for a shape; higher is
// a better anchor candidate.
func ShapeImportance(shape PieceShape) int {
	return shapeImportance[shape]
}

// FlipSensitive reports whether mirror state is distinguishable for the
// shape. Only the parallelogram lacks a mirror symmetry.
func FlipSensitive(shape PieceShape) bool {
	return shape == ShapeParallelogram
}

// FeatureAngle maps a raw rotation into feature-angle space: the rotation
// normalized modulo the shape's symmetry period. A flipped parallelogram is
// mirrored, which negates its apparent rotation before normalization.
func FeatureAngle(shape PieceShape, rotation float64, flipped bool) float64 {
	if flipped && FlipSensitive(shape) {
		rotation = -rotation
	}
	return normalizeMod(rotation, SymmetryPeriod(shape))
}

// FeatureAngleDiff returns the shortest-arc difference between two rotations
// in the shape's feature-angle space, in radians, always >= 0.
func FeatureAngleDiff(shape PieceShape, rotA float64, flipA bool, rotB float64, flipB bool) float64 {
	period := SymmetryPeriod(shape)
	a := FeatureAngle(shape, rotA, flipA)
	b := FeatureAngle(shape, rotB, flipB)
	d := math.Abs(a - b)
	if d > period/2 {
		d = period - d
	}
	return d
}

// normalizeMod wraps an angle into [0, period).
func normalizeMod(angle, period float64) float64 {
	if period <= 0 {
		return angle
	}
	angle = math.Mod(angle, period)
	if angle < 0 {
		angle += period
	}
	return angle
}

// NormalizeAngle wraps an angle in radians to [0, 2*pi).
func NormalizeAngle(rad float64) float64 {
	return normalizeMod(rad, 2*math.Pi)
}
