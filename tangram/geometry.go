package tangram

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PoseMatrix builds the local-to-board transform for a pose: mirror (if
// flipped), then rotation, then translation to the pose position.
func PoseMatrix(pose Pose) AffineMatrix {
	m := Rotation(pose.Rotation)
	if pose.Flipped {
		m = MultiplyMatrices(m, MirrorX())
	}
	m.Tx = pose.Position.X
	m.Ty = pose.Position.Y
	return m
}

// PiecePolygon returns the board-space polygon of a shape at the given pose.
// Returns nil for an unknown shape.
func PiecePolygon(shape PieceShape, pose Pose) orb.Polygon {
	verts := ShapeVertices(shape)
	if verts == nil {
		return nil
	}
	m := PoseMatrix(pose)
	ring := make(orb.Ring, 0, len(verts)+1)
	for _, v := range verts {
		p := TransformPoint(v, m)
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	// Close the ring.
	ring = append(ring, ring[0])
	// Mirroring reverses winding; orb containment expects a consistently
	// wound outer ring.
	if ring.Orientation() == orb.CW {
		ring.Reverse()
	}
	return orb.Polygon{ring}
}

// PolygonDistance returns the minimum distance between the boundaries of two
// polygons, or 0 when they overlap or touch. Brute force over segment pairs;
// tan polygons have at most four edges, so this stays tiny.
func PolygonDistance(a, b orb.Polygon) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.MaxFloat64
	}

	// Overlap: any vertex of one inside the other means distance zero.
	for _, p := range a[0] {
		if planar.PolygonContains(b, p) {
			return 0
		}
	}
	for _, p := range b[0] {
		if planar.PolygonContains(a, p) {
			return 0
		}
	}

	minDist := math.MaxFloat64
	ra, rb := a[0], b[0]
	for i := 0; i < len(ra)-1; i++ {
		for j := 0; j < len(rb)-1; j++ {
			d := segmentDistance(ra[i], ra[i+1], rb[j], rb[j+1])
			if d < minDist {
				minDist = d
			}
		}
	}
	return minDist
}

// segmentDistance returns the minimum distance between segments p1-p2 and
// q1-q2. Crossing segments yield zero via the endpoint projections being
// preceded by an explicit intersection test.
func segmentDistance(p1, p2, q1, q2 orb.Point) float64 {
	if segmentsIntersect(p1, p2, q1, q2) {
		return 0
	}
	d := pointSegmentDistance(p1, q1, q2)
	if v := pointSegmentDistance(p2, q1, q2); v < d {
		d = v
	}
	if v := pointSegmentDistance(q1, p1, p2); v < d {
		d = v
	}
	if v := pointSegmentDistance(q2, p1, p2); v < d {
		d = v
	}
	return d
}

// pointSegmentDistance returns the distance from point p to segment a-b.
func pointSegmentDistance(p, a, b orb.Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return planar.Distance(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lengthSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	proj := orb.Point{a[0] + t*dx, a[1] + t*dy}
	return planar.Distance(p, proj)
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross2(q1, q2, p1)
	d2 := cross2(q1, q2, p2)
	d3 := cross2(p1, p2, q1)
	d4 := cross2(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// Collinear touching cases.
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

// cross2 returns the cross product of vectors OA and OB where O is origin
func cross2(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// PieceDistance returns the boundary distance between two posed pieces.
func PieceDistance(shapeA PieceShape, poseA Pose, shapeB PieceShape, poseB Pose) float64 {
	return PolygonDistance(PiecePolygon(shapeA, poseA), PiecePolygon(shapeB, poseB))
}

// PolygonPenetration returns the smallest translation that would separate the
// interiors of two convex polygons, or 0 when they are disjoint or merely
// touching. Separating-axis test over the edge normals of both rings.
func PolygonPenetration(a, b orb.Polygon) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ra, rb := a[0], b[0]
	depth := math.MaxFloat64
	for _, ring := range []orb.Ring{ra, rb} {
		for i := 0; i < len(ring)-1; i++ {
			nx := ring[i+1][1] - ring[i][1]
			ny := ring[i][0] - ring[i+1][0]
			length := math.Hypot(nx, ny)
			if length == 0 {
				continue
			}
			nx, ny = nx/length, ny/length
			minA, maxA := projectRing(ra, nx, ny)
			minB, maxB := projectRing(rb, nx, ny)
			overlap := math.Min(maxA, maxB) - math.Max(minA, minB)
			if overlap <= 0 {
				return 0
			}
			if overlap < depth {
				depth = overlap
			}
		}
	}
	return depth
}

// projectRing projects a ring's vertices onto a unit axis.
func projectRing(r orb.Ring, nx, ny float64) (min, max float64) {
	min, max = math.MaxFloat64, -math.MaxFloat64
	for i := 0; i < len(r)-1; i++ {
		d := r[i][0]*nx + r[i][1]*ny
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// PiecePenetration returns the interpenetration depth of two posed pieces.
// Tan polygons are all convex.
func PiecePenetration(shapeA PieceShape, poseA Pose, shapeB PieceShape, poseB Pose) float64 {
	return PolygonPenetration(PiecePolygon(shapeA, poseA), PiecePolygon(shapeB, poseB))
}

// PieceBoundRadius returns the radius of the piece polygon around the pose
// position (the farthest vertex from the centroid).
func PieceBoundRadius(shape PieceShape) float64 {
	var r float64
	for _, v := range ShapeVertices(shape) {
		d := math.Hypot(v.X, v.Y)
		if d > r {
			r = d
		}
	}
	return r
}

// SanitizePose clamps a raw observation into a usable pose. The bool result
// is false when the position is NaN or infinite, in which case the
// observation must be dropped. Rotation is wrapped to [0, 2*pi).
func SanitizePose(pose Pose) (Pose, bool) {
	if math.IsNaN(pose.Position.X) || math.IsNaN(pose.Position.Y) ||
		math.IsInf(pose.Position.X, 0) || math.IsInf(pose.Position.Y, 0) {
		return Pose{}, false
	}
	if math.IsNaN(pose.Rotation) || math.IsInf(pose.Rotation, 0) {
		pose.Rotation = 0
	}
	pose.Rotation = NormalizeAngle(pose.Rotation)
	return pose, true
}
