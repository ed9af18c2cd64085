package tangram

import (
	"math"
	"testing"
	"time"
)

func placedPiece(id string, shape PieceShape, x, y float64) *PieceInstance {
	return &PieceInstance{
		ID:    id,
		Shape: shape,
		State: StatePlaced,
		Pose:  Pose{Position: Point{X: x, Y: y}},
	}
}

func TestUpdateGroupsClustering(t *testing.T) {
	gm := NewGroupManager()
	now := time.Now()

	// Two squares flush against each other, a third far away.
	pieces := []*PieceInstance{
		placedPiece("sq-1", ShapeSquare, 0, 0),
		placedPiece("sq-2", ShapeSquare, smallLeg, 0),
		placedPiece("sq-3", ShapeSquare, 5, 5),
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, now)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	first := gm.GroupFor("sq-1")
	if first == nil || len(first.Pieces) != 2 {
		t.Fatalf("sq-1 group = %+v, want 2 members", first)
	}
	if gm.GroupFor("sq-2") != first {
		t.Error("touching pieces should share a group")
	}
	lone := gm.GroupFor("sq-3")
	if lone == nil || len(lone.Pieces) != 1 {
		t.Errorf("sq-3 group = %+v, want singleton", lone)
	}
}

func TestUpdateGroupsTransitiveConnection(t *testing.T) {
	gm := NewGroupManager()

	// A chain: 1 touches 2, 2 touches 3, 1 and 3 never touch directly.
	pieces := []*PieceInstance{
		placedPiece("sq-1", ShapeSquare, 0, 0),
		placedPiece("sq-2", ShapeSquare, smallLeg, 0),
		placedPiece("sq-3", ShapeSquare, 2*smallLeg, 0),
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, time.Now())
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1 (single linkage chain)", len(groups))
	}
	if len(groups[0].Pieces) != 3 {
		t.Errorf("chain group has %d members, want 3", len(groups[0].Pieces))
	}
}

func TestUpdateGroupsExcludesUnplacedPieces(t *testing.T) {
	gm := NewGroupManager()

	moving := placedPiece("sq-2", ShapeSquare, smallLeg, 0)
	moving.State = StateMoved
	pieces := []*PieceInstance{
		placedPiece("sq-1", ShapeSquare, 0, 0),
		moving,
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, time.Now())
	if len(groups) != 1 || len(groups[0].Pieces) != 1 {
		t.Errorf("moving piece should not join a group: %+v", groups)
	}
	if gm.GroupFor("sq-2") != nil {
		t.Error("GroupFor should not place a moving piece")
	}
}

func TestUpdateGroupsValidatedPiecesParticipate(t *testing.T) {
	gm := NewGroupManager()

	validated := placedPiece("sq-1", ShapeSquare, 0, 0)
	validated.State = StateValidated
	pieces := []*PieceInstance{
		validated,
		placedPiece("sq-2", ShapeSquare, smallLeg, 0),
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, time.Now())
	if len(groups) != 1 || len(groups[0].Pieces) != 2 {
		t.Errorf("validated piece should stay in its group: %+v", groups)
	}
}

func TestGroupConfidenceRamp(t *testing.T) {
	gm := NewGroupManager()
	start := time.Now()
	pieces := []*PieceInstance{
		placedPiece("sq-1", ShapeSquare, 0, 0),
		placedPiece("sq-2", ShapeSquare, smallLeg, 0),
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, start)
	if c := groups[0].Confidence; c != 0 {
		t.Errorf("fresh group confidence = %v, want 0", c)
	}

	// Half the ramp elapsed without movement.
	groups = gm.UpdateGroups(pieces, DefaultTolerances().Connection, start.Add(confidenceRamp/2))
	if c := groups[0].Confidence; !almostEqual(c, 0.5) {
		t.Errorf("half ramp confidence = %v, want 0.5", c)
	}

	// Fully stable group saturates at 1.
	groups = gm.UpdateGroups(pieces, DefaultTolerances().Connection, start.Add(2*confidenceRamp))
	if c := groups[0].Confidence; c != 1 {
		t.Errorf("stable confidence = %v, want 1", c)
	}

	// Moving one member (past jitter but still connected) resets the whole
	// group's confidence.
	pieces[1].Pose.Position.X += 0.05
	groups = gm.UpdateGroups(pieces, DefaultTolerances().Connection, start.Add(3*confidenceRamp))
	if c := groups[0].Confidence; c != 0 {
		t.Errorf("confidence after movement = %v, want 0", c)
	}
}

func TestGroupConfidenceIgnoresJitter(t *testing.T) {
	gm := NewGroupManager()
	start := time.Now()
	pieces := []*PieceInstance{placedPiece("sq-1", ShapeSquare, 0, 0)}

	gm.UpdateGroups(pieces, DefaultTolerances().Connection, start)
	pieces[0].Pose.Position.X += jitterThreshold / 2
	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, start.Add(confidenceRamp))
	if c := groups[0].Confidence; c != 1 {
		t.Errorf("jittered confidence = %v, want 1 (below threshold)", c)
	}
}

func TestGroupConfidenceRotationSeamJitter(t *testing.T) {
	gm := NewGroupManager()
	start := time.Now()
	p := placedPiece("sq-1", ShapeSquare, 0, 0)
	p.Pose.Rotation = 2*math.Pi - 0.001

	gm.UpdateGroups([]*PieceInstance{p}, DefaultTolerances().Connection, start)

	// Re-detection wobble across the 0/2pi seam: the raw difference is huge,
	// the actual rotation change is tiny.
	p.Pose.Rotation = 0.001
	groups := gm.UpdateGroups([]*PieceInstance{p}, DefaultTolerances().Connection, start.Add(confidenceRamp))
	if c := groups[0].Confidence; c != 1 {
		t.Errorf("seam-jittered confidence = %v, want 1 (below threshold)", c)
	}
}

func TestGroupGeometry(t *testing.T) {
	gm := NewGroupManager()
	pieces := []*PieceInstance{
		placedPiece("sq-1", ShapeSquare, 0, 0),
		placedPiece("sq-2", ShapeSquare, smallLeg, 0),
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, time.Now())
	g := groups[0]
	if !pointsEqual(g.Centroid, Point{X: smallLeg / 2, Y: 0}) {
		t.Errorf("centroid = %v, want midpoint", g.Centroid)
	}
	wantRadius := smallLeg/2 + PieceBoundRadius(ShapeSquare)
	if !almostEqual(g.Radius, wantRadius) {
		t.Errorf("radius = %v, want %v", g.Radius, wantRadius)
	}
}

func TestAttemptCounters(t *testing.T) {
	gm := NewGroupManager()
	if got := gm.RecordAttempt("p1"); got != 1 {
		t.Errorf("first attempt = %d, want 1", got)
	}
	if got := gm.RecordAttempt("p1"); got != 2 {
		t.Errorf("second attempt = %d, want 2", got)
	}
	if got := gm.Attempts("p2"); got != 0 {
		t.Errorf("unseen piece attempts = %d, want 0", got)
	}
	gm.ClearAttempts("p1")
	if got := gm.Attempts("p1"); got != 0 {
		t.Errorf("cleared attempts = %d, want 0", got)
	}
}

func TestGroupNumberingDeterministic(t *testing.T) {
	gm := NewGroupManager()
	pieces := []*PieceInstance{
		placedPiece("b", ShapeSquare, 5, 5),
		placedPiece("a", ShapeSquare, 0, 0),
	}

	groups := gm.UpdateGroups(pieces, DefaultTolerances().Connection, time.Now())
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	// Groups are numbered by their lowest member ID regardless of input order.
	if groups[0].Pieces[0] != "a" || groups[1].Pieces[0] != "b" {
		t.Errorf("group ordering not deterministic: %v / %v", groups[0].Pieces, groups[1].Pieces)
	}
}
