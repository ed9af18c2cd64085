package tangram

import (
	"math"
	"testing"
	"time"
)

func TestObservePieceLifecycle(t *testing.T) {
	e, rec := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(singleSquarePuzzle()); err != nil {
		t.Fatal(err)
	}

	// First sighting: detected, nothing more.
	observePose(e, "sq", ShapeSquare, Pose{Position: Point{X: 1, Y: 1}})
	if st := e.PieceState("sq"); st != StateDetected {
		t.Fatalf("state after first sighting = %s, want detected", st)
	}

	// A real move passes through moved into placed.
	observePose(e, "sq", ShapeSquare, Pose{Position: Point{X: 0, Y: 0}})
	if st := e.PieceState("sq"); st != StatePlaced {
		t.Fatalf("state after move = %s, want placed", st)
	}
	if !rec.sawState("sq:moved") || !rec.sawState("sq:placed") {
		t.Error("expected moved and placed state events")
	}
}

func TestObservePieceJitterIgnored(t *testing.T) {
	e, rec := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(singleSquarePuzzle()); err != nil {
		t.Fatal(err)
	}

	observePose(e, "sq", ShapeSquare, Pose{Position: Point{X: 1, Y: 1}})
	// Re-detection wobble below the jitter threshold.
	observePose(e, "sq", ShapeSquare, Pose{Position: Point{X: 1 + jitterThreshold/2, Y: 1}})
	if st := e.PieceState("sq"); st != StateDetected {
		t.Errorf("state after jitter = %s, want detected", st)
	}
	if rec.sawState("sq:moved") {
		t.Error("jitter must not produce a moved event")
	}
}

func TestObservePieceDropsMalformed(t *testing.T) {
	e, _ := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(singleSquarePuzzle()); err != nil {
		t.Fatal(err)
	}

	e.ObservePiece(Observation{ID: "bad", Shape: PieceShape("blob"), X: 0, Y: 0})
	if st := e.PieceState("bad"); st != StateUnobserved {
		t.Errorf("unknown shape observation registered a piece: %s", st)
	}

	e.ObservePiece(Observation{ID: "nan", Shape: ShapeSquare, X: math.NaN(), Y: 0})
	if st := e.PieceState("nan"); st != StateUnobserved {
		t.Errorf("non-finite observation registered a piece: %s", st)
	}

	// A shape flip-flop on an existing piece is ignored, pose untouched.
	observePose(e, "sq", ShapeSquare, Pose{Position: Point{X: 1, Y: 1}})
	e.ObservePiece(Observation{ID: "sq", Shape: ShapeLargeTriangle, X: 2, Y: 2})
	pieces := e.Pieces()
	if len(pieces) != 1 || pieces[0].Shape != ShapeSquare || pieces[0].Pose.Position.X != 1 {
		t.Errorf("shape mismatch observation mutated the piece: %+v", pieces[0])
	}
}

func TestPlacementDebounceValidates(t *testing.T) {
	tol := DefaultTolerances()
	tol.PlacementDelay = 20 * time.Millisecond
	e, _ := newTestEngine(t, tol)
	if err := e.LoadPuzzle(singleSquarePuzzle()); err != nil {
		t.Fatal(err)
	}

	placeAt(e, "sq", ShapeSquare, singleSquarePuzzle()[0].Pose)
	if st := e.PieceState("sq"); st != StatePlaced {
		t.Fatalf("state before debounce = %s, want placed", st)
	}

	// The debounce timer drives validation without an explicit pass.
	deadline := time.Now().Add(time.Second)
	for e.PieceState("sq") != StateValidated {
		if time.Now().After(deadline) {
			t.Fatalf("piece never validated; state = %s", e.PieceState("sq"))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !e.Completed() {
		t.Error("single-slot puzzle should complete off the timer path")
	}
}

func TestPlacementDebounceSupersededByMove(t *testing.T) {
	tol := DefaultTolerances()
	tol.PlacementDelay = 60 * time.Millisecond
	e, _ := newTestEngine(t, tol)
	if err := e.LoadPuzzle(singleSquarePuzzle()); err != nil {
		t.Fatal(err)
	}

	// Land on the target, then drag away before the debounce elapses. The
	// first placement must never validate.
	placeAt(e, "sq", ShapeSquare, singleSquarePuzzle()[0].Pose)
	time.Sleep(10 * time.Millisecond)
	observePose(e, "sq", ShapeSquare, Pose{Position: Point{X: 3, Y: 3}})

	time.Sleep(150 * time.Millisecond)
	if st := e.PieceState("sq"); st == StateValidated {
		t.Error("superseded placement validated anyway")
	}
	if len(e.ValidatedTargets()) != 0 {
		t.Error("no target should be valid after the drag-away")
	}
	if got := e.Stats().Validations; got != 0 {
		t.Errorf("Validations = %d, want 0", got)
	}
}

func TestHysteresisKeepsValidatedPiece(t *testing.T) {
	e, _ := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(singleSquarePuzzle()); err != nil {
		t.Fatal(err)
	}
	target := singleSquarePuzzle()[0]

	placeAt(e, "sq", ShapeSquare, target.Pose)
	e.RequestValidationPass()
	if e.PieceState("sq") != StateValidated {
		t.Fatal("setup: expected validated piece")
	}
	validationsBefore := e.Stats().Validations

	// Drift the rotation past the strict tolerance but inside the widened
	// hysteresis band (square period 90 degrees, tolerance 15, band 22.5).
	drift := Pose{Position: target.Pose.Position, Rotation: 20 * degToRad}
	observePose(e, "sq", ShapeSquare, drift)
	e.RequestValidationPass()

	if st := e.PieceState("sq"); st != StateValidated {
		t.Errorf("state after drift = %s, want validated (hysteresis)", st)
	}
	if !e.ValidatedTargets()["square-1"] {
		t.Error("target should stay valid under hysteresis")
	}
	// The short circuit confirms without a fresh match.
	if got := e.Stats().Validations; got != validationsBefore {
		t.Errorf("Validations = %d, want %d (no new match)", got, validationsBefore)
	}

	// Past the band the piece fails normally.
	far := Pose{Position: target.Pose.Position, Rotation: 40 * degToRad}
	observePose(e, "sq", ShapeSquare, far)
	e.RequestValidationPass()
	if st := e.PieceState("sq"); st != StateValidating {
		t.Errorf("state past the band = %s, want validating", st)
	}
}

func TestAnchorRelativeClusterValidates(t *testing.T) {
	e, _ := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(ClassicSquare().Targets); err != nil {
		t.Fatal(err)
	}

	// Three correctly assembled pieces, but the whole cluster sits rotated
	// and far from the silhouette. Direct validation cannot match them;
	// anchor mapping must.
	twist := 0.15
	shift := Point{X: 2.5, Y: 1.5}
	transform := func(p Pose) Pose {
		return Pose{
			Position: rotatePoint(p.Position, twist).add(shift),
			Rotation: p.Rotation + twist,
			Flipped:  p.Flipped,
		}
	}

	slots := ClassicSquare().Targets
	cluster := map[string]TargetSlot{
		"lt-a": slots[0], // large-1
		"lt-b": slots[1], // large-2
		"sq":   slots[5], // square-1
	}
	for id, slot := range cluster {
		placeAt(e, id, slot.Shape, transform(slot.Pose))
	}
	e.RequestValidationPass()

	for id, slot := range cluster {
		if st := e.PieceState(id); st != StateValidated {
			t.Errorf("piece %s state = %s, want validated via mapping", id, st)
		}
		if !e.ValidatedTargets()[slot.ID] {
			t.Errorf("target %s should be valid", slot.ID)
		}
	}
	if len(e.ValidatedTargets()) != 3 {
		t.Errorf("validated = %v, want exactly the cluster slots", e.ValidatedTargets())
	}
	if e.Completed() {
		t.Error("three of seven slots must not complete the puzzle")
	}
}

func TestAnchorClusterValidatesAtLargeTwist(t *testing.T) {
	e, _ := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(ClassicSquare().Targets); err != nil {
		t.Fatal(err)
	}

	// The same assembled cluster, but twisted far past any rotation tolerance.
	// No slot agrees with the anchor's orientation, so target selection falls
	// back to proximity and the mapping absorbs the full twist.
	twist := 1.0
	shift := Point{X: 2.5, Y: 1.5}
	transform := func(p Pose) Pose {
		return Pose{
			Position: rotatePoint(p.Position, twist).add(shift),
			Rotation: p.Rotation + twist,
			Flipped:  p.Flipped,
		}
	}

	slots := ClassicSquare().Targets
	cluster := map[string]TargetSlot{
		"lt-a": slots[0], // large-1
		"lt-b": slots[1], // large-2
		"sq":   slots[5], // square-1
	}
	for id, slot := range cluster {
		placeAt(e, id, slot.Shape, transform(slot.Pose))
	}
	e.RequestValidationPass()

	for id, slot := range cluster {
		if st := e.PieceState(id); st != StateValidated {
			t.Errorf("piece %s state = %s, want validated via mapping", id, st)
		}
		if !e.ValidatedTargets()[slot.ID] {
			t.Errorf("target %s should be valid", slot.ID)
		}
	}
	if len(e.ValidatedTargets()) != 3 {
		t.Errorf("validated = %v, want exactly the cluster slots", e.ValidatedTargets())
	}
	if e.Completed() {
		t.Error("three of seven slots must not complete the puzzle")
	}
}

func TestAnchorRequiresAdjacency(t *testing.T) {
	e, _ := newTestEngine(t, DefaultTolerances())
	if err := e.LoadPuzzle(ClassicSquare().Targets); err != nil {
		t.Fatal(err)
	}

	// A single free-moving piece far from the board, orientation matching a
	// slot: no contact, no proximity, no confidence. It must not anchor.
	pose := Pose{Position: Point{X: 4, Y: 4}, Rotation: math.Pi / 4}
	placeAt(e, "lt-a", ShapeLargeTriangle, pose)
	e.RequestValidationPass()

	if st := e.PieceState("lt-a"); st == StateValidated {
		t.Error("isolated piece anchored and validated spuriously")
	}
	if len(e.ValidatedTargets()) != 0 {
		t.Errorf("validated = %v, want none", e.ValidatedTargets())
	}
}
