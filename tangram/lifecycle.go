package tangram

import (
	"log"
	"math"
	"time"
)

// ObservePiece feeds one pose observation into the lifecycle state machine.
// It is the only way piece poses change. Malformed observations (unknown
// shape, NaN/Inf position) are dropped with a log line; angles are wrapped
// defensively.
//
// Lifecycle: the first report of a piece lands it in detected with a
// baseline pose. A later report that differs beyond the jitter threshold is
// a drag: the piece passes through moved to placed, and placement starts the
// debounce timer. Reports within the jitter threshold leave the state (and
// any pending timer) alone, so re-detection noise cannot flicker a
// validated piece.
func (e *Engine) ObservePiece(obs Observation) {
	pose, ok := SanitizePose(Pose{
		Position: Point{X: obs.X, Y: obs.Y},
		Rotation: obs.Rotation,
		Flipped:  obs.Flipped,
	})
	if !ok {
		log.Printf("[ENGINE] dropping observation for %s: non-finite position", obs.ID)
		return
	}
	if !IsKnownShape(obs.Shape) {
		log.Printf("[ENGINE] dropping observation for %s: unknown shape %q", obs.ID, obs.Shape)
		return
	}

	e.mu.Lock()
	now := e.now()
	e.stats.Observations++

	p, exists := e.pieces[obs.ID]
	if !exists {
		p = &PieceInstance{
			ID:           obs.ID,
			Shape:        obs.Shape,
			Pose:         pose,
			State:        StateDetected,
			LastObserved: now,
			LastMoved:    now,
		}
		e.pieces[obs.ID] = p
		e.pieceOrder = append(e.pieceOrder, obs.ID)
		e.queueStateChange(p.ID, StateDetected)
		e.mu.Unlock()
		e.flushEvents()
		return
	}

	if p.Shape != obs.Shape {
		// Detector disagreement about an existing piece's class. Keep the
		// original identity; rebinding shapes mid-game corrupts targets.
		log.Printf("[ENGINE] piece %s reported as %q but registered as %q, ignoring", obs.ID, obs.Shape, p.Shape)
		e.mu.Unlock()
		return
	}

	moved := Distance(p.Pose.Position, pose.Position) > jitterThreshold ||
		math.Abs(normalizeSigned(p.Pose.Rotation-pose.Rotation)) > jitterThreshold ||
		p.Pose.Flipped != pose.Flipped

	p.Pose = pose
	p.LastObserved = now

	if moved {
		p.LastMoved = now
		p.generation++

		if p.State != StateMoved {
			p.State = StateMoved
			e.queueStateChange(p.ID, StateMoved)
		}
		// Each movement report doubles as an optimistic release: the piece
		// is placed, and the debounce restarts. A further move before the
		// timer fires supersedes this placement.
		p.State = StatePlaced
		e.queueStateChange(p.ID, StatePlaced)
		e.schedulePlacement(p)
	}

	e.mu.Unlock()
	e.flushEvents()
}

// schedulePlacement (re)starts the placement debounce for a piece. At most
// one pending timer exists per piece; the generation captured here lets a
// stale timer recognize it was superseded. Caller holds the engine lock.
func (e *Engine) schedulePlacement(p *PieceInstance) {
	if t, ok := e.timers[p.ID]; ok {
		t.Stop()
	}
	pieceID := p.ID
	gen := p.generation
	delay := e.tol.PlacementDelay
	e.timers[pieceID] = time.AfterFunc(delay, func() {
		e.onPlacementSettled(pieceID, gen)
	})
}

// onPlacementSettled fires when a piece's placement debounce elapses. The
// validation is silently dropped when a newer movement superseded it or the
// piece is no longer in a validatable state.
func (e *Engine) onPlacementSettled(pieceID string, gen uint64) {
	e.mu.Lock()

	p, ok := e.pieces[pieceID]
	if !ok || p.generation != gen {
		e.mu.Unlock()
		return
	}
	delete(e.timers, pieceID)

	if p.State != StatePlaced {
		e.mu.Unlock()
		return
	}
	p.State = StateValidating
	e.queueStateChange(p.ID, StateValidating)

	e.refreshGroups()
	e.validatePiece(p, map[string]bool{pieceID: true}, true)
	e.checkCompletion()

	e.mu.Unlock()
	e.flushEvents()
}

// stopTimers cancels every pending placement timer. Caller holds the lock.
func (e *Engine) stopTimers() {
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
