package tangram

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Callbacks are the outbound event hooks injected by collaborators. Nil
// hooks are skipped. Hooks run outside the engine lock, in emission order,
// and may safely call back into the engine's accessors.
type Callbacks struct {
	OnValidationChanged func(targetID string, valid bool)
	OnPieceStateChanged func(pieceID string, state PieceState)
	OnNudge             func(pieceID string, content NudgeContent)
	OnPuzzleCompleted   func()
}

// Stats counts engine activity for the health endpoint.
type Stats struct {
	Observations     int64 `json:"observations"`
	ValidationPasses int64 `json:"validationPasses"`
	Validations      int64 `json:"validations"`
	NudgesEmitted    int64 `json:"nudgesEmitted"`
}

// Engine is the placement validation engine: it owns all mutable state
// (pieces, groups, mappings, target consumption) behind one mutex, consumes
// pose observations, and emits validation and hint events. External
// collaborators hold only IDs, never references into engine state.
type Engine struct {
	mu sync.Mutex

	tol        Tolerances
	pieces     map[string]*PieceInstance
	pieceOrder []string
	groups     *GroupManager
	mapping    *MappingService
	nudges     *NudgeEscalator

	callbacks Callbacks

	validTargets map[string]bool
	puzzleLoaded bool
	completed    bool

	timers map[string]*time.Timer
	stats  Stats

	// now is swappable for tests.
	now func() time.Time

	// pending holds callback invocations queued under the lock and flushed
	// after unlock, keeping hooks reentrancy-safe.
	pending []func()
}

// NewEngine creates an engine with the given tolerances and callbacks.
func NewEngine(tol Tolerances, cb Callbacks) (*Engine, error) {
	if err := tol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tolerances: %w", err)
	}
	return &Engine{
		tol:          tol,
		pieces:       make(map[string]*PieceInstance),
		groups:       NewGroupManager(),
		mapping:      NewMappingService(),
		nudges:       NewNudgeEscalator(tol),
		callbacks:    cb,
		validTargets: make(map[string]bool),
		timers:       make(map[string]*time.Timer),
		now:          time.Now,
	}, nil
}

// LoadPuzzle resets groups, mappings, bindings, and target consumption, and
// installs a new target set. Pieces already on the table survive with their
// poses but drop back to detected so they re-enter validation against the
// new silhouette. A malformed target set is rejected and the previous state
// is left untouched.
func (e *Engine) LoadPuzzle(slots []TargetSlot) error {
	if len(slots) == 0 {
		return fmt.Errorf("puzzle has no target slots")
	}
	seen := make(map[string]bool, len(slots))
	for i, s := range slots {
		if s.ID == "" {
			return fmt.Errorf("target[%d] has empty id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate target id %q", s.ID)
		}
		seen[s.ID] = true
		if !IsKnownShape(s.Shape) {
			return fmt.Errorf("target %q has unknown shape %q", s.ID, s.Shape)
		}
		if _, ok := SanitizePose(s.Pose); !ok {
			return fmt.Errorf("target %q has non-finite pose", s.ID)
		}
	}
	if err := e.tol.Validate(); err != nil {
		return fmt.Errorf("invalid tolerances: %w", err)
	}

	e.mu.Lock()
	e.stopTimers()
	e.mapping.InstallTargets(slots)
	e.groups.Reset()
	e.nudges.Reset()
	e.validTargets = make(map[string]bool)
	e.completed = false
	e.puzzleLoaded = true

	for _, p := range e.pieces {
		p.State = StateDetected
		p.BoundTarget = ""
		p.LastValidPose = nil
		p.InvalidStreak = 0
		p.Attempts = 0
		p.generation++
		e.queueStateChange(p.ID, StateDetected)
	}
	log.Printf("[ENGINE] puzzle loaded: %d target slots", len(slots))
	e.mu.Unlock()
	e.flushEvents()
	return nil
}

// SetTolerances swaps the difficulty preset without losing in-flight piece
// state. Invalid tolerance sets are rejected.
func (e *Engine) SetTolerances(tol Tolerances) error {
	if err := tol.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.tol = tol
	e.nudges.SetTolerances(tol)
	e.mu.Unlock()
	return nil
}

// Tolerances returns the active tolerance preset.
func (e *Engine) Tolerances() Tolerances {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tol
}

// RequestValidationPass triggers an immediate batch re-validation of every
// piece that can validate. Each piece is visited at most once per pass.
func (e *Engine) RequestValidationPass() {
	e.mu.Lock()
	e.stats.ValidationPasses++
	e.refreshGroups()

	visited := make(map[string]bool)
	for _, id := range e.pieceOrder {
		p := e.pieces[id]
		if visited[id] || !p.State.CanValidate() {
			continue
		}
		if p.State == StatePlaced {
			p.State = StateValidating
			e.queueStateChange(p.ID, StateValidating)
		}
		visited[id] = true
		e.validatePiece(p, visited, true)
	}
	e.checkCompletion()
	e.mu.Unlock()
	e.flushEvents()
}

// ValidatedTargets returns the set of target IDs currently occupied by a
// valid, bound piece.
func (e *Engine) ValidatedTargets() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.validTargets))
	for id, v := range e.validTargets {
		if v {
			out[id] = true
		}
	}
	return out
}

// PieceState returns the lifecycle state for a piece, or StateUnobserved if
// the piece has never been reported.
func (e *Engine) PieceState(pieceID string) PieceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pieces[pieceID]; ok {
		return p.State
	}
	return StateUnobserved
}

// Pieces returns a snapshot copy of all piece instances.
func (e *Engine) Pieces() []PieceInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PieceInstance, 0, len(e.pieceOrder))
	for _, id := range e.pieceOrder {
		out = append(out, *e.pieces[id])
	}
	return out
}

// Groups returns a snapshot copy of the current construction groups.
func (e *Engine) Groups() []ConstructionGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ConstructionGroup
	for _, g := range e.groups.Groups() {
		cp := *g
		cp.Pieces = append([]string(nil), g.Pieces...)
		out = append(out, cp)
	}
	return out
}

// TargetStatus is the per-slot view exposed to the HTTP layer.
type TargetStatus struct {
	TargetSlot
	ConsumedBy string `json:"consumedBy,omitempty"`
	Valid      bool   `json:"valid"`
}

// Targets returns a snapshot of all slots with consumption and validity.
func (e *Engine) Targets() []TargetStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []TargetStatus
	for _, t := range e.mapping.Targets() {
		st := TargetStatus{TargetSlot: t, Valid: e.validTargets[t.ID]}
		if pid, ok := e.mapping.ConsumedBy(t.ID); ok {
			st.ConsumedBy = pid
		}
		out = append(out, st)
	}
	return out
}

// Completed reports whether the loaded puzzle has been fully solved.
func (e *Engine) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Stats returns a copy of the activity counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// refreshGroups recomputes construction groups. Caller holds the lock.
func (e *Engine) refreshGroups() {
	all := make([]*PieceInstance, 0, len(e.pieceOrder))
	for _, id := range e.pieceOrder {
		all = append(all, e.pieces[id])
	}
	e.groups.UpdateGroups(all, e.tol.Connection, e.now())
}

// checkCompletion emits OnPuzzleCompleted exactly once when every slot is
// consumed by a valid piece. Caller holds the lock.
func (e *Engine) checkCompletion() {
	if e.completed || !e.puzzleLoaded || !e.mapping.AllConsumed() {
		return
	}
	for _, t := range e.mapping.Targets() {
		if !e.validTargets[t.ID] {
			return
		}
	}
	e.completed = true
	log.Printf("[ENGINE] puzzle completed")
	if cb := e.callbacks.OnPuzzleCompleted; cb != nil {
		e.pending = append(e.pending, cb)
	}
}

// queueStateChange queues an OnPieceStateChanged event. Caller holds the lock.
func (e *Engine) queueStateChange(pieceID string, state PieceState) {
	if cb := e.callbacks.OnPieceStateChanged; cb != nil {
		e.pending = append(e.pending, func() { cb(pieceID, state) })
	}
}

// queueValidationChange records and queues a target validity flip. Caller
// holds the lock.
func (e *Engine) queueValidationChange(targetID string, valid bool) {
	if e.validTargets[targetID] == valid {
		return
	}
	e.validTargets[targetID] = valid
	if cb := e.callbacks.OnValidationChanged; cb != nil {
		e.pending = append(e.pending, func() { cb(targetID, valid) })
	}
}

// queueNudge queues an OnNudge event. Caller holds the lock.
func (e *Engine) queueNudge(pieceID string, content NudgeContent) {
	e.stats.NudgesEmitted++
	if cb := e.callbacks.OnNudge; cb != nil {
		e.pending = append(e.pending, func() { cb(pieceID, content) })
	}
}

// flushEvents runs queued callbacks outside the lock.
func (e *Engine) flushEvents() {
	e.mu.Lock()
	queue := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range queue {
		fn()
	}
}
