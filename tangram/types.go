package tangram

import "time"

// PieceShape identifies one of the seven tangram shape classes. Congruent
// pieces (the two large triangles, the two small triangles) share a shape:
// instance disambiguation happens at binding time, not here.
type PieceShape string

const (
	ShapeLargeTriangle  PieceShape = "largeTriangle"
	ShapeMediumTriangle PieceShape = "mediumTriangle"
	ShapeSmallTriangle  PieceShape = "smallTriangle"
	ShapeSquare         PieceShape = "square"
	ShapeParallelogram  PieceShape = "parallelogram"
)

// Point represents a 2D coordinate in board units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose is an immutable piece placement: position, rotation (radians, CCW),
// and mirror-flip state. Every observation and every target slot carries one.
type Pose struct {
	Position Point   `json:"position"`
	Rotation float64 `json:"rotation"`
	Flipped  bool    `json:"flipped"`
}

// TargetSlot is a required destination pose for a specific shape within a
// puzzle. IDs are unique even for duplicate-shape slots. Targets are
// read-only after LoadPuzzle; consumption state lives in the engine.
type TargetSlot struct {
	ID    string     `json:"id"`
	Shape PieceShape `json:"shape"`
	Pose  Pose       `json:"pose"`
}

// PieceState is a piece's lifecycle state.
type PieceState string

const (
	StateUnobserved PieceState = "unobserved"
	StateDetected   PieceState = "detected"
	StateMoved      PieceState = "moved"
	StatePlaced     PieceState = "placed"
	StateValidating PieceState = "validating"
	StateValidated  PieceState = "validated"
	StateInvalid    PieceState = "invalid"
)

// CanValidate reports whether a piece in this state may be (re)validated.
func (s PieceState) CanValidate() bool {
	return s == StatePlaced || s == StateValidating || s == StateInvalid
}

// FailureReason is the closed set of validation failure outcomes. These are
// signaled values consumed by the nudge escalator, never errors.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonWrongPiece    FailureReason = "wrongPiece"
	ReasonWrongPosition FailureReason = "wrongPosition"
	ReasonWrongRotation FailureReason = "wrongRotation"
	ReasonNeedsFlip     FailureReason = "needsFlip"
)

// ValidationResult is the per-piece outcome of a validation attempt.
type ValidationResult struct {
	TargetID      string        `json:"targetId,omitempty"`
	PositionValid bool          `json:"positionValid"`
	RotationValid bool          `json:"rotationValid"`
	FlipValid     bool          `json:"flipValid"`
	Reason        FailureReason `json:"reason,omitempty"`

	// Diagnostics for the failing check: centroid offset in board units and
	// angular error in degrees (shortest arc, feature-angle space).
	Offset     float64 `json:"offset,omitempty"`
	DegreesOff float64 `json:"degreesOff,omitempty"`
}

// Valid reports whether all three checks passed.
func (r ValidationResult) Valid() bool {
	return r.PositionValid && r.RotationValid && r.FlipValid
}

// PieceInstance tracks one physical piece. All fields are owned by the
// engine and mutated only under its lock.
type PieceInstance struct {
	ID    string     `json:"id"`
	Shape PieceShape `json:"shape"`
	Pose  Pose       `json:"pose"`
	State PieceState `json:"state"`

	// BoundTarget is set on first successful match and cleared only on
	// invalidation, pinning the piece to one duplicate-shape slot.
	BoundTarget string `json:"boundTarget,omitempty"`

	// LastValidPose supports hysteresis: a validated piece drifting within
	// 1.5x tolerance of this pose stays valid without a fresh match.
	LastValidPose *Pose `json:"lastValidPose,omitempty"`

	InvalidStreak int       `json:"invalidStreak"`
	Attempts      int       `json:"attempts"`
	LastObserved  time.Time `json:"lastObserved"`
	LastMoved     time.Time `json:"lastMoved"`

	// generation increments on every movement; a pending debounce timer
	// captures the generation at schedule time and drops itself if stale.
	generation uint64
}

// ConstructionGroup is a transient cluster of spatially-connected placed
// pieces. Recomputed on every validation pass, never persisted.
type ConstructionGroup struct {
	ID         int      `json:"id"`
	Pieces     []string `json:"pieces"`
	Centroid   Point    `json:"centroid"`
	Radius     float64  `json:"radius"`
	Confidence float64  `json:"confidence"`
}

// MappingPair records one (piece, target) correspondence used to derive or
// refine a group's relative mapping. A pair list never contains two entries
// with the same piece ID or the same target ID.
type MappingPair struct {
	PieceID  string `json:"pieceId"`
	TargetID string `json:"targetId"`
}

// AnchorMapping is the rigid transform from a group's observed frame into
// the canonical target frame, derived from the anchor pair and refined over
// all known pairs.
type AnchorMapping struct {
	GroupID      int           `json:"groupId"`
	AnchorPiece  string        `json:"anchorPiece"`
	AnchorTarget string        `json:"anchorTarget"`
	Theta        float64       `json:"theta"` // rotation delta, radians
	Translation  Point         `json:"translation"`
	FlipParity   bool          `json:"flipParity"`
	Pairs        []MappingPair `json:"pairs"`
}

// NudgeLevel is the escalation ladder for hints.
type NudgeLevel int

const (
	NudgeNone NudgeLevel = iota
	NudgeVisual
	NudgeGentle
	NudgeSpecific
	NudgeDirected
	NudgeSolution
)

// String implements fmt.Stringer for logging and JSON-friendly output.
func (l NudgeLevel) String() string {
	switch l {
	case NudgeVisual:
		return "visual"
	case NudgeGentle:
		return "gentle"
	case NudgeSpecific:
		return "specific"
	case NudgeDirected:
		return "directed"
	case NudgeSolution:
		return "solution"
	default:
		return "none"
	}
}

// NudgeContent is an emitted hint for a single piece.
type NudgeContent struct {
	Level     NudgeLevel    `json:"level"`
	Message   string        `json:"message"`
	Ghost     *Pose         `json:"ghost,omitempty"`     // solution-level overlay pose
	Direction *Point        `json:"direction,omitempty"` // directed-level arrow vector
	Duration  time.Duration `json:"duration"`
}

// Observation is a single inbound pose report for a piece, as delivered by
// the detection collaborator (MQTT payload or direct call).
type Observation struct {
	ID        string     `json:"id"`
	Shape     PieceShape `json:"shape"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Rotation  float64    `json:"rotation"`
	Flipped   bool       `json:"flipped"`
	Timestamp int64      `json:"timestamp"`
}

// knownShapes is the closed set of valid shape identifiers.
var knownShapes = map[PieceShape]bool{
	ShapeLargeTriangle:  true,
	ShapeMediumTriangle: true,
	ShapeSmallTriangle:  true,
	ShapeSquare:         true,
	ShapeParallelogram:  true,
}

// IsKnownShape reports whether s is one of the seven tangram shape classes.
func IsKnownShape(s PieceShape) bool {
	return knownShapes[s]
}
