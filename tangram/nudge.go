package tangram

import (
	"fmt"
	"math"
	"time"
)

// nudgeDisplayDuration is how long a surfaced hint should stay visible.
const nudgeDisplayDuration = 3 * time.Second

// NudgeEscalator turns validation failures, group confidence, and retry
// history into leveled hints. It owns the cooldown, de-duplication, and
// settle-buffering state; level selection itself is pure.
type NudgeEscalator struct {
	cooldown     time.Duration
	settleWindow time.Duration

	lastNudge     map[string]time.Time
	ackSignature  map[string]string        // "looks correct" shown once per orientation
	buffered      map[string]*NudgeContent // directed/solution hints awaiting settle
}

// NewNudgeEscalator creates an escalator with the given tolerances.
func NewNudgeEscalator(tol Tolerances) *NudgeEscalator {
	ne := &NudgeEscalator{
		cooldown:     tol.NudgeCooldown,
		settleWindow: tol.SettleWindow,
	}
	ne.Reset()
	return ne
}

// Reset clears all per-piece hint state (new puzzle).
func (ne *NudgeEscalator) Reset() {
	ne.lastNudge = make(map[string]time.Time)
	ne.ackSignature = make(map[string]string)
	ne.buffered = make(map[string]*NudgeContent)
}

// SetTolerances swaps cooldown settings without dropping in-flight state.
func (ne *NudgeEscalator) SetTolerances(tol Tolerances) {
	ne.cooldown = tol.NudgeCooldown
	ne.settleWindow = tol.SettleWindow
}

// SelectLevel picks the hint level from group confidence and attempt count,
// escalating for orientation failures: a wrong rotation or a needed flip is
// never answered with less than a specific hint once the player has retried.
func SelectLevel(reason FailureReason, confidence float64, attempts int) NudgeLevel {
	if attempts <= 0 {
		return NudgeNone
	}

	// Confidence scales how fast attempts escalate: a stable, deliberate
	// construction earns stronger help than a pile still being shuffled.
	score := float64(attempts) * (0.5 + confidence)

	var level NudgeLevel
	switch {
	case score >= 12:
		level = NudgeSolution
	case score >= 8:
		level = NudgeDirected
	case score >= 5:
		level = NudgeSpecific
	case score >= 3:
		level = NudgeGentle
	default:
		level = NudgeVisual
	}

	if (reason == ReasonWrongRotation || reason == ReasonNeedsFlip) && attempts > 1 && level < NudgeSpecific {
		level = NudgeSpecific
	}
	return level
}

// Evaluate produces the nudge to surface for a failed validation, or nil.
// Directed and solution hints are buffered until the piece has settled so a
// player mid-drag is not spammed with arrows. Repeat hints within the
// cooldown window are suppressed.
func (ne *NudgeEscalator) Evaluate(pieceID string, result ValidationResult, target *TargetSlot, observed Pose, confidence float64, attempts int, lastMoved, now time.Time) *NudgeContent {
	settled := now.Sub(lastMoved) >= ne.settleWindow

	// A buffered high-level hint takes precedence once motion stops.
	if pending, ok := ne.buffered[pieceID]; ok && settled {
		delete(ne.buffered, pieceID)
		if ne.cooldownOK(pieceID, now) {
			ne.lastNudge[pieceID] = now
			return pending
		}
	}

	level := SelectLevel(result.Reason, confidence, attempts)
	if level == NudgeNone {
		return nil
	}

	content := ne.build(level, result, target, observed)
	if content == nil {
		return nil
	}

	if level >= NudgeDirected && !settled {
		ne.buffered[pieceID] = content
		return nil
	}
	if !ne.cooldownOK(pieceID, now) {
		return nil
	}
	ne.lastNudge[pieceID] = now
	return content
}

// AcknowledgeOrientation returns a one-shot "looks correct" acknowledgment
// when a piece's orientation matches but its position does not. The rounded
// orientation signature is cached so the same orientation is acknowledged at
// most once until it actually changes.
func (ne *NudgeEscalator) AcknowledgeOrientation(pieceID string, result ValidationResult, observed Pose, now time.Time) *NudgeContent {
	if result.Reason != ReasonWrongPosition || !result.RotationValid || !result.FlipValid {
		return nil
	}
	sig := orientationSignature(observed)
	if ne.ackSignature[pieceID] == sig {
		return nil
	}
	ne.ackSignature[pieceID] = sig
	return &NudgeContent{
		Level:    NudgeGentle,
		Message:  "That orientation looks right - now slide it into place.",
		Duration: nudgeDisplayDuration,
	}
}

func (ne *NudgeEscalator) cooldownOK(pieceID string, now time.Time) bool {
	last, ok := ne.lastNudge[pieceID]
	return !ok || now.Sub(last) >= ne.cooldown
}

func (ne *NudgeEscalator) build(level NudgeLevel, result ValidationResult, target *TargetSlot, observed Pose) *NudgeContent {
	content := &NudgeContent{Level: level, Duration: nudgeDisplayDuration}

	switch level {
	case NudgeVisual:
		content.Message = ""
	case NudgeGentle:
		content.Message = "Not quite - keep trying!"
	case NudgeSpecific:
		switch result.Reason {
		case ReasonNeedsFlip:
			content.Message = "Try flipping that piece over."
		case ReasonWrongRotation:
			content.Message = fmt.Sprintf("Close - rotate it about %.0f degrees.", result.DegreesOff)
		default:
			content.Message = "That piece belongs somewhere else nearby."
		}
	case NudgeDirected:
		if target == nil {
			return nil
		}
		content.Message = "Move the piece toward the highlighted spot."
		content.Direction = &Point{
			X: target.Pose.Position.X - observed.Position.X,
			Y: target.Pose.Position.Y - observed.Position.Y,
		}
	case NudgeSolution:
		if target == nil {
			return nil
		}
		content.Message = "Here is exactly where it goes."
		ghost := target.Pose
		content.Ghost = &ghost
	default:
		return nil
	}
	return content
}

// orientationSignature rounds a pose's orientation to whole degrees plus the
// flip flag, the cache key for "looks correct" acknowledgments.
func orientationSignature(pose Pose) string {
	deg := math.Round(NormalizeAngle(pose.Rotation) * radToDeg)
	return fmt.Sprintf("%d:%t", int(deg)%360, pose.Flipped)
}
