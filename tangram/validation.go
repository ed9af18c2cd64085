package tangram

import "log"

// hysteresisBand widens tolerances for the still-valid short circuit: a
// validated piece drifting within 1.5x tolerance of its last-known-valid
// pose stays valid without a fresh match.
const hysteresisBand = 1.5

// highConfidence is the group confidence above which the anchor adjacency
// precondition is waived.
const highConfidence = 0.8

// validatePiece runs one validation attempt for a piece. Precedence is
// deterministic: the hysteresis short circuit first, then a direct match
// against candidate targets at full tolerance, then the group-mapped match.
// visited guards once-per-pass semantics; allowRefine bounds re-entrancy so
// a refinement sweep cannot trigger another sweep. Caller holds the lock.
func (e *Engine) validatePiece(p *PieceInstance, visited map[string]bool, allowRefine bool) {
	if !e.puzzleLoaded || !p.State.CanValidate() && p.State != StateValidated {
		return
	}

	// Hysteresis: small drift from re-detection noise must not flicker an
	// already-validated piece.
	if p.BoundTarget != "" && p.LastValidPose != nil && e.withinHysteresis(p) {
		e.markStillValid(p)
		return
	}

	group := e.groups.GroupFor(p.ID)

	// Direct path: the piece sits on (or near) its canonical silhouette.
	candidates := e.mapping.CandidateTargets(p.ID, p.Shape)
	directTarget, directResult, directOK := bestMatch(p.Pose, p.Shape, candidates, e.tol)
	if directOK {
		if e.markValid(p, directTarget) {
			e.recordPairAndRefine(p, directTarget, group, visited, allowRefine)
			return
		}
	}

	// Mapped path: validate relative to the group's anchor frame.
	var mappedResult ValidationResult
	var mappedTried bool
	if group != nil {
		m := e.mapping.MappingFor(group)
		if m == nil {
			m = e.establishAnchor(group)
			if m != nil && m.AnchorPiece == p.ID {
				// The trigger piece itself was promoted to anchor; the
				// derivation already validated it.
				return
			}
		}
		if m != nil && e.pieces[m.AnchorPiece] != nil && m.AnchorPiece != p.ID {
			mapped := e.mapping.MappedPose(m, p.Pose)
			target, result, ok := bestMatch(mapped, p.Shape, candidates, e.tol)
			mappedResult, mappedTried = result, true
			if ok && e.markValid(p, target) {
				if e.mapping.AddPair(m, p.ID, target.ID) && len(m.Pairs) >= 2 && allowRefine {
					e.refineAndSweep(m, group, p.ID, visited)
				}
				return
			}
		}
	}

	// Failure: pick the most informative result for hint purposes.
	result := directResult
	var failedTarget *TargetSlot
	if len(candidates) > 0 {
		failedTarget = &directTarget
	}
	if mappedTried && resultScore(mappedResult) > resultScore(directResult) {
		result = mappedResult
	}
	e.markFailure(p, result, failedTarget, group)
}

// establishAnchor selects a group anchor, matches it to an unconsumed target
// of its shape, and derives the group mapping. The adjacency precondition
// (true contact with another member, centroid proximity to the candidate
// target, or high group confidence) stops an isolated free-moving piece
// from spuriously anchoring. Returns nil when no mapping can be derived.
func (e *Engine) establishAnchor(group *ConstructionGroup) *AnchorMapping {
	anchor, err := e.mapping.SelectAnchor(group, e.pieces)
	if err != nil {
		return nil
	}

	target, ok := e.bestAnchorTarget(anchor)
	if !ok {
		return nil
	}
	if !e.anchorPrecondition(group, anchor, target) {
		return nil
	}

	m := e.mapping.DeriveMapping(group, anchor, target)
	if e.markValid(anchor, target) {
		log.Printf("[ENGINE] group %d anchored: piece %s -> target %s (theta=%.3f)",
			group.ID, anchor.ID, target.ID, m.Theta)
		return m
	}
	// Binding raced with another consumer; drop the mapping.
	e.mapping.Release(anchor.ID)
	return nil
}

// bestAnchorTarget picks the anchor's slot among the unconsumed candidates
// of its shape: the closest one agreeing with the anchor's orientation within
// a relaxed tolerance when any such slot exists (disambiguating duplicate
// shapes), otherwise the closest outright. The derivation absorbs whatever
// rotation delta remains, so orientation agreement is a selection heuristic,
// never a gate; the adjacency precondition guards against spurious anchors.
func (e *Engine) bestAnchorTarget(anchor *PieceInstance) (TargetSlot, bool) {
	var nearest, agreeing TargetSlot
	nearestDist, agreeingDist := 0.0, 0.0
	foundNearest, foundAgreeing := false, false

	for _, t := range e.mapping.CandidateTargets(anchor.ID, anchor.Shape) {
		dist := Distance(anchor.Pose.Position, t.Pose.Position)
		if !foundNearest || dist < nearestDist {
			nearest, nearestDist, foundNearest = t, dist, true
		}
		r := ValidateRelaxed(anchor.Pose, t.Pose, anchor.Shape, e.tol, anchorRelaxFactor)
		if !r.RotationValid || !r.FlipValid {
			continue
		}
		if !foundAgreeing || dist < agreeingDist {
			agreeing, agreeingDist, foundAgreeing = t, dist, true
		}
	}
	if foundAgreeing {
		return agreeing, true
	}
	return nearest, foundNearest
}

// anchorPrecondition gates anchor promotion; see establishAnchor.
func (e *Engine) anchorPrecondition(group *ConstructionGroup, anchor *PieceInstance, target TargetSlot) bool {
	if group.Confidence >= highConfidence {
		return true
	}
	if Distance(anchor.Pose.Position, target.Pose.Position) <= 2*e.tol.Position {
		return true
	}
	for _, id := range group.Pieces {
		if id == anchor.ID {
			continue
		}
		other := e.pieces[id]
		if other == nil {
			continue
		}
		if PieceDistance(anchor.Shape, anchor.Pose, other.Shape, other.Pose) <= e.tol.EdgeContact {
			return true
		}
	}
	return false
}

// recordPairAndRefine feeds a direct-match correspondence into an existing
// group mapping, refining it when enough pairs exist.
func (e *Engine) recordPairAndRefine(p *PieceInstance, target TargetSlot, group *ConstructionGroup, visited map[string]bool, allowRefine bool) {
	if group == nil {
		return
	}
	m := e.mapping.MappingFor(group)
	if m == nil {
		return
	}
	if e.mapping.AddPair(m, p.ID, target.ID) && len(m.Pairs) >= 2 && allowRefine {
		e.refineAndSweep(m, group, p.ID, visited)
	}
}

// refineAndSweep recomputes the mapping over all known pairs, then re-runs
// validation once for each not-yet-valid group member. The triggering piece
// is excluded and swept members may not trigger a further sweep, bounding
// the recursion to a single level.
func (e *Engine) refineAndSweep(m *AnchorMapping, group *ConstructionGroup, triggerID string, visited map[string]bool) {
	e.mapping.Refine(m, func(pieceID string) (Pose, bool) {
		if p, ok := e.pieces[pieceID]; ok {
			return p.Pose, true
		}
		return Pose{}, false
	})

	for _, id := range group.Pieces {
		if id == triggerID || visited[id] {
			continue
		}
		member := e.pieces[id]
		if member == nil || member.State == StateValidated || !member.State.CanValidate() {
			continue
		}
		visited[id] = true
		e.validatePiece(member, visited, false)
	}
}

// withinHysteresis reports whether a piece's pose sits within the widened
// band around its last-known-valid pose. Caller holds the lock.
func (e *Engine) withinHysteresis(p *PieceInstance) bool {
	last := *p.LastValidPose
	if Distance(p.Pose.Position, last.Position) > hysteresisBand*e.tol.Position {
		return false
	}
	diff := FeatureAngleDiff(p.Shape, p.Pose.Rotation, p.Pose.Flipped, last.Rotation, last.Flipped)
	if diff > hysteresisBand*e.tol.RotationRad() {
		return false
	}
	return !FlipSensitive(p.Shape) || p.Pose.Flipped == last.Flipped
}

// markStillValid confirms a piece under the hysteresis short circuit.
func (e *Engine) markStillValid(p *PieceInstance) {
	p.InvalidStreak = 0
	if p.State != StateValidated {
		p.State = StateValidated
		e.queueStateChange(p.ID, StateValidated)
	}
	e.queueValidationChange(p.BoundTarget, true)
}

// markValid binds a piece to a target and promotes it to validated. Returns
// false on a binding conflict (slot consumed by another piece), which is
// rejected silently per the retry contract.
func (e *Engine) markValid(p *PieceInstance, target TargetSlot) bool {
	if err := e.mapping.Bind(p.ID, target.ID); err != nil {
		return false
	}
	p.BoundTarget = target.ID
	p.InvalidStreak = 0
	lastValid := p.Pose
	p.LastValidPose = &lastValid
	e.groups.ClearAttempts(p.ID)
	e.stats.Validations++

	if p.State != StateValidated {
		p.State = StateValidated
		e.queueStateChange(p.ID, StateValidated)
	}
	e.queueValidationChange(target.ID, true)
	return true
}

// markFailure applies the invalid-streak hysteresis and feeds the nudge
// escalator. Below the streak threshold the piece stays in validating,
// unpenalized; above it the piece turns invalid and releases its binding.
func (e *Engine) markFailure(p *PieceInstance, result ValidationResult, target *TargetSlot, group *ConstructionGroup) {
	p.InvalidStreak++

	if p.InvalidStreak > e.tol.InvalidStreakThreshold {
		if p.State != StateInvalid {
			p.State = StateInvalid
			e.queueStateChange(p.ID, StateInvalid)
		}
		if p.BoundTarget != "" {
			released := p.BoundTarget
			e.mapping.Release(p.ID)
			p.BoundTarget = ""
			p.LastValidPose = nil
			e.queueValidationChange(released, false)
		}
	} else if p.State != StateValidating {
		p.State = StateValidating
		e.queueStateChange(p.ID, StateValidating)
	}

	if target == nil {
		// Nothing to aim for (all same-shape slots consumed); retry later
		// without hinting.
		return
	}

	attempts := e.groups.RecordAttempt(p.ID)
	p.Attempts = attempts
	confidence := 0.0
	if group != nil {
		confidence = group.Confidence
	}
	now := e.now()
	if ack := e.nudges.AcknowledgeOrientation(p.ID, result, p.Pose, now); ack != nil {
		e.queueNudge(p.ID, *ack)
	}
	if content := e.nudges.Evaluate(p.ID, result, target, p.Pose, confidence, attempts, p.LastMoved, now); content != nil {
		e.queueNudge(p.ID, *content)
	}
}

// bestMatch validates a pose against each candidate slot and returns the
// closest valid match, or the most informative failure.
func bestMatch(pose Pose, shape PieceShape, candidates []TargetSlot, tol Tolerances) (TargetSlot, ValidationResult, bool) {
	var bestTarget TargetSlot
	var bestResult ValidationResult
	foundValid := false

	for _, t := range candidates {
		r := Validate(pose, t.Pose, shape, tol)
		if r.Valid() {
			r.TargetID = t.ID
			if !foundValid || r.Offset < bestResult.Offset {
				bestTarget, bestResult, foundValid = t, r, true
			}
			continue
		}
		if foundValid {
			continue
		}
		if bestResult.Reason == ReasonNone || resultScore(r) > resultScore(bestResult) {
			bestTarget, bestResult = t, r
		}
	}
	return bestTarget, bestResult, foundValid
}

// resultScore ranks failures by how close they came: more passing checks is
// better, then smaller centroid offset.
func resultScore(r ValidationResult) float64 {
	score := 0.0
	if r.PositionValid {
		score += 4
	}
	if r.RotationValid {
		score += 2
	}
	if r.FlipValid {
		score++
	}
	return score - r.Offset/100
}
