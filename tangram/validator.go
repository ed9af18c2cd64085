package tangram

// Validate checks an observed pose against a target pose for the given
// shape. Pure and deterministic: safe to call at any rate from any pass.
//
// Position passes on centroid proximity, or on flush boundary contact: the
// observed polygon sits against the target silhouette with at most the
// edge-contact tolerance of gap or interpenetration. The latter rescues
// pieces whose edges sit flush while their centroids are offset by the
// piece's own geometry; a merely-overlapping pose beyond the position
// tolerance does not qualify. Rotation is compared in feature-angle space so
// symmetric orientations compare equal. Flip only matters for the
// parallelogram.
func Validate(observed, target Pose, shape PieceShape, tol Tolerances) ValidationResult {
	result := ValidationResult{}

	centroidDist := Distance(observed.Position, target.Position)
	result.Offset = centroidDist
	if centroidDist <= tol.Position {
		result.PositionValid = true
	} else {
		gap := PieceDistance(shape, observed, shape, target)
		depth := PiecePenetration(shape, observed, shape, target)
		if gap <= tol.EdgeContact && depth <= tol.EdgeContact {
			result.PositionValid = true
		}
	}

	angleDiff := FeatureAngleDiff(shape, observed.Rotation, observed.Flipped, target.Rotation, target.Flipped)
	result.DegreesOff = angleDiff * radToDeg
	result.RotationValid = angleDiff <= tol.RotationRad()

	result.FlipValid = !FlipSensitive(shape) || observed.Flipped == target.Flipped

	// First failing check in priority order.
	switch {
	case !result.PositionValid:
		result.Reason = ReasonWrongPosition
	case !result.RotationValid:
		result.Reason = ReasonWrongRotation
	case !result.FlipValid:
		result.Reason = ReasonNeedsFlip
	}

	return result
}

// ValidateRelaxed is Validate with the rotation tolerance widened by the
// given factor. Anchor-to-target ranking uses it to spot candidate slots that
// agree with a rotation-ambiguous anchor's orientation.
func ValidateRelaxed(observed, target Pose, shape PieceShape, tol Tolerances, rotationFactor float64) ValidationResult {
	if rotationFactor > 1 {
		tol.RotationDeg *= rotationFactor
	}
	return Validate(observed, target, shape, tol)
}
