package tangram

import (
	"errors"
	"math"
	"sort"
)

// ErrBindingConflict signals an attempt to claim a target slot already
// consumed by another piece. Callers reject it silently; the losing piece
// simply retries on a later pass.
var ErrBindingConflict = errors.New("target slot already consumed")

// ErrNoAnchor signals that no group member qualifies as a mapping anchor.
// Internal: triggers fallback to direct validation.
var ErrNoAnchor = errors.New("no anchor available")

// anchorRelaxFactor widens the rotation tolerance when ranking candidate
// targets for an anchor; agreement within this band disambiguates
// duplicate-shape slots. The mapping derivation absorbs any residual.
const anchorRelaxFactor = 2.0

// MappingService owns target slots, consumption and binding bookkeeping,
// and the per-group rigid mappings that let a correctly-assembled cluster
// validate away from the canonical target frame.
type MappingService struct {
	targets     map[string]TargetSlot
	targetOrder []string

	consumedBy map[string]string // target ID -> piece ID
	boundTo    map[string]string // piece ID -> target ID

	// mappings are keyed by anchor piece ID: group IDs are transient, the
	// anchor piece is the stable handle across regrouping.
	mappings map[string]*AnchorMapping
}

// NewMappingService creates an empty mapping service.
func NewMappingService() *MappingService {
	ms := &MappingService{}
	ms.InstallTargets(nil)
	return ms
}

// InstallTargets resets all mapping state and installs a new target set.
func (ms *MappingService) InstallTargets(slots []TargetSlot) {
	ms.targets = make(map[string]TargetSlot, len(slots))
	ms.targetOrder = make([]string, 0, len(slots))
	ms.consumedBy = make(map[string]string)
	ms.boundTo = make(map[string]string)
	ms.mappings = make(map[string]*AnchorMapping)
	for _, s := range slots {
		ms.targets[s.ID] = s
		ms.targetOrder = append(ms.targetOrder, s.ID)
	}
}

// Target returns the slot with the given ID.
func (ms *MappingService) Target(id string) (TargetSlot, bool) {
	t, ok := ms.targets[id]
	return t, ok
}

// Targets returns all slots in installation order.
func (ms *MappingService) Targets() []TargetSlot {
	out := make([]TargetSlot, 0, len(ms.targetOrder))
	for _, id := range ms.targetOrder {
		out = append(out, ms.targets[id])
	}
	return out
}

// TargetCount returns the number of installed slots.
func (ms *MappingService) TargetCount() int {
	return len(ms.targets)
}

// CandidateTargets returns the slots a piece may validate against: its bound
// slot if it has one, otherwise every unconsumed slot of its shape, in
// installation order.
func (ms *MappingService) CandidateTargets(pieceID string, shape PieceShape) []TargetSlot {
	if tid, ok := ms.boundTo[pieceID]; ok {
		if t, found := ms.targets[tid]; found {
			return []TargetSlot{t}
		}
		return nil
	}
	var out []TargetSlot
	for _, id := range ms.targetOrder {
		t := ms.targets[id]
		if t.Shape != shape {
			continue
		}
		if owner, consumed := ms.consumedBy[id]; consumed && owner != pieceID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Bind claims a target slot for a piece. Binding is sticky: it survives
// until Release. Claiming a slot consumed by another piece fails with
// ErrBindingConflict.
func (ms *MappingService) Bind(pieceID, targetID string) error {
	if owner, ok := ms.consumedBy[targetID]; ok && owner != pieceID {
		return ErrBindingConflict
	}
	if prev, ok := ms.boundTo[pieceID]; ok && prev != targetID {
		delete(ms.consumedBy, prev)
	}
	ms.consumedBy[targetID] = pieceID
	ms.boundTo[pieceID] = targetID
	return nil
}

// Release frees a piece's binding and consumption, drops it from every
// mapping's pair list, and invalidates any mapping anchored on it.
func (ms *MappingService) Release(pieceID string) {
	if tid, ok := ms.boundTo[pieceID]; ok {
		delete(ms.boundTo, pieceID)
		if ms.consumedBy[tid] == pieceID {
			delete(ms.consumedBy, tid)
		}
	}
	delete(ms.mappings, pieceID)
	for anchor, m := range ms.mappings {
		kept := m.Pairs[:0]
		for _, pair := range m.Pairs {
			if pair.PieceID != pieceID {
				kept = append(kept, pair)
			}
		}
		m.Pairs = kept
		if len(m.Pairs) == 0 {
			delete(ms.mappings, anchor)
		}
	}
}

// BoundTarget returns the target a piece is bound to, if any.
func (ms *MappingService) BoundTarget(pieceID string) (string, bool) {
	tid, ok := ms.boundTo[pieceID]
	return tid, ok
}

// ConsumedBy returns the piece consuming a target, if any.
func (ms *MappingService) ConsumedBy(targetID string) (string, bool) {
	pid, ok := ms.consumedBy[targetID]
	return pid, ok
}

// AllConsumed reports whether every installed slot is consumed.
func (ms *MappingService) AllConsumed() bool {
	return len(ms.targets) > 0 && len(ms.consumedBy) == len(ms.targets)
}

// SelectAnchor picks the anchor for a group: an already-validated member if
// one exists, otherwise the highest-importance shape closest to the group
// centroid. Returns ErrNoAnchor for an empty group.
func (ms *MappingService) SelectAnchor(group *ConstructionGroup, pieces map[string]*PieceInstance) (*PieceInstance, error) {
	var candidates []*PieceInstance
	for _, id := range group.Pieces {
		if p, ok := pieces[id]; ok {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoAnchor
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		av, bv := a.State == StateValidated, b.State == StateValidated
		if av != bv {
			return av
		}
		ai, bi := ShapeImportance(a.Shape), ShapeImportance(b.Shape)
		if ai != bi {
			return ai > bi
		}
		ad := Distance(a.Pose.Position, group.Centroid)
		bd := Distance(b.Pose.Position, group.Centroid)
		if ad != bd {
			return ad < bd
		}
		return a.ID < b.ID
	})
	return candidates[0], nil
}

// MappingFor returns the existing mapping whose anchor is a member of the
// group, or nil.
func (ms *MappingService) MappingFor(group *ConstructionGroup) *AnchorMapping {
	for _, id := range group.Pieces {
		if m, ok := ms.mappings[id]; ok {
			m.GroupID = group.ID
			return m
		}
	}
	return nil
}

// DeriveMapping computes the rigid transform taking the anchor's observed
// frame into target space and registers it keyed by the anchor piece. The
// rotation delta lives in the anchor's feature-angle space: a reading off by
// the shape's symmetry period is indistinguishable from the true orientation
// and must derive the same mapping.
func (ms *MappingService) DeriveMapping(group *ConstructionGroup, anchor *PieceInstance, target TargetSlot) *AnchorMapping {
	theta := reducePeriodic(target.Pose.Rotation-anchor.Pose.Rotation, SymmetryPeriod(anchor.Shape))
	cos := math.Cos(theta)
	sin := math.Sin(theta)

	m := &AnchorMapping{
		GroupID:      group.ID,
		AnchorPiece:  anchor.ID,
		AnchorTarget: target.ID,
		Theta:        theta,
		Translation: Point{
			X: target.Pose.Position.X - (cos*anchor.Pose.Position.X - sin*anchor.Pose.Position.Y),
			Y: target.Pose.Position.Y - (sin*anchor.Pose.Position.X + cos*anchor.Pose.Position.Y),
		},
		FlipParity: target.Pose.Flipped != anchor.Pose.Flipped,
		Pairs:      []MappingPair{{PieceID: anchor.ID, TargetID: target.ID}},
	}
	ms.mappings[anchor.ID] = m
	return m
}

// MappedPose maps an observed pose through a group mapping into target
// space.
func (ms *MappingService) MappedPose(m *AnchorMapping, observed Pose) Pose {
	cos := math.Cos(m.Theta)
	sin := math.Sin(m.Theta)
	return Pose{
		Position: Point{
			X: cos*observed.Position.X - sin*observed.Position.Y + m.Translation.X,
			Y: sin*observed.Position.X + cos*observed.Position.Y + m.Translation.Y,
		},
		Rotation: NormalizeAngle(observed.Rotation + m.Theta),
		Flipped:  m.FlipParity != observed.Flipped,
	}
}

// AddPair appends a (piece, target) correspondence to the mapping. Pairs
// with a duplicate piece or target are ignored. Returns true if the pair
// was added.
func (ms *MappingService) AddPair(m *AnchorMapping, pieceID, targetID string) bool {
	for _, pair := range m.Pairs {
		if pair.PieceID == pieceID || pair.TargetID == targetID {
			return false
		}
	}
	m.Pairs = append(m.Pairs, MappingPair{PieceID: pieceID, TargetID: targetID})
	return true
}

// Refine recomputes the mapping as a Procrustes rigid fit over all known
// pairs instead of the anchor pair alone. poseOf resolves a pair's current
// observed pose; pairs whose piece is gone are skipped. No-op below two
// resolvable pairs.
func (ms *MappingService) Refine(m *AnchorMapping, poseOf func(pieceID string) (Pose, bool)) {
	var source, target []Point
	for _, pair := range m.Pairs {
		pose, ok := poseOf(pair.PieceID)
		if !ok {
			continue
		}
		slot, ok := ms.targets[pair.TargetID]
		if !ok {
			continue
		}
		source = append(source, pose.Position)
		target = append(target, slot.Pose.Position)
	}
	if len(source) < 2 {
		return
	}

	fit := CalculateRigidFit(source, target)
	m.Theta = fit.Theta
	m.Translation = fit.T
}

// reducePeriodic returns the smallest-magnitude representative of an angle
// modulo the given period.
func reducePeriodic(rad, period float64) float64 {
	if period <= 0 {
		return normalizeSigned(rad)
	}
	rad = normalizeMod(rad, period)
	if rad > period/2 {
		rad -= period
	}
	return rad
}

// normalizeSigned wraps an angle to (-pi, pi].
func normalizeSigned(rad float64) float64 {
	rad = math.Mod(rad, 2*math.Pi)
	if rad > math.Pi {
		rad -= 2 * math.Pi
	} else if rad <= -math.Pi {
		rad += 2 * math.Pi
	}
	return rad
}
