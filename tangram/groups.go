package tangram

import (
	"math"
	"sort"
	"time"
)

// confidenceRamp is how long a group's members must sit still for the group
// to reach full confidence.
const confidenceRamp = 3 * time.Second

// jitterThreshold is the movement (board units) below which a re-observed
// pose counts as detection noise rather than a real move.
const jitterThreshold = 0.03

// GroupManager clusters placed pieces into spatially-connected construction
// groups and tracks the stability signals (confidence, attempt counters)
// that gate nudges and anchor promotion. Correctness never depends on
// confidence.
type GroupManager struct {
	lastPoses   map[string]Pose
	stableSince map[string]time.Time
	attempts    map[string]int

	groups  []*ConstructionGroup
	groupOf map[string]int
}

// NewGroupManager creates an empty group manager.
func NewGroupManager() *GroupManager {
	gm := &GroupManager{}
	gm.Reset()
	return gm
}

// Reset drops all clustering and stability state (new puzzle).
func (gm *GroupManager) Reset() {
	gm.lastPoses = make(map[string]Pose)
	gm.stableSince = make(map[string]time.Time)
	gm.attempts = make(map[string]int)
	gm.groups = nil
	gm.groupOf = make(map[string]int)
}

// UpdateGroups recomputes the construction groups from all pieces whose
// state participates in validation. Two pieces are connected when their
// polygon boundaries are within connectionThreshold; connected components
// come from union-find, single linkage.
func (gm *GroupManager) UpdateGroups(pieces []*PieceInstance, connectionThreshold float64, now time.Time) []*ConstructionGroup {
	// Track stability regardless of membership so confidence survives
	// regrouping.
	for _, p := range pieces {
		prev, seen := gm.lastPoses[p.ID]
		if !seen || Distance(prev.Position, p.Pose.Position) > jitterThreshold ||
			math.Abs(normalizeSigned(prev.Rotation-p.Pose.Rotation)) > jitterThreshold {
			gm.stableSince[p.ID] = now
		}
		gm.lastPoses[p.ID] = p.Pose
	}

	var members []*PieceInstance
	for _, p := range pieces {
		if p.State.CanValidate() || p.State == StateValidated {
			members = append(members, p)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	uf := newUnionFind(len(members))
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			// Cheap centroid pre-filter before the polygon distance.
			maxReach := PieceBoundRadius(members[i].Shape) + PieceBoundRadius(members[j].Shape) + connectionThreshold
			if Distance(members[i].Pose.Position, members[j].Pose.Position) > maxReach {
				continue
			}
			d := PieceDistance(members[i].Shape, members[i].Pose, members[j].Shape, members[j].Pose)
			if d <= connectionThreshold {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]*PieceInstance)
	for i := range members {
		root := uf.find(i)
		clusters[root] = append(clusters[root], members[i])
	}

	roots := make([]int, 0, len(clusters))
	for r := range clusters {
		roots = append(roots, r)
	}
	// Deterministic group numbering: order clusters by their first member ID.
	sort.Slice(roots, func(i, j int) bool {
		return clusters[roots[i]][0].ID < clusters[roots[j]][0].ID
	})

	gm.groups = nil
	gm.groupOf = make(map[string]int)
	for gid, root := range roots {
		cluster := clusters[root]
		group := &ConstructionGroup{ID: gid}

		var positions []Point
		newest := time.Time{}
		for _, p := range cluster {
			group.Pieces = append(group.Pieces, p.ID)
			gm.groupOf[p.ID] = gid
			positions = append(positions, p.Pose.Position)
			if s := gm.stableSince[p.ID]; s.After(newest) {
				newest = s
			}
		}
		group.Centroid = Centroid(positions)
		for _, p := range cluster {
			r := Distance(group.Centroid, p.Pose.Position) + PieceBoundRadius(p.Shape)
			if r > group.Radius {
				group.Radius = r
			}
		}

		// Confidence ramps up while every member has been still, resets
		// when the most recently disturbed member moved.
		if !newest.IsZero() {
			stable := now.Sub(newest)
			group.Confidence = math.Min(1, math.Max(0, float64(stable)/float64(confidenceRamp)))
		}

		gm.groups = append(gm.groups, group)
	}

	return gm.groups
}

// Groups returns the clusters from the most recent UpdateGroups call.
func (gm *GroupManager) Groups() []*ConstructionGroup {
	return gm.groups
}

// GroupFor returns the group containing pieceID, or nil.
func (gm *GroupManager) GroupFor(pieceID string) *ConstructionGroup {
	gid, ok := gm.groupOf[pieceID]
	if !ok || gid >= len(gm.groups) {
		return nil
	}
	return gm.groups[gid]
}

// RecordAttempt increments and returns the retry counter for a piece. The
// nudge escalator consumes these counts.
func (gm *GroupManager) RecordAttempt(pieceID string) int {
	gm.attempts[pieceID]++
	return gm.attempts[pieceID]
}

// Attempts returns the retry counter for a piece.
func (gm *GroupManager) Attempts(pieceID string) int {
	return gm.attempts[pieceID]
}

// ClearAttempts resets the retry counter, typically after a successful
// validation.
func (gm *GroupManager) ClearAttempts(pieceID string) {
	delete(gm.attempts, pieceID)
}

// unionFind implements a disjoint-set data structure with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
