package tangram

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Puzzle is a named target layout loaded from disk or built in. Targets use
// board units: the classic assembled square has side 2, centered at the
// origin.
type Puzzle struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Targets []TargetSlot `json:"targets"`
}

// Validate performs the same structural checks the engine applies on load,
// so a bad puzzle file is reported at startup instead of at play time.
func (p *Puzzle) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("puzzle has no id")
	}
	if len(p.Targets) == 0 {
		return fmt.Errorf("puzzle %s has no targets", p.ID)
	}
	seen := make(map[string]bool, len(p.Targets))
	for i, t := range p.Targets {
		if t.ID == "" {
			return fmt.Errorf("puzzle %s: target[%d] has empty id", p.ID, i)
		}
		if seen[t.ID] {
			return fmt.Errorf("puzzle %s: duplicate target id %q", p.ID, t.ID)
		}
		seen[t.ID] = true
		if !IsKnownShape(t.Shape) {
			return fmt.Errorf("puzzle %s: target %q has unknown shape %q", p.ID, t.ID, t.Shape)
		}
		if _, ok := SanitizePose(t.Pose); !ok {
			return fmt.Errorf("puzzle %s: target %q has non-finite pose", p.ID, t.ID)
		}
	}
	return nil
}

// LoadPuzzleFile loads and validates a single puzzle from a JSON file. A
// puzzle without an explicit id takes the file's base name.
func LoadPuzzleFile(path string) (*Puzzle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading puzzle file: %w", err)
	}

	var puzzle Puzzle
	if err := json.Unmarshal(data, &puzzle); err != nil {
		return nil, fmt.Errorf("parsing puzzle JSON %s: %w", path, err)
	}
	if puzzle.ID == "" {
		puzzle.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := puzzle.Validate(); err != nil {
		return nil, err
	}
	return &puzzle, nil
}

// LoadPuzzleDir loads every *.json puzzle in a directory, keyed by puzzle
// ID. A missing directory is not an error; the built-in puzzles still work.
func LoadPuzzleDir(dir string) (map[string]*Puzzle, error) {
	puzzles := make(map[string]*Puzzle)
	if dir == "" {
		return puzzles, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return puzzles, nil
		}
		return nil, fmt.Errorf("reading puzzle directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		puzzle, err := LoadPuzzleFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := puzzles[puzzle.ID]; dup {
			return nil, fmt.Errorf("duplicate puzzle id %q", puzzle.ID)
		}
		puzzles[puzzle.ID] = puzzle
	}
	return puzzles, nil
}

// PuzzleIDs returns the sorted keys of a puzzle set.
func PuzzleIDs(puzzles map[string]*Puzzle) []string {
	ids := make([]string, 0, len(puzzles))
	for id := range puzzles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClassicSquare returns the canonical assembled-square layout. Poses are
// centroid positions of each tan when the side-2 square is centered at the
// origin.
func ClassicSquare() *Puzzle {
	return &Puzzle{
		ID:   "classic-square",
		Name: "Classic Square",
		Targets: []TargetSlot{
			{ID: "large-1", Shape: ShapeLargeTriangle, Pose: Pose{
				Position: Point{X: 0, Y: 2.0 / 3.0}, Rotation: math.Pi / 4,
			}},
			{ID: "large-2", Shape: ShapeLargeTriangle, Pose: Pose{
				Position: Point{X: -2.0 / 3.0, Y: 0}, Rotation: 3 * math.Pi / 4,
			}},
			{ID: "medium-1", Shape: ShapeMediumTriangle, Pose: Pose{
				Position: Point{X: 2.0 / 3.0, Y: -2.0 / 3.0}, Rotation: math.Pi / 2,
			}},
			{ID: "small-1", Shape: ShapeSmallTriangle, Pose: Pose{
				Position: Point{X: 0, Y: -1.0 / 3.0}, Rotation: 5 * math.Pi / 4,
			}},
			{ID: "small-2", Shape: ShapeSmallTriangle, Pose: Pose{
				Position: Point{X: 5.0 / 6.0, Y: 0.5}, Rotation: 7 * math.Pi / 4,
			}},
			{ID: "square-1", Shape: ShapeSquare, Pose: Pose{
				Position: Point{X: 0.5, Y: 0}, Rotation: math.Pi / 4,
			}},
			{ID: "parallelogram-1", Shape: ShapeParallelogram, Pose: Pose{
				Position: Point{X: -0.25, Y: -0.75}, Rotation: 0,
			}},
		},
	}
}
