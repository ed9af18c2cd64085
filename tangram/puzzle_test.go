package tangram

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestClassicSquare(t *testing.T) {
	puzzle := ClassicSquare()
	if err := puzzle.Validate(); err != nil {
		t.Fatalf("built-in puzzle invalid: %v", err)
	}
	if len(puzzle.Targets) != 7 {
		t.Fatalf("targets = %d, want 7", len(puzzle.Targets))
	}

	counts := make(map[PieceShape]int)
	for _, slot := range puzzle.Targets {
		counts[slot.Shape]++
	}
	want := map[PieceShape]int{
		ShapeLargeTriangle:  2,
		ShapeMediumTriangle: 1,
		ShapeSmallTriangle:  2,
		ShapeSquare:         1,
		ShapeParallelogram:  1,
	}
	for shape, n := range want {
		if counts[shape] != n {
			t.Errorf("%s count = %d, want %d", shape, counts[shape], n)
		}
	}

	// Every posed tan must stay inside the assembled side-2 square centered
	// at the origin.
	const bound = 1 + 1e-9
	for _, slot := range puzzle.Targets {
		poly := PiecePolygon(slot.Shape, slot.Pose)
		for _, v := range poly[0] {
			if math.Abs(v[0]) > bound || math.Abs(v[1]) > bound {
				t.Errorf("target %s vertex (%.4f, %.4f) outside the unit-2 square", slot.ID, v[0], v[1])
			}
		}
	}
}

func TestPuzzleValidate(t *testing.T) {
	tests := []struct {
		name   string
		puzzle Puzzle
	}{
		{"no id", Puzzle{Targets: []TargetSlot{{ID: "a", Shape: ShapeSquare}}}},
		{"no targets", Puzzle{ID: "p"}},
		{"empty target id", Puzzle{ID: "p", Targets: []TargetSlot{{Shape: ShapeSquare}}}},
		{"duplicate target id", Puzzle{ID: "p", Targets: []TargetSlot{
			{ID: "a", Shape: ShapeSquare},
			{ID: "a", Shape: ShapeSquare},
		}}},
		{"unknown shape", Puzzle{ID: "p", Targets: []TargetSlot{{ID: "a", Shape: PieceShape("blob")}}}},
		{"non-finite pose", Puzzle{ID: "p", Targets: []TargetSlot{{
			ID: "a", Shape: ShapeSquare,
			Pose: Pose{Position: Point{X: math.Inf(1)}},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.puzzle.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadPuzzleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.json")
	content := `{
		"name": "Cat",
		"targets": [
			{"id": "head", "shape": "square", "pose": {"position": {"x": 0, "y": 1}, "rotation": 0.785}},
			{"id": "body", "shape": "largeTriangle", "pose": {"position": {"x": 0, "y": 0}, "rotation": 0}}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	puzzle, err := LoadPuzzleFile(path)
	if err != nil {
		t.Fatalf("LoadPuzzleFile: %v", err)
	}
	// Missing id falls back to the file base name.
	if puzzle.ID != "cat" {
		t.Errorf("ID = %q, want cat", puzzle.ID)
	}
	if len(puzzle.Targets) != 2 || puzzle.Targets[0].Shape != ShapeSquare {
		t.Errorf("targets = %+v", puzzle.Targets)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"targets": [`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPuzzleFile(bad); err == nil {
		t.Error("malformed JSON should fail")
	}
	if _, err := LoadPuzzleFile(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoadPuzzleDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, id string) {
		t.Helper()
		content := `{"id": "` + id + `", "targets": [{"id": "a", "shape": "square", "pose": {}}]}`
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("one.json", "bird")
	write("two.json", "fish")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0644); err != nil {
		t.Fatal(err)
	}

	puzzles, err := LoadPuzzleDir(dir)
	if err != nil {
		t.Fatalf("LoadPuzzleDir: %v", err)
	}
	if len(puzzles) != 2 {
		t.Fatalf("loaded %d puzzles, want 2", len(puzzles))
	}
	if got := PuzzleIDs(puzzles); got[0] != "bird" || got[1] != "fish" {
		t.Errorf("PuzzleIDs = %v, want sorted [bird fish]", got)
	}

	// Duplicate IDs across files are an error.
	write("three.json", "bird")
	if _, err := LoadPuzzleDir(dir); err == nil {
		t.Error("duplicate puzzle id should fail")
	}
}

func TestLoadPuzzleDirMissing(t *testing.T) {
	puzzles, err := LoadPuzzleDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(puzzles) != 0 {
		t.Errorf("puzzles = %v, want empty", puzzles)
	}

	puzzles, err = LoadPuzzleDir("")
	if err != nil || len(puzzles) != 0 {
		t.Errorf("empty dir string: %v %v", puzzles, err)
	}
}
