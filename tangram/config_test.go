package tangram

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  broker: tcp://localhost:1883
  publishPrefix: tangram
  clientId: test-client
tables:
  - id: table1
    topic: tangram/table1/observations
  - id: table2
    topic: tangram/table2/observations
difficulty: easy
puzzleDir: ./puzzles
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if config.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q", config.MQTT.Broker)
	}
	if len(config.Tables) != 2 {
		t.Fatalf("Tables = %d, want 2", len(config.Tables))
	}
	if tc := config.GetTableByID("table2"); tc == nil || tc.Topic != "tangram/table2/observations" {
		t.Errorf("GetTableByID(table2) = %+v", tc)
	}
	if config.GetTableByID("nope") != nil {
		t.Error("GetTableByID should return nil for unknown table")
	}
	if config.Difficulty != "easy" {
		t.Errorf("Difficulty = %q", config.Difficulty)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown difficulty",
			content: `
difficulty: brutal
`,
		},
		{
			name: "table missing id",
			content: `
tables:
  - topic: tangram/t/observations
`,
		},
		{
			name: "table missing topic",
			content: `
tables:
  - id: table1
`,
		},
		{
			name:    "invalid yaml",
			content: "tables: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig() expected error, got nil")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	original := &Config{
		MQTT:       MQTTConfig{Broker: "tcp://broker:1883", PublishPrefix: "tangram"},
		Tables:     []TableConfig{{ID: "table1", Topic: "tangram/table1/observations"}},
		Difficulty: "hard",
	}
	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.MQTT.Broker != original.MQTT.Broker || loaded.Difficulty != original.Difficulty {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestTolerancesForDifficulty(t *testing.T) {
	easy := TolerancesForDifficulty("easy")
	normal := TolerancesForDifficulty("normal")
	hard := TolerancesForDifficulty("hard")

	if !(easy.Position > normal.Position && normal.Position > hard.Position) {
		t.Errorf("position tolerances not ordered: easy %v normal %v hard %v",
			easy.Position, normal.Position, hard.Position)
	}
	if !(easy.RotationDeg > normal.RotationDeg && normal.RotationDeg > hard.RotationDeg) {
		t.Errorf("rotation tolerances not ordered")
	}
	// Unknown difficulty falls back to the normal preset.
	if TolerancesForDifficulty("wat") != normal {
		t.Error("unknown difficulty should use the normal preset")
	}
	for _, tol := range []Tolerances{easy, normal, hard} {
		if err := tol.Validate(); err != nil {
			t.Errorf("preset failed validation: %v", err)
		}
	}
}

func TestEffectiveTolerancesOverrides(t *testing.T) {
	config := &Config{
		Difficulty: "hard",
		Tolerances: &Tolerances{
			Position:       0.2,
			PlacementDelay: 50 * time.Millisecond,
		},
	}
	tol := config.EffectiveTolerances()

	if tol.Position != 0.2 {
		t.Errorf("Position = %v, want override 0.2", tol.Position)
	}
	if tol.PlacementDelay != 50*time.Millisecond {
		t.Errorf("PlacementDelay = %v, want override 50ms", tol.PlacementDelay)
	}
	// Fields left zero in the override keep the preset value.
	if tol.RotationDeg != TolerancesForDifficulty("hard").RotationDeg {
		t.Errorf("RotationDeg = %v, want hard preset", tol.RotationDeg)
	}
}

func TestTolerancesValidate(t *testing.T) {
	good := DefaultTolerances()
	if err := good.Validate(); err != nil {
		t.Fatalf("default tolerances invalid: %v", err)
	}

	bad := good
	bad.RotationDeg = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero rotation tolerance should fail validation")
	}

	bad = good
	bad.InvalidStreakThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero streak threshold should fail validation")
	}

	bad = good
	bad.NudgeCooldown = -time.Second
	if err := bad.Validate(); err == nil {
		t.Error("negative cooldown should fail validation")
	}
}
