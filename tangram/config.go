package tangram

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tolerances is a difficulty-dependent preset consumed by the validator,
// group manager, and lifecycle machine. Distances are in board units (the
// assembled tangram square has side 2), rotation in degrees.
type Tolerances struct {
	Position               float64       `yaml:"position" json:"position"`
	RotationDeg            float64       `yaml:"rotationDeg" json:"rotationDeg"`
	EdgeContact            float64       `yaml:"edgeContact" json:"edgeContact"`
	Connection             float64       `yaml:"connection" json:"connection"`
	InvalidStreakThreshold int           `yaml:"invalidStreakThreshold" json:"invalidStreakThreshold"`
	PlacementDelay         time.Duration `yaml:"placementDelay" json:"placementDelay"`
	NudgeCooldown          time.Duration `yaml:"nudgeCooldown" json:"nudgeCooldown"`
	SettleWindow           time.Duration `yaml:"settleWindow" json:"settleWindow"`
}

// RotationRad returns the rotation tolerance in radians.
func (t Tolerances) RotationRad() float64 {
	return t.RotationDeg * degToRad
}

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Validate rejects tolerance sets that would make validation degenerate.
func (t Tolerances) Validate() error {
	if t.Position <= 0 {
		return fmt.Errorf("position tolerance must be > 0, got %g", t.Position)
	}
	if t.RotationDeg <= 0 {
		return fmt.Errorf("rotation tolerance must be > 0, got %g", t.RotationDeg)
	}
	if t.EdgeContact <= 0 {
		return fmt.Errorf("edge contact tolerance must be > 0, got %g", t.EdgeContact)
	}
	if t.Connection <= 0 {
		return fmt.Errorf("connection threshold must be > 0, got %g", t.Connection)
	}
	if t.InvalidStreakThreshold < 1 {
		return fmt.Errorf("invalid streak threshold must be >= 1, got %d", t.InvalidStreakThreshold)
	}
	if t.PlacementDelay < 0 || t.NudgeCooldown < 0 || t.SettleWindow < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// DefaultTolerances returns the "normal" difficulty preset.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Position:               0.25,
		RotationDeg:            15,
		EdgeContact:            0.10,
		Connection:             0.15,
		InvalidStreakThreshold: 5,
		PlacementDelay:         500 * time.Millisecond,
		NudgeCooldown:          1200 * time.Millisecond,
		SettleWindow:           400 * time.Millisecond,
	}
}

// TolerancesForDifficulty returns the preset for a named difficulty:
// "easy", "normal" (default), or "hard".
func TolerancesForDifficulty(difficulty string) Tolerances {
	t := DefaultTolerances()
	switch difficulty {
	case "easy":
		t.Position = 0.35
		t.RotationDeg = 25
		t.EdgeContact = 0.15
		t.Connection = 0.20
	case "hard":
		t.Position = 0.15
		t.RotationDeg = 8
		t.EdgeContact = 0.06
		t.Connection = 0.10
	}
	return t
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// TableConfig identifies one physical play surface feeding observations.
type TableConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
}

// Config represents the full configuration file
type Config struct {
	MQTT       MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Tables     []TableConfig `yaml:"tables" json:"tables"`
	Difficulty string        `yaml:"difficulty,omitempty" json:"difficulty,omitempty"`
	PuzzleDir  string        `yaml:"puzzleDir,omitempty" json:"puzzleDir,omitempty"`

	// Tolerances overrides the difficulty preset field by field when set.
	Tolerances *Tolerances `yaml:"tolerances,omitempty" json:"tolerances,omitempty"`
}

// EffectiveTolerances resolves the difficulty preset plus explicit overrides.
func (c *Config) EffectiveTolerances() Tolerances {
	t := TolerancesForDifficulty(c.Difficulty)
	if o := c.Tolerances; o != nil {
		if o.Position > 0 {
			t.Position = o.Position
		}
		if o.RotationDeg > 0 {
			t.RotationDeg = o.RotationDeg
		}
		if o.EdgeContact > 0 {
			t.EdgeContact = o.EdgeContact
		}
		if o.Connection > 0 {
			t.Connection = o.Connection
		}
		if o.InvalidStreakThreshold > 0 {
			t.InvalidStreakThreshold = o.InvalidStreakThreshold
		}
		if o.PlacementDelay > 0 {
			t.PlacementDelay = o.PlacementDelay
		}
		if o.NudgeCooldown > 0 {
			t.NudgeCooldown = o.NudgeCooldown
		}
		if o.SettleWindow > 0 {
			t.SettleWindow = o.SettleWindow
		}
	}
	return t
}

// GetTableByID returns the table config for the given ID
func (c *Config) GetTableByID(id string) *TableConfig {
	for i := range c.Tables {
		if c.Tables[i].ID == id {
			return &c.Tables[i]
		}
	}
	return nil
}

// LoadConfig loads the unified configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	switch config.Difficulty {
	case "", "easy", "normal", "hard":
	default:
		return nil, fmt.Errorf("unknown difficulty %q", config.Difficulty)
	}
	for i, tc := range config.Tables {
		if tc.ID == "" {
			return nil, fmt.Errorf("table[%d].id is required", i)
		}
		if tc.Topic == "" {
			return nil, fmt.Errorf("table[%d].topic is required for %s", i, tc.ID)
		}
	}
	if err := config.EffectiveTolerances().Validate(); err != nil {
		return nil, fmt.Errorf("tolerances: %w", err)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
