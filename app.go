package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/playmat/tangram/tangram"
)

// AppOptions carries the CLI flags into the App.
type AppOptions struct {
	ConfigFile string
	PuzzleID   string
	PuzzleDir  string
	Difficulty string
	OutputFile string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// App encapsulates the service state: one validation engine per configured
// table, the loaded puzzle set, and the MQTT collaborators.
type App struct {
	Config     *tangram.Config
	Puzzles    map[string]*tangram.Puzzle
	Engines    map[string]*tangram.Engine
	MQTTClient *tangram.MQTTClient
	Publisher  *tangram.Publisher

	ConfigFile string
	PuzzleID   string
	PuzzleDir  string
	Difficulty string
	OutputFile string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// NewApp creates a new App instance.
func NewApp() *App {
	return &App{
		Puzzles: make(map[string]*tangram.Puzzle),
		Engines: make(map[string]*tangram.Engine),
	}
}

// ApplyOptions applies CLI options to the App instance.
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.PuzzleID = opts.PuzzleID
	a.PuzzleDir = opts.PuzzleDir
	a.Difficulty = opts.Difficulty
	a.OutputFile = opts.OutputFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadPuzzles assembles the puzzle set: built-ins first, then JSON files
// from the puzzle directory (which may shadow a built-in by reusing its ID).
func (a *App) loadPuzzles() error {
	a.Puzzles = make(map[string]*tangram.Puzzle)
	builtin := tangram.ClassicSquare()
	a.Puzzles[builtin.ID] = builtin

	dir := a.PuzzleDir
	if dir == "" && a.Config != nil {
		dir = a.Config.PuzzleDir
	}
	loaded, err := tangram.LoadPuzzleDir(dir)
	if err != nil {
		return err
	}
	for id, p := range loaded {
		a.Puzzles[id] = p
	}
	return nil
}

// loadConfig reads config.yaml. For render and list modes a missing file
// falls back to a single-table default so the binary works out of the box.
func (a *App) loadConfig(required bool) error {
	config, err := tangram.LoadConfig(a.ConfigFile)
	if err != nil {
		if required {
			return fmt.Errorf("loading config: %w (looked at %s)", err, a.ConfigFile)
		}
		config = &tangram.Config{
			Tables: []tangram.TableConfig{{ID: "table1", Topic: "tangram/table1/observations"}},
		}
	} else {
		log.Printf("Loaded config from %s", a.ConfigFile)
	}
	if a.Difficulty != "" {
		config.Difficulty = a.Difficulty
	}
	a.Config = config
	return nil
}

// effectiveTolerances resolves difficulty preset plus overrides.
func (a *App) effectiveTolerances() tangram.Tolerances {
	if a.Config != nil {
		return a.Config.EffectiveTolerances()
	}
	return tangram.TolerancesForDifficulty(a.Difficulty)
}

// activePuzzle resolves the puzzle selected by flag.
func (a *App) activePuzzle() (*tangram.Puzzle, error) {
	if p, ok := a.Puzzles[a.PuzzleID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown puzzle %q (have: %s)",
		a.PuzzleID, strings.Join(tangram.PuzzleIDs(a.Puzzles), ", "))
}

// newEngine builds a table's engine with callbacks wired to the publisher.
// The publisher may still be nil at call time; callbacks read the field at
// emission, so MQTT can attach later.
func (a *App) newEngine(tableID string, tol tangram.Tolerances) (*tangram.Engine, error) {
	callbacks := tangram.Callbacks{
		OnValidationChanged: func(targetID string, valid bool) {
			log.Printf("[ENGINE] table %s target %s valid=%t", tableID, targetID, valid)
			if a.Publisher != nil {
				if err := a.Publisher.PublishValidation(tableID, targetID, valid); err != nil {
					log.Printf("Error publishing validation for %s: %v", tableID, err)
				}
			}
		},
		OnPieceStateChanged: func(pieceID string, state tangram.PieceState) {
			if a.Publisher != nil {
				if err := a.Publisher.PublishPieceState(tableID, pieceID, state); err != nil {
					log.Printf("Error publishing piece state for %s: %v", tableID, err)
				}
			}
		},
		OnNudge: func(pieceID string, content tangram.NudgeContent) {
			log.Printf("[ENGINE] table %s nudge for %s: level=%s %s", tableID, pieceID, content.Level, content.Message)
			if a.Publisher != nil {
				if err := a.Publisher.PublishNudge(tableID, pieceID, content); err != nil {
					log.Printf("Error publishing nudge for %s: %v", tableID, err)
				}
			}
		},
		OnPuzzleCompleted: func() {
			log.Printf("[ENGINE] table %s puzzle completed", tableID)
			if a.Publisher != nil {
				if err := a.Publisher.PublishCompletion(tableID); err != nil {
					log.Printf("Error publishing completion for %s: %v", tableID, err)
				}
			}
		},
	}
	return tangram.NewEngine(tol, callbacks)
}

// RunListPuzzles prints the available puzzle IDs.
func (a *App) RunListPuzzles() {
	if err := a.loadConfig(false); err != nil {
		log.Fatalf("%v", err)
	}
	if err := a.loadPuzzles(); err != nil {
		log.Fatalf("Failed to load puzzles: %v", err)
	}
	for _, id := range tangram.PuzzleIDs(a.Puzzles) {
		p := a.Puzzles[id]
		fmt.Printf("  %-20s %s (%d targets)\n", id, p.Name, len(p.Targets))
	}
}

// RunRender writes the selected puzzle's target layout as an SVG or PNG.
func (a *App) RunRender() {
	if err := a.loadConfig(false); err != nil {
		log.Fatalf("%v", err)
	}
	if err := a.loadPuzzles(); err != nil {
		log.Fatalf("Failed to load puzzles: %v", err)
	}
	puzzle, err := a.activePuzzle()
	if err != nil {
		log.Fatalf("%v", err)
	}

	targets := make([]tangram.TargetStatus, 0, len(puzzle.Targets))
	for _, t := range puzzle.Targets {
		targets = append(targets, tangram.TargetStatus{TargetSlot: t})
	}
	renderer := tangram.NewBoardRenderer(targets, nil)

	outFile, err := os.Create(a.OutputFile)
	if err != nil {
		log.Fatalf("Error creating output file %s: %v", a.OutputFile, err)
	}
	defer func() {
		if err := outFile.Close(); err != nil {
			log.Printf("Warning: error closing output file %s: %v", a.OutputFile, err)
		}
	}()

	switch strings.ToLower(filepath.Ext(a.OutputFile)) {
	case ".png":
		err = renderer.RenderToPNG(outFile)
	default:
		err = renderer.RenderToSVG(outFile)
	}
	if err != nil {
		log.Fatalf("Error rendering %s: %v", a.OutputFile, err)
	}
	fmt.Printf("Created %s (%s)\n", a.OutputFile, puzzle.Name)
}

// RunService starts the combined MQTT and/or HTTP service.
func (a *App) RunService() {
	fmt.Println("Starting tangram service...")

	if err := a.loadConfig(true); err != nil {
		log.Fatalf("%v", err)
	}
	if err := a.loadPuzzles(); err != nil {
		log.Fatalf("Failed to load puzzles: %v", err)
	}
	puzzle, err := a.activePuzzle()
	if err != nil {
		log.Fatalf("%v", err)
	}

	tol := a.effectiveTolerances()
	for _, table := range a.Config.Tables {
		engine, err := a.newEngine(table.ID, tol)
		if err != nil {
			log.Fatalf("Failed to create engine for table %s: %v", table.ID, err)
		}
		if err := engine.LoadPuzzle(puzzle.Targets); err != nil {
			log.Fatalf("Failed to load puzzle for table %s: %v", table.ID, err)
		}
		a.Engines[table.ID] = engine
	}
	log.Printf("Loaded puzzle %q for %d table(s)", puzzle.ID, len(a.Engines))

	if a.MqttMode {
		handler := func(tableID string, rawPayload []byte, observations []tangram.Observation, err error) {
			if err != nil {
				log.Printf("Error decoding observations for %s: %v", tableID, err)
				return
			}
			engine, ok := a.Engines[tableID]
			if !ok {
				return
			}
			for _, obs := range observations {
				engine.ObservePiece(obs)
			}
		}

		mqttClient, err := tangram.InitMQTT(a.Config, handler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient

		mqttClient.SetControlHandler(func(tableID, command string) {
			a.handleControl(tableID, command)
		})

		a.Publisher = tangram.NewPublisher(mqttClient.GetClient())
		fmt.Println("MQTT event publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, tc := range a.Config.Tables {
			fmt.Printf("    - %s (%s)\n", tc.Topic, tc.ID)
		}
		publishPrefix := a.Config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "tangram"
		}
		fmt.Printf("  Publishing to: %s/{tableID}/validation, .../pieces, .../nudges, .../completed\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health       - Health check and engine stats")
		fmt.Println("  GET /api/pieces   - Piece states and poses")
		fmt.Println("  GET /api/targets  - Target slots with consumption and validity")
		fmt.Println("  GET /api/groups   - Construction groups")
		fmt.Println("  POST /api/validate - Trigger an immediate validation pass")
		fmt.Println("  POST /api/puzzle  - Load a puzzle (?id=...)")
		fmt.Println("  GET /board.svg    - Board snapshot (vector)")
		fmt.Println("  GET /board.png    - Board snapshot (raster)")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}

// handleControl dispatches a table's MQTT control command.
func (a *App) handleControl(tableID, command string) {
	engine, ok := a.Engines[tableID]
	if !ok {
		log.Printf("Control command for unknown table %s", tableID)
		return
	}

	switch {
	case command == "validate":
		engine.RequestValidationPass()
	case command == "reset":
		if err := a.loadPuzzleForTable(tableID, a.PuzzleID); err != nil {
			log.Printf("Error resetting table %s: %v", tableID, err)
		}
	case strings.HasPrefix(command, "load:"):
		id := strings.TrimPrefix(command, "load:")
		if err := a.loadPuzzleForTable(tableID, id); err != nil {
			log.Printf("Error loading puzzle %q for table %s: %v", id, tableID, err)
		}
	default:
		log.Printf("Unknown control command %q for table %s", command, tableID)
	}
}

// loadPuzzleForTable loads a puzzle by ID into one table's engine and clears
// the retained board snapshot.
func (a *App) loadPuzzleForTable(tableID, puzzleID string) error {
	engine, ok := a.Engines[tableID]
	if !ok {
		return fmt.Errorf("unknown table %s", tableID)
	}
	puzzle, ok := a.Puzzles[puzzleID]
	if !ok {
		return fmt.Errorf("unknown puzzle %q", puzzleID)
	}
	if err := engine.LoadPuzzle(puzzle.Targets); err != nil {
		return err
	}
	if a.Publisher != nil {
		if err := a.Publisher.ResetBoard(tableID); err != nil {
			log.Printf("Error clearing board snapshot for %s: %v", tableID, err)
		}
	}
	log.Printf("Table %s loaded puzzle %q", tableID, puzzleID)
	return nil
}

// engineFor resolves the engine for an HTTP request's table parameter,
// defaulting to the first configured table.
func (a *App) engineFor(tableID string) (*tangram.Engine, string, bool) {
	if tableID == "" && a.Config != nil && len(a.Config.Tables) > 0 {
		tableID = a.Config.Tables[0].ID
	}
	engine, ok := a.Engines[tableID]
	return engine, tableID, ok
}
