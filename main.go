package main

import (
	"flag"
	"fmt"

	"github.com/playmat/tangram/tangram"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile  = flag.String("config", "config.yaml", "Path to configuration file")
	puzzleFlag  = flag.String("puzzle", "classic-square", "Puzzle ID to load at startup")
	puzzleDir   = flag.String("puzzle-dir", "", "Directory containing puzzle JSON files (overrides config)")
	difficulty  = flag.String("difficulty", "", "Difficulty preset: easy, normal, or hard (overrides config)")
	mqttMode    = flag.Bool("mqtt", false, "Run MQTT service mode for live piece observations")
	httpMode    = flag.Bool("http", false, "Enable HTTP server for board state and snapshots")
	httpPort    = flag.Int("http-port", 8080, "HTTP server port (default 8080)")
	renderOnly  = flag.Bool("render", false, "Render the puzzle target layout and exit")
	outputFile  = flag.String("output", "board.svg", "Output file for --render mode (.svg or .png)")
	listPuzzles = flag.Bool("list-puzzles", false, "List available puzzles and exit")
)

func main() {
	flag.Parse()
	fmt.Printf("tangram version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile: *configFile,
		PuzzleID:   *puzzleFlag,
		PuzzleDir:  *puzzleDir,
		Difficulty: *difficulty,
		HttpPort:   *httpPort,
		OutputFile: *outputFile,
		MqttMode:   *mqttMode,
		HttpMode:   *httpMode,
	})

	if *listPuzzles {
		app.RunListPuzzles()
		return
	}

	if *renderOnly {
		app.RunRender()
		return
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return
	}

	fmt.Println("tangram placement service")
	fmt.Println("Use --mqtt to consume live piece observations from the broker")
	fmt.Println("Use --http to serve board state and snapshot images")
	fmt.Println("Use --mqtt --http to run both together")
	fmt.Println("Use --render to write the puzzle target layout as an image")
	fmt.Println("Use --list-puzzles to show available puzzles")
	fmt.Println("\nConfiguration:")
	fmt.Println("  config.yaml - MQTT settings, tables, difficulty, tolerance overrides")
	fmt.Printf("  puzzles: built-in %q plus *.json files in the puzzle directory\n", tangram.ClassicSquare().ID)
}
