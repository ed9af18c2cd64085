package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/playmat/tangram/tangram"
)

// newHTTPServer creates the HTTP API. Every endpoint takes an optional
// ?table= parameter; it defaults to the first configured table.
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		engine, tableID, ok := app.engineFor(r.URL.Query().Get("table"))
		w.Header().Set("Content-Type", "application/json")

		status := struct {
			Status    string        `json:"status"`
			Timestamp time.Time     `json:"timestamp"`
			Table     string        `json:"table,omitempty"`
			Completed bool          `json:"completed"`
			Stats     tangram.Stats `json:"stats"`
			MQTT      bool          `json:"mqttConnected"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Table:     tableID,
		}
		if ok {
			status.Completed = engine.Completed()
			status.Stats = engine.Stats()
		}
		if app.MQTTClient != nil {
			status.MQTT = app.MQTTClient.IsConnected()
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/api/pieces", func(w http.ResponseWriter, r *http.Request) {
		engine, _, ok := app.engineFor(r.URL.Query().Get("table"))
		if !ok {
			http.Error(w, "Unknown table", http.StatusNotFound)
			return
		}
		writeJSON(w, engine.Pieces())
	})

	mux.HandleFunc("/api/targets", func(w http.ResponseWriter, r *http.Request) {
		engine, _, ok := app.engineFor(r.URL.Query().Get("table"))
		if !ok {
			http.Error(w, "Unknown table", http.StatusNotFound)
			return
		}
		writeJSON(w, engine.Targets())
	})

	mux.HandleFunc("/api/groups", func(w http.ResponseWriter, r *http.Request) {
		engine, _, ok := app.engineFor(r.URL.Query().Get("table"))
		if !ok {
			http.Error(w, "Unknown table", http.StatusNotFound)
			return
		}
		writeJSON(w, engine.Groups())
	})

	mux.HandleFunc("/api/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		engine, tableID, ok := app.engineFor(r.URL.Query().Get("table"))
		if !ok {
			http.Error(w, "Unknown table", http.StatusNotFound)
			return
		}
		engine.RequestValidationPass()
		log.Printf("[HTTP] validation pass requested for table %s", tableID)
		writeJSON(w, map[string]string{"status": "ok", "table": tableID})
	})

	mux.HandleFunc("/api/puzzle", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, tangram.PuzzleIDs(app.Puzzles))
		case http.MethodPost:
			_, tableID, ok := app.engineFor(r.URL.Query().Get("table"))
			if !ok {
				http.Error(w, "Unknown table", http.StatusNotFound)
				return
			}
			puzzleID := r.URL.Query().Get("id")
			if puzzleID == "" {
				http.Error(w, "id parameter required", http.StatusBadRequest)
				return
			}
			if err := app.loadPuzzleForTable(tableID, puzzleID); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]string{"status": "ok", "table": tableID, "puzzle": puzzleID})
		default:
			http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/board.svg", func(w http.ResponseWriter, r *http.Request) {
		engine, _, ok := app.engineFor(r.URL.Query().Get("table"))
		if !ok {
			http.Error(w, "Unknown table", http.StatusNotFound)
			return
		}
		renderer := tangram.NewBoardRenderer(engine.Targets(), engine.Pieces())
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding board SVG: %v", err)
		}
	})

	mux.HandleFunc("/board.png", func(w http.ResponseWriter, r *http.Request) {
		engine, _, ok := app.engineFor(r.URL.Query().Get("table"))
		if !ok {
			http.Error(w, "Unknown table", http.StatusNotFound)
			return
		}
		renderer := tangram.NewBoardRenderer(engine.Targets(), engine.Pieces())
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("Error encoding board PNG: %v", err)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
