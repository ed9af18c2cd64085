package tangram

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ValidationEvent is the outbound payload for a target validity flip.
type ValidationEvent struct {
	TableID   string `json:"tableId"`
	TargetID  string `json:"targetId"`
	Valid     bool   `json:"valid"`
	Timestamp int64  `json:"timestamp"`
}

// StateEvent is the outbound payload for a piece lifecycle transition.
type StateEvent struct {
	TableID   string     `json:"tableId"`
	PieceID   string     `json:"pieceId"`
	State     PieceState `json:"state"`
	Timestamp int64      `json:"timestamp"`
}

// NudgeEvent is the outbound payload for a surfaced hint.
type NudgeEvent struct {
	TableID   string `json:"tableId"`
	PieceID   string `json:"pieceId"`
	Level     string `json:"level"`
	Message   string `json:"message,omitempty"`
	Ghost     *Pose  `json:"ghost,omitempty"`
	Direction *Point `json:"direction,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// CompletionEvent is the outbound payload emitted once per solved puzzle.
type CompletionEvent struct {
	TableID   string `json:"tableId"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher publishes engine events to MQTT. Validation snapshots are
// retained so late subscribers see the current board immediately; piece
// state and nudge events are fire and forget.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte

	validity map[string]bool // target ID -> last published validity
	mu       sync.RWMutex
}

// NewPublisher creates an event publisher. If client is nil, publishing is
// disabled (for testing).
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "tangram"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		validity:      make(map[string]bool),
	}
}

// PublishValidation publishes a target validity flip to both the individual
// event topic and the retained board snapshot topic.
func (p *Publisher) PublishValidation(tableID, targetID string, valid bool) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	event := ValidationEvent{
		TableID:   tableID,
		TargetID:  targetID,
		Valid:     valid,
		Timestamp: time.Now().Unix(),
	}

	p.mu.Lock()
	p.validity[targetID] = valid
	p.mu.Unlock()

	topic := fmt.Sprintf("%s/%s/validation", p.publishPrefix, tableID)
	if err := p.publish(topic, false, event); err != nil {
		log.Printf("[MQTT] error publishing validation for %s/%s: %v", tableID, targetID, err)
		return err
	}
	return p.publishSnapshot(tableID)
}

// publishSnapshot publishes the retained validity map for a table.
func (p *Publisher) publishSnapshot(tableID string) error {
	p.mu.RLock()
	validity := make(map[string]bool, len(p.validity))
	for id, v := range p.validity {
		validity[id] = v
	}
	p.mu.RUnlock()

	topic := fmt.Sprintf("%s/%s/board", p.publishPrefix, tableID)
	message := map[string]interface{}{
		"targets":   validity,
		"timestamp": time.Now().Unix(),
	}
	return p.publish(topic, true, message)
}

// PublishPieceState publishes a piece lifecycle transition.
func (p *Publisher) PublishPieceState(tableID, pieceID string, state PieceState) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s/pieces", p.publishPrefix, tableID)
	return p.publish(topic, false, StateEvent{
		TableID:   tableID,
		PieceID:   pieceID,
		State:     state,
		Timestamp: time.Now().Unix(),
	})
}

// PublishNudge publishes a surfaced hint.
func (p *Publisher) PublishNudge(tableID, pieceID string, content NudgeContent) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s/nudges", p.publishPrefix, tableID)
	return p.publish(topic, false, NudgeEvent{
		TableID:   tableID,
		PieceID:   pieceID,
		Level:     content.Level.String(),
		Message:   content.Message,
		Ghost:     content.Ghost,
		Direction: content.Direction,
		Timestamp: time.Now().Unix(),
	})
}

// PublishCompletion publishes the puzzle-solved event, retained so a display
// that reconnects still shows the celebration.
func (p *Publisher) PublishCompletion(tableID string) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s/completed", p.publishPrefix, tableID)
	return p.publish(topic, true, CompletionEvent{
		TableID:   tableID,
		Timestamp: time.Now().Unix(),
	})
}

// ResetBoard clears the retained validity snapshot (new puzzle loaded).
func (p *Publisher) ResetBoard(tableID string) error {
	p.mu.Lock()
	p.validity = make(map[string]bool)
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return nil
	}
	return p.publishSnapshot(tableID)
}

// Validity returns the last published validity for a target.
func (p *Publisher) Validity(targetID string) (bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.validity[targetID]
	return v, ok
}

func (p *Publisher) publish(topic string, retain bool, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2).
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}
