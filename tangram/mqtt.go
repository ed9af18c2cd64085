package tangram

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ObservationHandler is called for each decoded observation batch.
// Parameters: tableID, rawPayload, observations, error. rawPayload is
// provided so callers can log or archive undecodable frames.
type ObservationHandler func(tableID string, rawPayload []byte, observations []Observation, err error)

// ControlHandler is called when a table publishes a control command
// ("validate" requests an immediate validation pass, "reset" clears state).
type ControlHandler func(tableID, command string)

// MQTTClient manages the MQTT connection and per-table subscriptions for
// piece observation streams.
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	handler        ObservationHandler
	controlHandler ControlHandler
	isConnected    bool
	mu             sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided
// configuration. If MQTT_BROKER env var is empty and no broker is configured,
// MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler ObservationHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Tables) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no table configuration provided")
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "tangram"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // preserve subscriptions on reconnect
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to table topics...")
	c.setConnected(true)

	for _, table := range c.config.Tables {
		if table.Topic == "" {
			log.Printf("[MQTT] warning: table %s has no topic configured", table.ID)
			continue
		}

		log.Printf("[MQTT] subscribing to %s for table %s", table.Topic, table.ID)
		token := client.Subscribe(table.Topic, 0, c.createObservationHandler(table.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", table.Topic, token.Error())
		}

		if controlTopic, ok := deriveControlTopic(table.Topic); ok {
			token := client.Subscribe(controlTopic, 0, c.createControlHandler(table.ID))
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				log.Printf("[MQTT] error subscribing to %s: %v", controlTopic, token.Error())
			}
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createObservationHandler creates a handler for a table's observation topic.
func (c *MQTTClient) createObservationHandler(tableID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()

		observations, err := DecodeObservations(payload)
		if err != nil {
			log.Printf("[MQTT] error decoding observations for %s: %v", tableID, err)
			if c.handler != nil {
				c.handler(tableID, payload, nil, err)
			}
			return
		}
		if c.handler != nil {
			c.handler(tableID, payload, observations, nil)
		}
	}
}

// SetControlHandler registers the callback for table control commands.
func (c *MQTTClient) SetControlHandler(handler ControlHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controlHandler = handler
}

func (c *MQTTClient) getControlHandler() ControlHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controlHandler
}

// deriveControlTopic converts an observation topic to its control topic.
// Example: "tangram/table1/observations" -> "tangram/table1/control".
func deriveControlTopic(observationTopic string) (string, bool) {
	parts := strings.Split(observationTopic, "/")
	if len(parts) < 2 {
		return "", false
	}
	parts[len(parts)-1] = "control"
	return strings.Join(parts, "/"), true
}

// controlPayload is the JSON structure of a table control message.
type controlPayload struct {
	Command string `json:"command"`
}

func (c *MQTTClient) createControlHandler(tableID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()

		var command string
		var control controlPayload
		if err := json.Unmarshal(payload, &control); err == nil && control.Command != "" {
			command = control.Command
		} else {
			// Plain-string commands are accepted for hand-testing with
			// mosquitto_pub.
			command = strings.TrimSpace(string(payload))
			command = strings.Trim(command, `"`)
		}
		if command == "" {
			return
		}

		log.Printf("[MQTT] table %s control command: %s", tableID, command)
		if handler := c.getControlHandler(); handler != nil {
			handler(tableID, command)
		}
	}
}

// DecodeObservations parses an observation payload. Both a single JSON
// object and a JSON array (one detector frame) are accepted.
func DecodeObservations(payload []byte) ([]Observation, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, fmt.Errorf("empty observation payload")
	}

	if strings.HasPrefix(trimmed, "[") {
		var batch []Observation
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, fmt.Errorf("parsing observation batch: %w", err)
		}
		return batch, nil
	}

	var single Observation
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("parsing observation: %w", err)
	}
	return []Observation{single}, nil
}

// IsConnected returns true if the MQTT client is connected.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetTableByTopic returns the table ID for a given observation topic.
func (c *MQTTClient) GetTableByTopic(topic string) (string, bool) {
	for _, table := range c.config.Tables {
		if table.Topic == topic {
			return table.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler ObservationHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
}
