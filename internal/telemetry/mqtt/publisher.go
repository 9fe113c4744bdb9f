// Package mqtt bridges supervisor events to an MQTT broker.
//
// The publisher implements the supervisor event sink so field tooling
// can watch wheelchair state over a standard broker without talking to
// the controller's HTTP API.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MPZ-00/m5squared/internal/drive"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 0
)

// Publisher publishes supervisor events to MQTT topics under a
// configurable prefix: <prefix>/state, <prefix>/telemetry, <prefix>/fault.
type Publisher struct {
	client paho.Client
	prefix string
}

// Connect dials the broker and returns a ready publisher. Auto-reconnect
// stays enabled for the life of the client.
func Connect(broker, clientID, topicPrefix string) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(client paho.Client) {
		log.Printf("mqtt: connected to broker %s", broker)
	}
	opts.OnConnectionLost = func(client paho.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", broker, err)
	}

	return &Publisher{client: client, prefix: topicPrefix}, nil
}

// PublishState publishes a state transition to <prefix>/state.
func (p *Publisher) PublishState(oldState, newState drive.SupervisorState) {
	p.publish("state", map[string]any{
		"from": oldState.String(),
		"to":   newState.String(),
		"ts":   time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishTelemetry publishes a vehicle snapshot to <prefix>/telemetry.
func (p *Publisher) PublishTelemetry(state drive.VehicleState) {
	p.publish("telemetry", state)
}

// PublishFault publishes a failsafe reason to <prefix>/fault.
func (p *Publisher) PublishFault(reason string) {
	p.publish("fault", map[string]any{
		"reason": reason,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}

// publish marshals the payload and fires it at the broker. Publish
// failures are logged, never propagated: telemetry must not stall the
// control loop.
func (p *Publisher) publish(subtopic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqtt: failed to marshal %s payload: %v", subtopic, err)
		return
	}
	topic := p.prefix + "/" + subtopic
	token := p.client.Publish(topic, publishQoS, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish to %s failed: %v", topic, err)
		}
	}()
}

// Close disconnects from the broker after flushing in-flight messages.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
