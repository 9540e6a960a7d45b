package output

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"compass-ng/internal/heading"
)

const publishTimeout = 2 * time.Second

// publisher is the slice of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTConfig struct {
	Broker        string
	ClientID      string
	TopicHeading  string
	TopicCardinal string
}

// MQTT publishes updates retained on TopicHeading (late subscribers get the
// current heading) and cardinal events unretained on TopicCardinal.
type MQTT struct {
	cfg    MQTTConfig
	client publisher
}

var connectMQTTFn = func(cfg MQTTConfig) (publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) {
		// ConnectRetry keeps trying in the background.
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	c, err := connectMQTTFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("output: mqtt connect %s: %w", cfg.Broker, err)
	}
	return &MQTT{cfg: cfg, client: c}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) WriteUpdate(u heading.HeadingUpdate) error {
	return m.publish(m.cfg.TopicHeading, true, u)
}

func (m *MQTT) WriteCardinal(e heading.CardinalEvent) error {
	return m.publish(m.cfg.TopicCardinal, false, e)
}

func (m *MQTT) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
