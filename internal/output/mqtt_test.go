package output

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"compass-ng/internal/heading"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	pubs         []published
	token        *fakeToken
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.pubs = append(p.pubs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func newTestMQTT(t *testing.T, pub *fakePublisher) *MQTT {
	t.Helper()
	old := connectMQTTFn
	t.Cleanup(func() { connectMQTTFn = old })
	connectMQTTFn = func(MQTTConfig) (publisher, error) { return pub, nil }
	m, err := NewMQTT(MQTTConfig{Broker: "tcp://localhost:1883", TopicHeading: "compass/heading", TopicCardinal: "compass/cardinal"})
	if err != nil {
		t.Fatalf("NewMQTT() error: %v", err)
	}
	return m
}

func TestMQTT_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestMQTT(t, pub)

	if err := m.WriteUpdate(heading.HeadingUpdate{Heading: 91.5, Rounded: 92, Label: "E", Sector: heading.East}); err != nil {
		t.Fatalf("WriteUpdate() error: %v", err)
	}
	if err := m.WriteCardinal(heading.CardinalEvent{Direction: heading.East, Label: "E", Heading: 91.5}); err != nil {
		t.Fatalf("WriteCardinal() error: %v", err)
	}
	if len(pub.pubs) != 2 {
		t.Fatalf("pubs=%d want 2", len(pub.pubs))
	}
	if pub.pubs[0].topic != "compass/heading" || !pub.pubs[0].retained {
		t.Fatalf("update pub=%+v", pub.pubs[0])
	}
	if pub.pubs[1].topic != "compass/cardinal" || pub.pubs[1].retained {
		t.Fatalf("cardinal pub=%+v", pub.pubs[1])
	}

	var got map[string]any
	if err := json.Unmarshal(pub.pubs[0].payload, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got["rounded_deg"] != float64(92) || got["sector"] != "E" {
		t.Fatalf("payload=%s", pub.pubs[0].payload)
	}

	if err := m.Close(); err != nil || !pub.disconnected {
		t.Fatalf("Close()=%v disconnected=%v", err, pub.disconnected)
	}
}

func TestMQTT_PublishErrors(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{timeout: true}}
	m := newTestMQTT(t, pub)
	if err := m.WriteUpdate(heading.HeadingUpdate{}); err == nil {
		t.Fatalf("expected timeout error")
	}
	pub.token = &fakeToken{err: errors.New("not connected")}
	if err := m.WriteUpdate(heading.HeadingUpdate{}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestNewMQTT_ConnectError(t *testing.T) {
	old := connectMQTTFn
	t.Cleanup(func() { connectMQTTFn = old })
	connectMQTTFn = func(MQTTConfig) (publisher, error) { return nil, errors.New("refused") }
	if _, err := NewMQTT(MQTTConfig{Broker: "tcp://nowhere:1883"}); err == nil {
		t.Fatalf("expected error")
	}
}
