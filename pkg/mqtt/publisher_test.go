package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/nr-codec/pkg/harq"
	paho "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	done chan struct{}
}

func newDoneToken() *doneToken {
	t := &doneToken{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return nil }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return newDoneToken()
}

func (f *fakeClient) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

var _ harq.Sink = (*Publisher)(nil)

func TestNewPublisher(t *testing.T) {
	config := Config{
		Enabled:     true,
		Broker:      "tcp://localhost:1883",
		TopicPrefix: "nr/test",
		ClientID:    "test-client",
		QoS:         1,
	}

	pub := New(config, nil)
	if pub == nil {
		t.Fatal("Expected non-nil publisher")
	}
	if pub.config.Broker != config.Broker {
		t.Errorf("Expected broker %s, got %s", config.Broker, pub.config.Broker)
	}
}

func TestPublisher_StartWhenDisabled(t *testing.T) {
	pub := New(Config{Enabled: false}, nil)

	if err := pub.Start(context.Background()); err != nil {
		t.Errorf("Expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Stop(t *testing.T) {
	pub := New(Config{Enabled: false}, nil)

	// Should not panic when stopping without starting
	pub.Stop()
}

func TestPublisher_DisabledIsNoop(t *testing.T) {
	pub := New(Config{Enabled: false, TopicPrefix: "nr/test"}, nil)
	fake := &fakeClient{}
	pub.client = fake

	pub.Indicate(harq.Indication{RNTI: 1, OK: true})
	if err := pub.PublishSweepPoint(SweepPointEvent{RunID: "r"}); err != nil {
		t.Errorf("Expected no error when disabled, got %v", err)
	}
	if n := len(fake.all()); n != 0 {
		t.Errorf("Expected nothing published when disabled, got %d", n)
	}
}

func TestPublisher_NotConnected(t *testing.T) {
	pub := New(Config{Enabled: true, TopicPrefix: "nr/test"}, nil)
	if err := pub.PublishSweepPoint(SweepPointEvent{RunID: "r"}); err == nil {
		t.Error("Expected error when not connected")
	}
}

func TestPublisher_Indicate(t *testing.T) {
	pub := New(Config{Enabled: true, TopicPrefix: "nr/test", QoS: 1, Retained: true}, nil)
	fake := &fakeClient{}
	pub.client = fake

	pub.Indicate(harq.Indication{RNTI: 0x4601, PID: 3, OK: true, Round: 1, TBSize: 100, Payload: []byte{1, 2, 3}})

	msgs := fake.all()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.topic != "nr/test/indications/17921" {
		t.Errorf("unexpected topic %q", m.topic)
	}
	if m.qos != 1 || !m.retained {
		t.Errorf("unexpected qos/retained %d/%v", m.qos, m.retained)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["pid"] != float64(3) || got["ok"] != true || got["round"] != float64(1) {
		t.Errorf("unexpected payload %v", got)
	}
	if _, ok := got["Payload"]; ok {
		t.Error("transport block payload must not be published")
	}
}

func TestPublisher_PublishSweepPoint(t *testing.T) {
	pub := New(Config{Enabled: true, TopicPrefix: "nr/test"}, nil)
	fake := &fakeClient{}
	pub.client = fake

	err := pub.PublishSweepPoint(SweepPointEvent{RunID: "abc", SNRdB: 2.5, BLER: 0.1})
	if err != nil {
		t.Fatalf("PublishSweepPoint: %v", err)
	}
	msgs := fake.all()
	if len(msgs) != 1 || msgs[0].topic != "nr/test/sim/abc" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestTopicFormat(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		suffix   string
		expected string
	}{
		{"simple topic", "nr/codec", "indications/1", "nr/codec/indications/1"},
		{"trailing slash in prefix", "nr/codec/", "indications/1", "nr/codec/indications/1"},
		{"empty prefix", "", "indications/1", "indications/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := New(Config{TopicPrefix: tt.prefix}, nil)
			if got := pub.formatTopic(tt.suffix); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
