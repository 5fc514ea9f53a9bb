package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher publishes codec events to an MQTT broker. It is a harq.Sink:
// every decode indication is published as JSON.
type Publisher struct {
	config Config
	log    *logger.Logger

	mu     sync.RWMutex
	client client
	conn   paho.Client
}

// IndicationEvent is the JSON body of an indication message
type IndicationEvent struct {
	harq.Indication
	Timestamp time.Time `json:"timestamp"`
}

// SweepPointEvent reports one SNR point of a BLER sweep
type SweepPointEvent struct {
	RunID          string    `json:"run_id"`
	SNRdB          float64   `json:"snr_db"`
	Blocks         int       `json:"blocks"`
	BLER           float64   `json:"bler"`
	ResidualBLER   float64   `json:"residual_bler"`
	MeanIterations float64   `json:"mean_iterations"`
	ThroughputMbps float64   `json:"throughput_mbps"`
	Timestamp      time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
	}
}

// Start connects to the broker
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	p.log.Info("Starting MQTT publisher",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", p.config.ClientID))

	opts := paho.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
	}
	if p.config.Password != "" {
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		p.log.Info("Connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.Warn("Connection lost", logger.Error(err))
	})

	conn := paho.NewClient(opts)
	token := conn.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.conn = conn
	p.client = conn
	p.mu.Unlock()
	return nil
}

// Stop disconnects from the broker
func (p *Publisher) Stop() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.client = nil
	p.mu.Unlock()

	if conn == nil {
		return
	}
	p.log.Info("Stopping MQTT publisher")
	conn.Disconnect(250)
}

// Indicate publishes ind under indications/<rnti>. It does not wait for
// the broker.
func (p *Publisher) Indicate(ind harq.Indication) {
	if !p.config.Enabled {
		return
	}
	topic := p.formatTopic(fmt.Sprintf("indications/%d", ind.RNTI))
	if err := p.publish(topic, IndicationEvent{Indication: ind, Timestamp: time.Now()}); err != nil {
		p.log.Debug("Indication not published", logger.Error(err))
	}
}

// PublishSweepPoint publishes one simulator result
func (p *Publisher) PublishSweepPoint(event SweepPointEvent) error {
	if !p.config.Enabled {
		return nil
	}
	return p.publish(p.formatTopic("sim/"+event.RunID), event)
}

func (p *Publisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("mqtt: not connected")
	}

	token := c.Publish(topic, p.config.QoS, p.config.Retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.log.Warn("Failed to publish",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}()
	return nil
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
