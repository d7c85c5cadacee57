package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
)

var log = event.Log

// Config holds the MQTT broker settings.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	Topic          string
	ClientID       string
	Username       string
	Password       string
	PublishTimeout time.Duration
}

// Presence is the JSON payload published for each confirmed person.
type Presence struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Day      string    `json:"day"`
	At       time.Time `json:"at"`
	Distance float64   `json:"distance"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes presence events to <Topic>/<slug(name)> with QoS 1.
type MQTT struct {
	cfg    Config
	client mqtt.Client
	pub    publisher

	published atomic.Int64
	errors    atomic.Int64
}

func NewMQTT(cfg Config) *MQTT {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQTT{cfg: cfg}
}

// Connect establishes the broker connection. The client reconnects on its own afterwards.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Infof("notify: connected to %s", m.cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnf("notify: connection to %s lost, reconnecting: %v", m.cfg.Broker, err)
	}

	m.client = mqtt.NewClient(opts)
	m.pub = m.client

	token := m.client.Connect()
	wait := m.cfg.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Topic returns the topic a name is published under.
func (m *MQTT) Topic(name string) string {
	s := slug.Make(name)
	if s == "" {
		s = "unknown"
	}
	return m.cfg.Topic + "/" + s
}

// Notify implements dispatch.Notifier.
func (m *MQTT) Notify(ctx context.Context, ev types.ConfirmedEvent) error {
	if m.pub == nil {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(Presence{
		ID:       ev.ID.String(),
		Name:     ev.Name,
		Day:      ev.Day.Format("2006-01-02"),
		At:       ev.At,
		Distance: ev.Distance,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	wait := m.cfg.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		wait = time.Until(deadline)
	}

	topic := m.Topic(ev.Name)
	token := m.pub.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(wait) {
		m.errors.Add(1)
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	m.published.Add(1)
	log.Debugf("notify: published %s to %s", ev.Name, topic)
	return nil
}

// Published and Errors count publish outcomes.
func (m *MQTT) Published() int64 { return m.published.Load() }
func (m *MQTT) Errors() int64    { return m.errors.Load() }

// Close disconnects with a short grace period.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		log.Info("notify: disconnected")
	}
}
