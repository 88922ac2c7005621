// Package status mirrors the controller state onto retained MQTT topics so
// home automation dashboards can show what the lights are doing.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/eventbus"
)

var (
	ErrNotConnected = errors.New("status: not connected to broker")
	ErrTimeout      = errors.New("status: broker did not acknowledge in time")
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Config describes the broker connection and topic layout.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
}

// StatusTopic is where the retained JSON snapshot goes.
func (c Config) StatusTopic() string {
	return c.TopicPrefix + "/status"
}

// AvailabilityTopic carries "online"/"offline"; the broker publishes
// "offline" on our behalf if the connection drops.
func (c Config) AvailabilityTopic() string {
	return c.TopicPrefix + "/availability"
}

// Snapshot is the retained status payload.
type Snapshot struct {
	State        string    `json:"state"`
	Color        string    `json:"color,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	TargetKelvin int       `json:"target_kelvin,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// client is the part of pahomqtt.Client the publisher uses.
type client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Publisher publishes controller events as retained MQTT messages.
type Publisher struct {
	cfg    Config
	client client

	mu       sync.Mutex
	snapshot Snapshot
	lastSeq  uint64
}

// New creates a publisher backed by a paho client. Call Connect before use.
func New(cfg Config) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(cfg.AvailabilityTopic(), availabilityOffline, cfg.QoS, true)

	p := newPublisher(cfg, nil)

	opts.OnConnect = func(pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		// republish after reconnects; retained messages may have been lost
		go p.publishAll()
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	}

	p.client = pahomqtt.NewClient(opts)
	return p
}

func newPublisher(cfg Config, c client) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Publisher{
		cfg:      cfg,
		client:   c,
		snapshot: Snapshot{State: "offline"},
	}
}

// Connect connects to the broker, bounded by ctx.
func (p *Publisher) Connect(ctx context.Context) error {
	log.Info().Str("broker", p.cfg.Broker).Msg("Connecting to MQTT broker")

	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection timeout: %w", ctx.Err())
	}
}

// Close publishes "offline" and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		if err := p.publish(p.cfg.AvailabilityTopic(), []byte(availabilityOffline)); err != nil {
			log.Warn().Err(err).Msg("Failed to publish offline availability")
		}
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
}

// Attach subscribes to the events reflected in the snapshot.
func (p *Publisher) Attach(bus *eventbus.Bus) {
	bus.SubscribeAll(p.Observe,
		eventbus.EventTypeStateChanged,
		eventbus.EventTypeColorApplied,
	)
}

// Snapshot returns the current status snapshot.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Observe folds an event into the snapshot and publishes it. Events older
// than the last one folded in are ignored, and the lock is held while
// publishing so the broker retains the newest snapshot.
func (p *Publisher) Observe(e eventbus.Event) {
	if e.Type != eventbus.EventTypeStateChanged && e.Type != eventbus.EventTypeColorApplied {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Seq <= p.lastSeq {
		log.Debug().Str("event_type", string(e.Type)).Uint64("seq", e.Seq).Msg("Skipping stale status event")
		return
	}
	p.lastSeq = e.Seq

	switch e.Type {
	case eventbus.EventTypeStateChanged:
		p.snapshot.State, _ = e.Data["to"].(string)
		p.snapshot.Reason, _ = e.Data["reason"].(string)
		if p.snapshot.State == "offline" {
			p.snapshot.Color, p.snapshot.Mode, p.snapshot.TargetKelvin = "", "", 0
		}
	case eventbus.EventTypeColorApplied:
		p.snapshot.Color, _ = e.Data["color"].(string)
		p.snapshot.Mode, _ = e.Data["mode"].(string)
		p.snapshot.TargetKelvin, _ = e.Data["kelvin"].(int)
	}
	p.snapshot.UpdatedAt = e.At.UTC()

	if err := p.publishSnapshot(p.snapshot); err != nil {
		log.Warn().Err(err).Str("topic", p.cfg.StatusTopic()).Msg("Failed to publish status")
	}
}

func (p *Publisher) publishAll() {
	if err := p.publish(p.cfg.AvailabilityTopic(), []byte(availabilityOnline)); err != nil {
		log.Warn().Err(err).Msg("Failed to publish online availability")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.publishSnapshot(p.snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to publish status")
	}
}

func (p *Publisher) publishSnapshot(snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return p.publish(p.cfg.StatusTopic(), payload)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.cfg.QoS, true, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("%w: %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}
