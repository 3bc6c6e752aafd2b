package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTT errors.
var (
	ErrNoBroker     = errors.New("no broker configured")
	ErrNotConnected = errors.New("mqtt client not connected")

	// ErrConnectPending means the first connect did not finish within
	// ConnectTimeout. The client keeps retrying.
	ErrConnectPending = errors.New("mqtt connect pending")
)

const (
	defaultConnectTimeout       = 10 * time.Second
	defaultConnectRetryInterval = 5 * time.Second
)

// MQTTConfig configures an MQTTForwarder.
type MQTTConfig struct {
	// Broker URL, e.g. "tcp://192.168.1.10:1883".
	Broker   string
	ClientID string
	Username string
	Password string

	QoS      byte
	Retained bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// ConnectRetryInterval spaces attempts while the broker is unreachable,
	// both for the first connect and after a lost connection.
	ConnectRetryInterval time.Duration

	// Logger for operational logging. Nil disables logging.
	Logger *slog.Logger
}

// DefaultMQTTConfig returns QoS 1, non-retained publishing with a random
// client id.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientID:             "gattlink-" + uuid.NewString()[:8],
		QoS:                  1,
		ConnectTimeout:       defaultConnectTimeout,
		PublishTimeout:       5 * time.Second,
		ConnectRetryInterval: defaultConnectRetryInterval,
	}
}

// mqttClient is the subset of mqtt.Client the forwarder uses.
type mqttClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTForwarder publishes values to an MQTT broker.
type MQTTForwarder struct {
	cfg    MQTTConfig
	client mqttClient

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTForwarder creates a forwarder. Call Connect before forwarding.
func NewMQTTForwarder(cfg MQTTConfig) (*MQTTForwarder, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	def := DefaultMQTTConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.ConnectRetryInterval <= 0 {
		cfg.ConnectRetryInterval = def.ConnectRetryInterval
	}

	return newMQTTForwarder(cfg, mqtt.NewClient(clientOptions(cfg))), nil
}

// clientOptions keeps the client retrying until the broker is reachable,
// including when it is down at startup.
func clientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ConnectRetryInterval).
		SetMaxReconnectInterval(cfg.ConnectRetryInterval)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if cfg.Logger != nil {
			cfg.Logger.Warn("MQTT: connection lost", "broker", cfg.Broker, "error", err)
		}
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if cfg.Logger != nil {
			cfg.Logger.Info("MQTT: connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
		}
	})
	return opts
}

func newMQTTForwarder(cfg MQTTConfig, client mqttClient) *MQTTForwarder {
	return &MQTTForwarder{cfg: cfg, client: client}
}

// Connect starts connecting to the broker and waits up to ConnectTimeout for
// the first connection. ErrConnectPending is returned when the broker has
// not answered yet; the client keeps retrying and Forward publishes once it
// is connected.
func (f *MQTTForwarder) Connect(ctx context.Context) error {
	timeout := f.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	tok := f.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt connect %s: %w", f.cfg.Broker, ErrConnectPending)
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", f.cfg.Broker, err)
	}
	return nil
}

// Forward publishes value on topic. The publish is acknowledged in the
// background; failures are counted and logged.
func (f *MQTTForwarder) Forward(topic string, value float64) {
	if !f.client.IsConnected() {
		f.failed.Add(1)
		if f.cfg.Logger != nil {
			f.cfg.Logger.Warn("MQTT: dropping value, not connected", "topic", topic)
		}
		return
	}

	payload := FormatValue(value)
	tok := f.client.Publish(topic, f.cfg.QoS, f.cfg.Retained, payload)
	go f.await(tok, topic, payload)
}

func (f *MQTTForwarder) await(tok mqtt.Token, topic, payload string) {
	if !tok.WaitTimeout(f.cfg.PublishTimeout) {
		f.failed.Add(1)
		if f.cfg.Logger != nil {
			f.cfg.Logger.Warn("MQTT: publish timed out", "topic", topic)
		}
		return
	}
	if err := tok.Error(); err != nil {
		f.failed.Add(1)
		if f.cfg.Logger != nil {
			f.cfg.Logger.Warn("MQTT: publish failed", "topic", topic, "error", err)
		}
		return
	}
	f.published.Add(1)
	if f.cfg.Logger != nil {
		f.cfg.Logger.Debug("MQTT: published", "topic", topic, "payload", payload)
	}
}

// Stats returns the number of acknowledged and failed publishes.
func (f *MQTTForwarder) Stats() (published, failed uint64) {
	return f.published.Load(), f.failed.Load()
}

// Close disconnects, allowing 250ms for in-flight work.
func (f *MQTTForwarder) Close() {
	f.client.Disconnect(250)
}

var _ Forwarder = (*MQTTForwarder)(nil)
