package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	"github.com/smartthermostat/gattlink/pkg/sensor"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
	"github.com/smartthermostat/gattlink/pkg/session"
	"github.com/smartthermostat/gattlink/pkg/transport"
)

// Transport kinds.
const (
	TransportBLE = "ble"
	TransportSim = "sim"
)

// Bond probe kinds.
const (
	BondProbeNone  = "none"
	BondProbeBlueZ = "bluez"
)

// BrokerAuto asks for broker discovery over mDNS.
const BrokerAuto = "auto"

// Config is the top-level configuration.
type Config struct {
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Queue      QueueConfig      `yaml:"queue"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Sensors    []SensorConfig   `yaml:"sensors"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Log        LogConfig        `yaml:"log"`

	// StateFile persists subscriptions and last values across restarts.
	StateFile string `yaml:"state_file"`
}

// PeripheralConfig selects the peripheral and how to reach it.
type PeripheralConfig struct {
	Address           string        `yaml:"address"`
	Transport         string        `yaml:"transport"`
	Adapter           string        `yaml:"adapter"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	BondProbe         string        `yaml:"bond_probe"`
	BondedSettleDelay time.Duration `yaml:"bonded_settle_delay"`

	// Subscribe lists characteristics whose notifications are enabled on
	// every connection.
	Subscribe []string `yaml:"subscribe"`
}

// QueueConfig tunes the command queue.
type QueueConfig struct {
	MaxTries         int           `yaml:"max_tries"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// ReconnectConfig controls automatic reconnection.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SensorConfig maps a characteristic to a decoder and bridge topic.
type SensorConfig struct {
	Name      string `yaml:"name"`
	Attribute string `yaml:"attribute"`
	Decoder   string `yaml:"decoder"`
	Topic     string `yaml:"topic"`
}

// MQTTConfig configures the MQTT forwarder. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`

	// DiscoveryTimeout bounds mDNS browsing when Broker is "auto".
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// WebSocketConfig configures the live value feed. An empty Listen disables it.
type WebSocketConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`

	// ProtocolLog is the path of the CBOR link trace. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`
}

// Default returns the configuration used for omitted settings.
func Default() Config {
	backoff := link.DefaultBackoffConfig()
	return Config{
		Peripheral: PeripheralConfig{
			Transport:   TransportBLE,
			Adapter:     "hci0",
			DialTimeout: transport.DefaultDialTimeout,
			BondProbe:   BondProbeNone,
			Subscribe:   []string{gatt.TemperatureCharacteristic.Short()},
		},
		Queue: QueueConfig{
			MaxTries:         sequencer.MaxTries,
			OperationTimeout: session.DefaultOperationTimeout,
		},
		Reconnect: ReconnectConfig{
			Enabled: true,
			Initial: backoff.Initial,
			Max:     backoff.Max,
		},
		Sensors: []SensorConfig{{
			Name:      "temperature",
			Attribute: gatt.TemperatureCharacteristic.Short(),
			Decoder:   "uint16_centi",
			Topic:     sensor.DefaultTemperatureTopic,
		}},
		MQTT: MQTTConfig{
			QoS:              1,
			DiscoveryTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Decode decodes YAML over the defaults without validating.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: err.Error(), Cause: err}
	}
	return cfg, nil
}

// Read reads and decodes a configuration file without validating, for
// callers that apply overrides before calling Validate.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Decode(data)
	if err != nil {
		err.(*LoadError).File = path
		return nil, err
	}
	return cfg, nil
}

// Load reads, decodes and validates a configuration file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{File: path, Message: err.Error(), Cause: err}
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Peripheral.Transport {
	case TransportBLE:
		if c.Peripheral.Address == "" {
			return fmt.Errorf("peripheral.address is required for the %s transport", TransportBLE)
		}
	case TransportSim:
	default:
		return fmt.Errorf("peripheral.transport: unknown transport %q", c.Peripheral.Transport)
	}

	switch c.Peripheral.BondProbe {
	case "", BondProbeNone, BondProbeBlueZ:
	default:
		return fmt.Errorf("peripheral.bond_probe: unknown probe %q", c.Peripheral.BondProbe)
	}
	if c.Peripheral.BondedSettleDelay < 0 {
		return fmt.Errorf("peripheral.bonded_settle_delay must not be negative")
	}
	for _, s := range c.Peripheral.Subscribe {
		if _, err := gatt.ParseAttributeID(s); err != nil {
			return fmt.Errorf("peripheral.subscribe: %w", err)
		}
	}

	if c.Queue.MaxTries < 1 {
		return fmt.Errorf("queue.max_tries must be at least 1, got %d", c.Queue.MaxTries)
	}
	if c.Queue.OperationTimeout < 0 {
		return fmt.Errorf("queue.operation_timeout must not be negative")
	}
	if c.Reconnect.Initial < 0 || c.Reconnect.Max < 0 || c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect settings must not be negative")
	}

	if _, err := c.SensorRegistry(); err != nil {
		return fmt.Errorf("sensors: %w", err)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SensorRegistry builds the sensor registry described by Sensors.
func (c *Config) SensorRegistry() (*sensor.Registry, error) {
	channels := make([]sensor.Channel, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		attr, err := gatt.ParseAttributeID(s.Attribute)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		dec, ok := sensor.LookupDecoder(s.Decoder)
		if !ok {
			return nil, fmt.Errorf("%s: unknown decoder %q (have %s)", s.Name, s.Decoder, strings.Join(sensor.DecoderNames(), ", "))
		}
		channels = append(channels, sensor.Channel{Name: s.Name, Attribute: attr, Decode: dec, Topic: s.Topic})
	}
	return sensor.NewRegistry(channels...)
}

// Subscriptions returns the parsed Peripheral.Subscribe list.
func (c *Config) Subscriptions() []gatt.AttributeID {
	out := make([]gatt.AttributeID, 0, len(c.Peripheral.Subscribe))
	for _, s := range c.Peripheral.Subscribe {
		if id, err := gatt.ParseAttributeID(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Backoff returns the reconnect backoff configuration.
func (c *Config) Backoff() link.BackoffConfig {
	b := link.DefaultBackoffConfig()
	if c.Reconnect.Initial > 0 {
		b.Initial = c.Reconnect.Initial
	}
	if c.Reconnect.Max > 0 {
		b.Max = c.Reconnect.Max
	}
	b.MaxAttempts = c.Reconnect.MaxAttempts
	return b
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
	}
}

// LoadError provides details about a configuration loading error.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Line is the line number where the error occurred (0 if unknown).
	Line int

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return e.File + ":" + strconv.Itoa(e.Line) + ": " + e.Message
	}
	if e.File == "" {
		return e.Message
	}
	return e.File + ": " + e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
