package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartthermostat/gattlink/pkg/bridge"
	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	"github.com/smartthermostat/gattlink/pkg/log"
	"github.com/smartthermostat/gattlink/pkg/sensor"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
)

// Session errors.
var (
	ErrClosed           = errors.New("session closed")
	ErrNoTransport      = errors.New("no transport configured")
	ErrAlreadyConnected = errors.New("connection already in progress or established")
	ErrDisconnected     = errors.New("link disconnected")
)

// DefaultOperationTimeout bounds how long a single issued operation may stay
// in flight before it is treated as failed.
const DefaultOperationTimeout = 10 * time.Second

// Config configures a Session.
type Config struct {
	// Transport drives the link. Required.
	Transport gatt.Transport

	// Peripheral is the peripheral address, recorded in traces.
	Peripheral string

	// MaxTries bounds issue attempts per operation (default 10).
	MaxTries int

	// OperationTimeout forces an in-flight operation through the failure path
	// when no completion arrives in time. Zero disables the timeout.
	OperationTimeout time.Duration

	BondPolicy link.BondPolicy

	// Sensors maps attributes to decoders and bridge topics. Nil uses
	// sensor.DefaultRegistry.
	Sensors *sensor.Registry

	// Forwarder receives decoded values. Nil discards them.
	Forwarder bridge.Forwarder

	// AutoReconnect reconnects with backoff after an unrequested link loss.
	AutoReconnect bool
	Reconnect     link.BackoffConfig

	// Resubscribe lists attributes whose notifications are enabled every time
	// the session reaches READY.
	Resubscribe []gatt.AttributeID

	OnValueUpdated           func(Update)
	OnConnectionStateChanged func(from, to link.State)
	OnOperationFailed        func(tx *sequencer.Transaction, err error)

	// OnSubscriptionsChanged receives the confirmed subscription set after
	// each confirmed enable or disable. Clearing on disconnect is not
	// reported.
	OnSubscriptionsChanged func([]gatt.AttributeID)

	// Logger for operational logging. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives the link trace. Nil disables tracing.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration with the default retry and timeout
// settings. Transport must still be set.
func DefaultConfig() Config {
	return Config{
		MaxTries:         sequencer.MaxTries,
		OperationTimeout: DefaultOperationTimeout,
		BondPolicy:       link.DefaultBondPolicy(),
		Reconnect:        link.DefaultBackoffConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Transport == nil {
		return ErrNoTransport
	}
	if c.MaxTries < 0 {
		return fmt.Errorf("max tries must not be negative: %d", c.MaxTries)
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("operation timeout must not be negative: %s", c.OperationTimeout)
	}
	if c.BondPolicy.BondedSettleDelay < 0 {
		return fmt.Errorf("bonded settle delay must not be negative: %s", c.BondPolicy.BondedSettleDelay)
	}
	return nil
}

// Source tells where a value came from.
type Source uint8

const (
	SourceRead Source = iota
	SourceNotification
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceRead:
		return "READ"
	case SourceNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// Update describes a value received from the peripheral.
type Update struct {
	Attribute gatt.AttributeID
	Source    Source
	Raw       []byte

	// Decoded is set when a sensor channel decoded Raw into Value.
	Decoded bool
	Value   float64

	// Changed is set when Value differs from the previous reading.
	Changed bool

	// Forwarded is set when Value was handed to the bridge.
	Forwarded bool
}
