package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(`
peripheral:
  address: "AA:BB:CC:DD:EE:FF"
`))
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Peripheral.Address)
	assert.Equal(t, TransportBLE, cfg.Peripheral.Transport)
	assert.Equal(t, 10, cfg.Queue.MaxTries)
	assert.Equal(t, 10*time.Second, cfg.Queue.OperationTimeout)
	assert.True(t, cfg.Reconnect.Enabled)
	assert.Equal(t, []gatt.AttributeID{gatt.TemperatureCharacteristic}, cfg.Subscriptions())

	reg, err := cfg.SensorRegistry()
	require.NoError(t, err)
	ch, ok := reg.Channel(gatt.TemperatureCharacteristic)
	require.True(t, ok)
	assert.Equal(t, "smartthermostat/temperature", ch.Topic)
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
peripheral:
  address: "AA:BB:CC:DD:EE:FF"
  transport: ble
  dial_timeout: 5s
  bond_probe: bluez
  bonded_settle_delay: 1s
  subscribe: ["2a6e", "2a19"]
queue:
  max_tries: 3
  operation_timeout: 2s
reconnect:
  enabled: false
  initial: 500ms
  max: 10s
  max_attempts: 4
sensors:
  - name: temperature
    attribute: "2a6e"
    decoder: sint16_centi
    topic: home/temp
  - name: battery
    attribute: "2a19"
    decoder: uint8
mqtt:
  broker: auto
  qos: 0
websocket:
  listen: ":8081"
log:
  level: debug
  protocol_log: /tmp/gattlink.glog
state_file: /tmp/state.json
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Peripheral.DialTimeout)
	assert.Equal(t, BondProbeBlueZ, cfg.Peripheral.BondProbe)
	assert.Equal(t, time.Second, cfg.Peripheral.BondedSettleDelay)
	assert.Len(t, cfg.Subscriptions(), 2)
	assert.Equal(t, 3, cfg.Queue.MaxTries)
	assert.False(t, cfg.Reconnect.Enabled)
	assert.Equal(t, BrokerAuto, cfg.MQTT.Broker)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, ":8081", cfg.WebSocket.Listen)
	assert.Equal(t, "/tmp/state.json", cfg.StateFile)

	b := cfg.Backoff()
	assert.Equal(t, 500*time.Millisecond, b.Initial)
	assert.Equal(t, 10*time.Second, b.Max)
	assert.Equal(t, 4, b.MaxAttempts)

	reg, err := cfg.SensorRegistry()
	require.NoError(t, err)
	assert.Len(t, reg.Channels(), 2)
}

func TestParseSimNeedsNoAddress(t *testing.T) {
	_, err := Parse([]byte("peripheral:\n  transport: sim\n"))
	assert.NoError(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing address", "queue:\n  max_tries: 3\n"},
		{"unknown transport", "peripheral:\n  transport: usb\n"},
		{"unknown probe", "peripheral:\n  transport: sim\n  bond_probe: magic\n"},
		{"bad subscribe", "peripheral:\n  transport: sim\n  subscribe: [zz]\n"},
		{"zero tries", "peripheral:\n  transport: sim\nqueue:\n  max_tries: 0\n"},
		{"unknown decoder", "peripheral:\n  transport: sim\nsensors:\n  - name: x\n    attribute: 2a6e\n    decoder: float\n"},
		{"duplicate sensor", "peripheral:\n  transport: sim\nsensors:\n  - {name: a, attribute: 2a6e, decoder: uint8}\n  - {name: b, attribute: 2a6e, decoder: uint8}\n"},
		{"bad qos", "peripheral:\n  transport: sim\nmqtt:\n  qos: 3\n"},
		{"bad level", "peripheral:\n  transport: sim\nlog:\n  level: loud\n"},
		{"bad yaml", "peripheral: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gattlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peripheral:\n  transport: sim\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportSim, cfg.Peripheral.Transport)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, filepath.Join(dir, "missing.yaml"), le.File)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queue:\n  max_tries: 3\n"), 0o644))
	_, err = Load(bad)
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), bad+": ")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("trace")
	assert.Error(t, err)
}

func TestLoadErrorString(t *testing.T) {
	assert.Equal(t, "a.yaml:12: bad", (&LoadError{File: "a.yaml", Line: 12, Message: "bad"}).Error())
	assert.Equal(t, "bad", (&LoadError{Message: "bad"}).Error())
}

func TestReadSkipsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gattlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_tries: 4\n"), 0o644))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Queue.MaxTries)
	assert.Error(t, cfg.Validate())

	cfg.Peripheral.Address = "AA:BB:CC:DD:EE:FF"
	assert.NoError(t, cfg.Validate())
}
