package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/transport"
)

// BlueZ names.
const (
	BusName         = "org.bluez"
	DeviceInterface = "org.bluez.Device1"
	DefaultAdapter  = "hci0"

	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesChanged   = "PropertiesChanged"
)

// ErrDeviceUnknown is returned when BlueZ has no object for the address.
var ErrDeviceUnknown = errors.New("device not known to bluez")

// Probe implements transport.BondProbe against BlueZ.
type Probe struct {
	conn    *dbus.Conn
	adapter string
	logger  *slog.Logger
}

var _ transport.BondProbe = (*Probe)(nil)

// NewProbe connects to the system bus. An empty adapter selects hci0.
func NewProbe(adapter string, logger *slog.Logger) (*Probe, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	if adapter == "" {
		adapter = DefaultAdapter
	}
	return &Probe{conn: conn, adapter: adapter, logger: logger}, nil
}

// DevicePath returns the BlueZ object path of address on adapter,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter, address string) dbus.ObjectPath {
	dev := "dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath("/org/bluez/" + adapter + "/" + dev)
}

// BondState reads the device's current bond state.
func (p *Probe) BondState(ctx context.Context, address string) (gatt.BondState, error) {
	path := DevicePath(p.adapter, address)
	obj := p.conn.Object(BusName, path)

	var props map[string]dbus.Variant
	call := obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, DeviceInterface)
	if err := call.Store(&props); err != nil {
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) && dbusErr.Name == "org.freedesktop.DBus.Error.UnknownObject" {
			return gatt.BondNone, fmt.Errorf("%w: %s", ErrDeviceUnknown, address)
		}
		return gatt.BondNone, fmt.Errorf("get device properties: %w", err)
	}

	bond, _ := bondFromProps(props)
	if p.logger != nil {
		p.logger.Debug("bluez: bond state", "address", address, "bond", bond)
	}
	return bond, nil
}

// Watch reports bond changes of address until ctx is done.
func (p *Probe) Watch(ctx context.Context, address string, fn func(gatt.BondState)) error {
	path := DevicePath(p.adapter, address)
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember(propertiesChanged),
	}
	if err := p.conn.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("add match rule: %w", err)
	}
	defer func() { _ = p.conn.RemoveMatchSignal(opts...) }()

	sigChan := make(chan *dbus.Signal, 16)
	p.conn.Signal(sigChan)
	defer p.conn.RemoveSignal(sigChan)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sigChan:
			if !ok {
				return errors.New("signal channel closed")
			}
			if bond, ok := bondFromSignal(sig, path); ok {
				if p.logger != nil {
					p.logger.Debug("bluez: bond changed", "address", address, "bond", bond)
				}
				fn(bond)
			}
		}
	}
}

// Close releases the bus connection.
func (p *Probe) Close() error {
	return p.conn.Close()
}

// bondFromProps derives the bond state from Device1 properties. ok is false
// when neither Bonded nor Paired is present. BondBonding is never returned.
func bondFromProps(props map[string]dbus.Variant) (gatt.BondState, bool) {
	for _, name := range []string{"Bonded", "Paired"} {
		v, exists := props[name]
		if !exists {
			continue
		}
		if b, isBool := v.Value().(bool); isBool {
			if b {
				return gatt.BondBonded, true
			}
			return gatt.BondNone, true
		}
	}
	return gatt.BondNone, false
}

// bondFromSignal extracts a bond change from a PropertiesChanged signal on
// path.
func bondFromSignal(sig *dbus.Signal, path dbus.ObjectPath) (gatt.BondState, bool) {
	if sig == nil || sig.Path != path || sig.Name != propertiesInterface+"."+propertiesChanged {
		return gatt.BondNone, false
	}
	if len(sig.Body) < 2 {
		return gatt.BondNone, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != DeviceInterface {
		return gatt.BondNone, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return gatt.BondNone, false
	}
	return bondFromProps(changed)
}
