package sensor

import (
	"fmt"
	"sort"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// DefaultTemperatureTopic is the bridge topic used for the temperature channel
// when none is configured.
const DefaultTemperatureTopic = "smartthermostat/temperature"

// Channel describes how to interpret one attribute.
type Channel struct {
	Name      string
	Attribute gatt.AttributeID
	Decode    Decoder

	// Topic is where decoded values are forwarded. Empty disables forwarding.
	Topic string
}

// Registry maps attributes to channels. It is built once at startup and
// read-only afterwards.
type Registry struct {
	channels map[gatt.AttributeID]Channel
}

// NewRegistry builds a registry. Duplicate attributes are an error.
func NewRegistry(channels ...Channel) (*Registry, error) {
	r := &Registry{channels: make(map[gatt.AttributeID]Channel, len(channels))}
	for _, ch := range channels {
		if ch.Decode == nil {
			return nil, fmt.Errorf("channel %q: no decoder", ch.Name)
		}
		if _, dup := r.channels[ch.Attribute]; dup {
			return nil, fmt.Errorf("channel %q: attribute %s already registered", ch.Name, ch.Attribute.Short())
		}
		r.channels[ch.Attribute] = ch
	}
	return r, nil
}

// DefaultRegistry returns a registry with the Environmental Sensing
// temperature channel.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(Channel{
		Name:      "temperature",
		Attribute: gatt.TemperatureCharacteristic,
		Decode:    DecodeUint16Centi,
		Topic:     DefaultTemperatureTopic,
	})
	return r
}

// Channel returns the channel for attr.
func (r *Registry) Channel(attr gatt.AttributeID) (Channel, bool) {
	if r == nil {
		return Channel{}, false
	}
	ch, ok := r.channels[attr]
	return ch, ok
}

// Channels returns all channels ordered by name.
func (r *Registry) Channels() []Channel {
	if r == nil {
		return nil
	}
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
