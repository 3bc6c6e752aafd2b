package gatt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AttributeID identifies a service, characteristic or descriptor.
// The zero value is not a valid identifier.
type AttributeID string

// baseUUIDSuffix is the Bluetooth base UUID tail shared by all 16/32-bit UUIDs.
const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// Well-known attribute identifiers.
var (
	// EnvironmentalSensingService is the Environmental Sensing service (0x181A).
	EnvironmentalSensingService = MustParseAttributeID("181a")

	// TemperatureCharacteristic is the Temperature characteristic (0x2A6E).
	TemperatureCharacteristic = MustParseAttributeID("2a6e")

	// ClientConfigDescriptor is the Client Characteristic Configuration
	// descriptor (0x2902).
	ClientConfigDescriptor = MustParseAttributeID("2902")
)

// ParseAttributeID parses a 16-bit, 32-bit or 128-bit UUID string into its
// canonical form. Dashes, braces and a "0x" prefix are accepted.
func ParseAttributeID(s string) (AttributeID, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	raw = strings.TrimPrefix(raw, "0x")

	switch len(raw) {
	case 4:
		raw = "0000" + raw + baseUUIDSuffix
	case 8:
		raw = raw + baseUUIDSuffix
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid attribute id %q: %w", s, err)
	}
	return AttributeID(u.String()), nil
}

// MustParseAttributeID is like ParseAttributeID but panics on error.
// Intended for package-level constants.
func MustParseAttributeID(s string) AttributeID {
	id, err := ParseAttributeID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical form.
func (a AttributeID) String() string {
	return string(a)
}

// Short returns the 16-bit form ("2a6e") for identifiers derived from the
// Bluetooth base UUID, and the full form otherwise.
func (a AttributeID) Short() string {
	s := string(a)
	if len(s) == 36 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, baseUUIDSuffix) {
		return s[4:8]
	}
	return s
}
