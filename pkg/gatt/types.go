package gatt

import (
	"errors"
	"fmt"
	"strings"
)

// Transport-level errors returned synchronously by Transport implementations.
var (
	ErrNotConnected     = errors.New("link not connected")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrNoClientConfig   = errors.New("characteristic has no client configuration descriptor")
	ErrUnsupportedMode  = errors.New("write mode not supported by transport")
)

// Property is the characteristic property bit field as advertised in the
// characteristic declaration.
type Property uint8

// Characteristic property bits.
const (
	PropBroadcast        Property = 0x01
	PropRead             Property = 0x02
	PropWriteNoResponse  Property = 0x04
	PropWrite            Property = 0x08
	PropNotify           Property = 0x10
	PropIndicate         Property = 0x20
	PropSignedWrite      Property = 0x40
	PropExtendedProperty Property = 0x80
)

// Has reports whether all bits of p are set.
func (p Property) Has(bits Property) bool {
	return p&bits == bits
}

// String returns a "|" separated list of property names.
func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "BROADCAST"},
		{PropRead, "READ"},
		{PropWriteNoResponse, "WRITE_NO_RESPONSE"},
		{PropWrite, "WRITE"},
		{PropNotify, "NOTIFY"},
		{PropIndicate, "INDICATE"},
		{PropSignedWrite, "SIGNED_WRITE"},
		{PropExtendedProperty, "EXTENDED"},
	}
	var parts []string
	for _, n := range names {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// WriteMode selects how a characteristic write is carried on the link.
type WriteMode uint8

const (
	// WriteDefault is a write request that expects a response.
	WriteDefault WriteMode = iota
	// WriteNoResponse is a write command without response.
	WriteNoResponse
	// WriteSigned is a signed write command.
	WriteSigned
)

// String returns the mode name.
func (m WriteMode) String() string {
	switch m {
	case WriteDefault:
		return "DEFAULT"
	case WriteNoResponse:
		return "NO_RESPONSE"
	case WriteSigned:
		return "SIGNED"
	default:
		return "UNKNOWN"
	}
}

// RequiredProperty returns the characteristic property a write in this mode
// needs.
func (m WriteMode) RequiredProperty() Property {
	switch m {
	case WriteNoResponse:
		return PropWriteNoResponse
	case WriteSigned:
		return PropSignedWrite
	default:
		return PropWrite
	}
}

// ParseWriteMode parses "default", "noresp"/"no_response" or "signed".
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return WriteDefault, nil
	case "noresp", "no_response", "no-response":
		return WriteNoResponse, nil
	case "signed":
		return WriteSigned, nil
	default:
		return 0, fmt.Errorf("unknown write mode %q", s)
	}
}

// BondState is the pairing state of the peripheral as seen by the host.
type BondState uint8

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

// String returns the bond state name.
func (b BondState) String() string {
	switch b {
	case BondNone:
		return "NONE"
	case BondBonding:
		return "BONDING"
	case BondBonded:
		return "BONDED"
	default:
		return "UNKNOWN"
	}
}

// Status is a link-level operation status. Zero is success; everything else
// is a failure.
type Status uint16

// Status codes. Values follow the ATT error space where one exists.
const (
	StatusSuccess          Status = 0x0000
	StatusReadNotPermitted Status = 0x0002
	StatusWriteNotPermitted Status = 0x0003
	StatusInsufficientAuth Status = 0x0005
	StatusFailure          Status = 0x0101
	StatusTimeout          Status = 0x0102
	StatusRejected         Status = 0x0103
)

// OK reports whether the status signals success.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusReadNotPermitted:
		return "READ_NOT_PERMITTED"
	case StatusWriteNotPermitted:
		return "WRITE_NOT_PERMITTED"
	case StatusInsufficientAuth:
		return "INSUFFICIENT_AUTHENTICATION"
	case StatusFailure:
		return "FAILURE"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("STATUS_0x%04x", uint16(s))
	}
}

// LinkState is the physical link state reported by a connection event.
type LinkState uint8

const (
	LinkDisconnected LinkState = iota
	LinkConnected
)

// String returns the link state name.
func (l LinkState) String() string {
	if l == LinkConnected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Client Characteristic Configuration payloads.
var (
	EnableNotificationValue = []byte{0x01, 0x00}
	EnableIndicationValue   = []byte{0x02, 0x00}
	DisableValue            = []byte{0x00, 0x00}
)

// IsEnabling reports whether a CCC payload turns a subscription on.
// Only the first byte is significant.
func IsEnabling(payload []byte) bool {
	return len(payload) > 0 && payload[0] != 0
}
