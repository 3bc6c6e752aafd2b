package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrShortPayload is returned when a payload is too short for its decoder.
var ErrShortPayload = errors.New("payload too short")

// Decoder converts a characteristic payload into a reading.
type Decoder func(payload []byte) (float64, error)

// DecodeUint16Centi decodes a little-endian unsigned 16-bit value in
// hundredths. 0x0BB8 decodes to 30.0.
func DecodeUint16Centi(payload []byte) (float64, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("uint16: %w (%d bytes)", ErrShortPayload, len(payload))
	}
	return float64(binary.LittleEndian.Uint16(payload)) / 100, nil
}

// DecodeSint16Centi decodes a little-endian signed 16-bit value in hundredths.
func DecodeSint16Centi(payload []byte) (float64, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("sint16: %w (%d bytes)", ErrShortPayload, len(payload))
	}
	return float64(int16(binary.LittleEndian.Uint16(payload))) / 100, nil
}

// DecodeUint8 decodes a single unsigned byte.
func DecodeUint8(payload []byte) (float64, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("uint8: %w", ErrShortPayload)
	}
	return float64(payload[0]), nil
}

var decoders = map[string]Decoder{
	"uint16_centi": DecodeUint16Centi,
	"sint16_centi": DecodeSint16Centi,
	"uint8":        DecodeUint8,
}

// LookupDecoder returns the named decoder.
func LookupDecoder(name string) (Decoder, bool) {
	d, ok := decoders[name]
	return d, ok
}

// DecoderNames returns the registered decoder names, sorted.
func DecoderNames() []string {
	names := make([]string, 0, len(decoders))
	for n := range decoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
