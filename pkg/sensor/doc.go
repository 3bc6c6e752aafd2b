// Package sensor decodes characteristic payloads into readings and keeps the
// last and previous reading per attribute.
//
// # Decoders
//
// A Decoder turns raw characteristic bytes into a float64. The built-in
// decoders are registered by name so configuration files can refer to them:
//
//	uint16_centi   little-endian uint16 divided by 100 (Temperature 0x2A6E)
//	sint16_centi   little-endian int16 divided by 100
//	uint8          single unsigned byte
//
// # Channels
//
// A Channel binds an attribute to a decoder and a bridge topic. The Registry
// holds the channels the session knows how to interpret.
package sensor
