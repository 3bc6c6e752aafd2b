// Package config loads the gattlink YAML configuration.
//
// A minimal file only names the peripheral:
//
//	peripheral:
//	  address: "AA:BB:CC:DD:EE:FF"
//
// Every other section falls back to Default. Durations use Go syntax
// ("10s", "1m30s").
package config
