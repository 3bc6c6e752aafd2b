// Package gatt defines the attribute model and the transport contract used
// to talk to a single BLE peripheral.
//
// The package does not perform any I/O itself. A Transport issues operations
// on the link and reports their outcome asynchronously through an EventSink;
// the session package owns the sink and serializes everything it receives.
//
// # Attributes
//
// Characteristics are identified by AttributeID, the canonical lower-case
// 128-bit UUID string. Short 16-bit and 32-bit forms are expanded against the
// Bluetooth base UUID by ParseAttributeID:
//
//	id, _ := gatt.ParseAttributeID("2a6e")
//	// id == "00002a6e-0000-1000-8000-00805f9b34fb"
//
// # Client Characteristic Configuration
//
// Subscriptions are enabled by writing the CCC descriptor (0x2902) with one of
// the fixed two-byte payloads ENABLE_NOTIFICATION, ENABLE_INDICATION or
// DISABLE. SubscriptionPayload picks the right one for a characteristic.
package gatt
