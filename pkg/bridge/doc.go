// Package bridge forwards decoded sensor values out of the process.
//
// Forwarders are fire-and-forget: Forward never blocks the caller on network
// I/O and never reports errors back. Failures are logged.
//
// Two forwarders are provided. MQTTForwarder publishes each value as a decimal
// string to a broker (QoS 1, not retained); the broker may be discovered over
// mDNS with DiscoverBroker. Hub streams values and connection state changes
// to WebSocket clients as JSON.
package bridge
