// Package session drives one peripheral: it owns the command queue, the
// connection state machine, the subscription tracker and the sensor value
// cache, and routes transport events between them.
//
// # Event loop
//
// All state lives on a single goroutine started by Run. Transport callbacks
// (the gatt.EventSink methods) and caller requests are posted onto the loop's
// channel; nothing else mutates session state. Request methods wait only for
// the loop to accept or reject the request, never for the link operation:
//
//	p, err := s.RequestRead(gatt.TemperatureCharacteristic)
//	if err != nil {
//	    // rejected: not READY, unknown attribute or unsupported operation
//	}
//	res, err := p.Wait(ctx) // terminal outcome of the read
//
// # Callbacks
//
// OnValueUpdated, OnConnectionStateChanged, OnOperationFailed and
// OnSubscriptionsChanged run on the event loop. They must return quickly and must not call Session methods that
// wait for the loop.
//
// # Forwarding
//
// Values decoded from polled reads are always forwarded to the configured
// bridge. Values from notifications are forwarded only when they differ from
// the previous reading of the same attribute.
package session
