// Package link models the lifecycle of the connection to one peripheral.
//
// The Machine is a closed state machine driven by Inputs. Every legal
// (state, input) pair is listed in a single transition table; anything else
// is rejected with ErrInvalidTransition and leaves the state unchanged.
//
//	DISCONNECTED --connect_requested--> CONNECTING
//	CONNECTING --link_established--> CONNECTED_BOND_CHECK
//	CONNECTED_BOND_CHECK --begin_discovery--> DISCOVERING_SERVICES
//	DISCOVERING_SERVICES --discovery_succeeded--> READY
//	DISCOVERING_SERVICES --discovery_failed--> DISCONNECTING
//	any except DISCONNECTED --link_dropped|disconnect_requested|connection_error--> DISCONNECTING
//	DISCONNECTING --teardown_complete--> DISCONNECTED
//
// Operations on the peripheral are legal only in READY.
//
// # Bonding
//
// On entering CONNECTED_BOND_CHECK the BondPolicy decides how to continue:
// discover immediately when the peripheral is not bonded, after a settle delay
// when it is bonded, and not at all while bonding is in progress. In the last
// case a later bond-state change is evaluated again.
//
// # Reconnection
//
// Backoff computes exponential delays with jitter for callers that reconnect
// after an unrequested link loss:
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
package link
