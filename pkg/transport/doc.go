// Package transport provides gatt.Transport implementations.
//
// Two transports are available:
//   - BLE drives a real peripheral through the host controller (go-ble)
//   - Sim is an in-process peripheral for demos and tests
//
// # Callback Contract
//
// Every Connect, StartDiscovery and Issue* call returns immediately. A nil
// error means exactly one callback will follow on the bound sink, always from
// a goroutine other than the caller's:
//
//	Connect              -> OnConnectionEvent
//	StartDiscovery       -> OnDiscoveryComplete
//	IssueRead            -> OnOperationComplete (OpRead)
//	IssueWrite           -> OnOperationComplete (OpWrite)
//	IssueDescriptorWrite -> OnOperationComplete (OpDescriptorWrite)
//
// Operation completions carry the token passed to the Issue call. BLE runs
// one link operation at a time, in issue order.
//
// Link loss that was not requested through Disconnect is reported as a
// ConnectionEvent with State LinkDisconnected. A requested Disconnect is
// silent.
//
// # Bonding
//
// go-ble does not expose the host bond database. BLE asks an optional
// BondProbe (see package bluez) for the bond state on connect and forwards
// later changes through OnBondStateChanged. Without a probe the peripheral is
// reported as not bonded.
package transport
