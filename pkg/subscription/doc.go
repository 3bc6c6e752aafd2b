// Package subscription tracks which characteristics currently have
// notifications or indications enabled on the peripheral.
//
// The set reflects confirmed link state only: it is changed by the session
// after a Client Characteristic Configuration write completes successfully,
// never when the write is requested.
package subscription
