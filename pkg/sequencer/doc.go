// Package sequencer serializes control-plane operations against one
// peripheral.
//
// Operations are wrapped in a Transaction and appended to a Queue. The queue
// keeps at most one Transaction in flight: the head of the FIFO. When the link
// reports the head's completion the queue either pops it (success), reissues
// it (failure with attempts left) or drops it after MaxTries attempts.
//
// # Concurrency
//
// A Queue is not safe for concurrent use. It is meant to be owned by a single
// event loop that also delivers link completions to Complete. Callers outside
// the loop observe the outcome of a Transaction through its Pending future,
// which is resolved exactly once.
//
// # States
//
//	IDLE      nothing in flight
//	ISSUING   head dispatched on its first attempt
//	RETRYING  head dispatched again after a failed attempt
package sequencer
