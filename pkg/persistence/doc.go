// Package persistence provides runtime state persistence for the bridge.
//
// The state file records which peripheral was last used, which
// characteristics were subscribed and the last decoded values, so a restart
// can resubscribe and report values before the first notification arrives.
// It is plain JSON written atomically.
package persistence
