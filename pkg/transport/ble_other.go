//go:build !linux

package transport

import "time"

// OpenDefaultDevice is only supported on Linux.
func OpenDefaultDevice(time.Duration) error {
	return ErrNoDevice
}
