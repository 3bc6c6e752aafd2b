//go:build linux

package transport

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// OpenDefaultDevice opens the first HCI controller and installs it as the
// go-ble default device. Requires CAP_NET_ADMIN.
func OpenDefaultDevice(dialTimeout time.Duration) error {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dev, err := linux.NewDevice(ble.OptDialerTimeout(dialTimeout))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	ble.SetDefaultDevice(dev)
	return nil
}
