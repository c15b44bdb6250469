//go:build darwin

package goble

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the platform BLE device. Overridable in tests.
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil && strings.Contains(err.Error(), "state: unknown") {
		// CoreBluetooth reports "unknown" while powered off or unauthorized.
		return nil, fmt.Errorf("bluetooth is turned off or unauthorized: %w", err)
	}
	return dev, err
}
