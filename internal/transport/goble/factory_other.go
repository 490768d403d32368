//go:build !darwin && !linux

package goble

import (
	"fmt"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("no BLE stack available on this platform")
}
