package main

import (
	"errors"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// formatUserError maps transport errors onto short, actionable messages
// for terminal output. Unrecognized errors pass through unchanged.
func formatUserError(err error) string {
	norm := transport.NormalizeError(err)
	switch {
	case errors.Is(norm, transport.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case errors.Is(norm, transport.ErrPermissionDenied):
		return "Bluetooth permission denied. Grant access to this tool and try again."
	case errors.Is(norm, transport.ErrDeviceNotFound):
		return "No matching sensor found. Make sure the device is powered on and in range."
	case errors.Is(norm, transport.ErrUserCancelled):
		return "Cancelled."
	case errors.Is(norm, transport.ErrTimeout):
		return "The sensor did not respond in time. Move closer and try again."
	case errors.Is(norm, transport.ErrNotConnected):
		return "Not connected to a sensor."
	default:
		return err.Error()
	}
}
