// Package transport defines the capability-based BLE transport consumed by
// the sensor session core.
//
// The core never talks to a platform Bluetooth stack directly. Every radio
// operation is routed through the interfaces in this package:
//   - Transport: scanning and connecting
//   - Peripheral: a connected GATT server handle
//   - Service / Characteristic: discovery, read, write, notifications
//
// Concrete backends live in subpackages (goble for the go-ble stack,
// transporttest for the scripted fake used in tests). The package also owns
// the structured error taxonomy shared by every backend and the bounded
// per-characteristic notification queue that gives notification delivery its
// in-order, drop-oldest semantics.
package transport
