// Package session drives the full lifecycle of one BLE sensor link: device
// selection, connection, GATT initialization, notification streaming,
// disconnection policy and recording-aware reconnection. The connection
// state machine validates every lifecycle move; the recording registry
// decides whether a dead link is revived or released.
package session

import (
	"sync"

	"github.com/david-ria/pmscanv2-sub000/internal/reading"
)

// Callbacks are the outbound notifications a session emits. All fields are
// optional. Callbacks fire from the notification drain goroutines; handlers
// must not block.
type Callbacks struct {
	OnReading        func(r *reading.Reading)
	OnBatteryUpdate  func(percent int)
	OnChargingUpdate func(charging bool)
}

// DeviceState is the session's cache of slow-changing device attributes,
// populated during initialization and refreshed by pushes. Safe for
// concurrent use.
type DeviceState struct {
	mu sync.RWMutex

	battery                 int
	charging                bool
	firmwareVersion         string
	operatingMode           byte
	samplingIntervalSeconds int
	displayConfig           []byte
	sessionID               string
}

// Snapshot is a point-in-time copy of the device state
type Snapshot struct {
	Battery                 int
	Charging                bool
	FirmwareVersion         string
	OperatingMode           byte
	SamplingIntervalSeconds int
	DisplayConfig           []byte
	SessionID               string
}

// NewDeviceState creates an empty state cache
func NewDeviceState() *DeviceState {
	return &DeviceState{battery: -1}
}

// Snapshot returns a copy of the current state
func (s *DeviceState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := make([]byte, len(s.displayConfig))
	copy(cfg, s.displayConfig)
	return Snapshot{
		Battery:                 s.battery,
		Charging:                s.charging,
		FirmwareVersion:         s.firmwareVersion,
		OperatingMode:           s.operatingMode,
		SamplingIntervalSeconds: s.samplingIntervalSeconds,
		DisplayConfig:           cfg,
		SessionID:               s.sessionID,
	}
}

// SetBattery records the battery percentage; reports whether it changed
func (s *DeviceState) SetBattery(percent int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery == percent {
		return false
	}
	s.battery = percent
	return true
}

// SetCharging records the charging flag; reports whether it changed
func (s *DeviceState) SetCharging(charging bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.charging == charging {
		return false
	}
	s.charging = charging
	return true
}

func (s *DeviceState) SetFirmwareVersion(v string) {
	s.mu.Lock()
	s.firmwareVersion = v
	s.mu.Unlock()
}

func (s *DeviceState) SetOperatingMode(mode byte) {
	s.mu.Lock()
	s.operatingMode = mode
	s.mu.Unlock()
}

// OperatingMode returns the last known mode byte
func (s *DeviceState) OperatingMode() byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operatingMode
}

func (s *DeviceState) SetSamplingInterval(seconds int) {
	s.mu.Lock()
	s.samplingIntervalSeconds = seconds
	s.mu.Unlock()
}

func (s *DeviceState) SetDisplayConfig(cfg []byte) {
	s.mu.Lock()
	s.displayConfig = append(s.displayConfig[:0], cfg...)
	s.mu.Unlock()
}

func (s *DeviceState) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// Reset clears everything back to the unconnected baseline
func (s *DeviceState) Reset() {
	s.mu.Lock()
	s.battery = -1
	s.charging = false
	s.firmwareVersion = ""
	s.operatingMode = 0
	s.samplingIntervalSeconds = 0
	s.displayConfig = nil
	s.sessionID = ""
	s.mu.Unlock()
}
