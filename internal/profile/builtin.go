package profile

import "time"

// PMScan GATT identifiers. Wire-format constants; preserved verbatim for
// interoperability with real hardware.
const (
	PMScanServiceUUID      = "f3641900-00b0-4240-ba50-05ca45bf8abc"
	PMScanDataUUID         = "f3641901-00b0-4240-ba50-05ca45bf8abc"
	PMScanIMDataUUID       = "f3641902-00b0-4240-ba50-05ca45bf8abc"
	PMScanModeUUID         = "f3641903-00b0-4240-ba50-05ca45bf8abc"
	PMScanIntervalUUID     = "f3641904-00b0-4240-ba50-05ca45bf8abc"
	PMScanDisplayUUID      = "f3641905-00b0-4240-ba50-05ca45bf8abc"
	PMScanClockUUID        = "f3641906-00b0-4240-ba50-05ca45bf8abc"
	PMScanFirmwareUUID     = "f3641907-00b0-4240-ba50-05ca45bf8abc"
	PMScanBatteryUUID      = "f3641908-00b0-4240-ba50-05ca45bf8abc"
	PMScanChargingUUID     = "f3641909-00b0-4240-ba50-05ca45bf8abc"
	PMScanModeDisconnect   = 0x40 // OR-ed into the mode byte to request device-side disconnect
	PMScanModeAcquisition  = 0x01
)

// AirBeam GATT identifiers. The serial-over-BLE service; some revisions
// advertise the ffdd configuration service instead, hence two candidates.
const (
	AirBeamSerialServiceUUID = "0000ffe0-0000-1000-8000-00805f9b34fb"
	AirBeamSerialDataUUID    = "0000ffe1-0000-1000-8000-00805f9b34fb"
	AirBeamAltServiceUUID    = "0000ffdd-0000-1000-8000-00805f9b34fb"
)

// pmscanEpoch is the zero point of the PMScan on-device clock
var pmscanEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// PMScan returns the built-in PMScan family profile: binary fixed-offset
// frames on a custom 128-bit service.
func PMScan() *Profile {
	return &Profile{
		Family:       "pmscan",
		NamePrefixes: []string{"PMScan"},
		Discovery: DiscoveryStrategy{
			ServiceCandidates: []string{PMScanServiceUUID},
			FallbackEnumerate: true,
		},
		Characteristics: map[Role]string{
			RoleData:     PMScanDataUUID,
			RoleIMData:   PMScanIMDataUUID,
			RoleMode:     PMScanModeUUID,
			RoleInterval: PMScanIntervalUUID,
			RoleDisplay:  PMScanDisplayUUID,
			RoleClock:    PMScanClockUUID,
			RoleFirmware: PMScanFirmwareUUID,
			RoleBattery:  PMScanBatteryUUID,
			RoleCharging: PMScanChargingUUID,
		},
		CriticalRoles:    []Role{RoleData},
		Decoder:          "pmscan-binary",
		ClockEpoch:       pmscanEpoch,
		AcquisitionMode:  PMScanModeAcquisition,
		DisconnectBit:    PMScanModeDisconnect,
		SupportsPressure: true,
		SupportsTVOC:     true,
	}
}

// AirBeam returns the built-in AirBeam family profile: UTF-8 line-oriented
// frames over a serial-style notify characteristic. Battery arrives inside
// the data lines, so there are no separate battery/charging channels.
func AirBeam() *Profile {
	return &Profile{
		Family:       "airbeam",
		NamePrefixes: []string{"AirBeam"},
		Discovery: DiscoveryStrategy{
			ServiceCandidates: []string{AirBeamSerialServiceUUID, AirBeamAltServiceUUID},
			FallbackEnumerate: true,
		},
		Characteristics: map[Role]string{
			RoleData: AirBeamSerialDataUUID,
		},
		CriticalRoles:    []Role{RoleData},
		Decoder:          "airbeam-lines",
		SupportsPressure: false,
		SupportsTVOC:     false,
	}
}
