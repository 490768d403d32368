// Package reading defines the sensor reading value emitted per decoded
// frame and its two-tier validation: non-finite values are a hard
// corruption signal, physically implausible but finite values are only
// worth a warning because sensors do report extremes during faults.
package reading

import (
	"fmt"
	"math"
	"time"
)

// Reading is one decoded sensor frame. Immutable once emitted; the
// timestamp is assigned by the receiving clock rather than the device so
// readings from different devices stay on one timeline.
type Reading struct {
	PM1  float64 `json:"pm1"`  // µg/m³; some families omit PM1 and report 0
	PM25 float64 `json:"pm25"` // µg/m³
	PM10 float64 `json:"pm10"` // µg/m³

	TemperatureC     float64 `json:"temperature_c"`
	RelativeHumidity float64 `json:"relative_humidity"` // %

	PressureHPa *float64 `json:"pressure_hpa,omitempty"` // nil when the device has no pressure sensor
	VOCIndex    *float64 `json:"voc_index,omitempty"`    // nil when the device has no VOC sensor

	// Optional appended fields, present only on long frames
	ParticleCounts       []uint16 `json:"particle_counts,omitempty"` // per-size-bin particle counts
	ExternalTemperatureC *float64 `json:"external_temperature_c,omitempty"`
	ExternalHumidity     *float64 `json:"external_humidity,omitempty"`

	Battery  int  `json:"battery"`
	Charging bool `json:"charging"`

	Timestamp     time.Time `json:"timestamp"`
	LocationLabel string    `json:"location_label,omitempty"`

	// SessionID is the protocol-assigned session identifier carried by the
	// frame, empty for families that do not report one.
	SessionID string `json:"session_id,omitempty"`
	// DeviceTime is the device's own clock at capture, in seconds since the
	// family's custom epoch. Diagnostic only; Timestamp is authoritative.
	DeviceTime uint32 `json:"device_time,omitempty"`
}

// Physical plausibility bounds. Exceeding them is a warning, never a
// rejection.
const (
	MaxPlausiblePM    = 1000.0
	MinPlausibleTempC = -20.0
	MaxPlausibleTempC = 60.0
)

// CheckFinite returns an error naming the first non-finite numeric field.
// A non-finite value is a hard corruption signal: the decoder must drop
// the frame.
func (r *Reading) CheckFinite() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"pm1", r.PM1},
		{"pm2.5", r.PM25},
		{"pm10", r.PM10},
		{"temperature", r.TemperatureC},
		{"humidity", r.RelativeHumidity},
	}
	if r.PressureHPa != nil {
		fields = append(fields, struct {
			name string
			v    float64
		}{"pressure", *r.PressureHPa})
	}
	if r.VOCIndex != nil {
		fields = append(fields, struct {
			name string
			v    float64
		}{"voc", *r.VOCIndex})
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("non-finite %s value", f.name)
		}
	}
	return nil
}

// RangeWarnings returns human-readable warnings for values outside the
// physically expected range and for PM ordering violations
// (pm1 <= pm2.5 <= pm10). Warnings never invalidate a reading.
func (r *Reading) RangeWarnings() []string {
	var warnings []string

	for _, pm := range []struct {
		name string
		v    float64
	}{{"pm1", r.PM1}, {"pm2.5", r.PM25}, {"pm10", r.PM10}} {
		if pm.v < 0 || pm.v > MaxPlausiblePM {
			warnings = append(warnings, fmt.Sprintf("%s=%.1f µg/m³ outside expected range 0..%.0f", pm.name, pm.v, MaxPlausiblePM))
		}
	}
	if r.TemperatureC < MinPlausibleTempC || r.TemperatureC > MaxPlausibleTempC {
		warnings = append(warnings, fmt.Sprintf("temperature=%.1f °C outside expected range %.0f..%.0f", r.TemperatureC, MinPlausibleTempC, MaxPlausibleTempC))
	}
	if r.RelativeHumidity < 0 || r.RelativeHumidity > 100 {
		warnings = append(warnings, fmt.Sprintf("humidity=%.1f%% outside expected range 0..100", r.RelativeHumidity))
	}
	if r.PM1 > r.PM25 || r.PM25 > r.PM10 {
		warnings = append(warnings, fmt.Sprintf("pm ordering violated: pm1=%.1f pm2.5=%.1f pm10=%.1f", r.PM1, r.PM25, r.PM10))
	}

	return warnings
}
