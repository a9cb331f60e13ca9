package models

// DeviceConfig represents the barley box configuration as it travels on the
// wire. Values are always stored in wire units (seconds, milliseconds,
// hours); display units are a codec concern.
//
// Every field is optional. A config message carries only the fields it
// changes, so merging never replaces the whole record.
type DeviceConfig struct {
	// Heater
	HeatOn              *float64 `json:"T_heat_on,omitempty"`
	HeatOff             *float64 `json:"T_heat_off,omitempty"`
	HeaterMaxTemp       *float64 `json:"heater_max_temp,omitempty"`
	NTCLowTempThreshold *float64 `json:"ntc_low_temp_threshold,omitempty"`
	NTCHeatOnMinutes    *int     `json:"ntc_heat_on_minutes,omitempty"`
	NTCRefVoltage       *float64 `json:"ntc_ref_voltage,omitempty"`
	NTCTempOffset       *float64 `json:"ntc_temp_offset,omitempty"`

	// Mist
	MistOn            *float64 `json:"H_mist_on,omitempty"`
	MistOff           *float64 `json:"H_mist_off,omitempty"`
	MistMaxOnSeconds  *int     `json:"mist_max_on_seconds,omitempty"`
	MistMinOffSeconds *int     `json:"mist_min_off_seconds,omitempty"`

	// Feeder
	FeedDurationMs       *int    `json:"feed_duration_ms,omitempty"`
	FeedMinIntervalHours *int    `json:"feed_min_interval_hours,omitempty"`
	FeedTimesCSV         *string `json:"feed_times_csv,omitempty"`
	// FeedIntervalSeconds is only used by older firmware
	FeedIntervalSeconds *int `json:"feed_interval_seconds,omitempty"`

	// System
	UploadIntervalSeconds *int  `json:"upload_interval_seconds,omitempty"`
	Mode                  *Mode `json:"mode,omitempty"`
}

// Feed minimum interval bounds, inclusive
const (
	FeedMinIntervalLow  = 1
	FeedMinIntervalHigh = 24
)

// Merge returns c with every field present in patch overwritten
func (c DeviceConfig) Merge(patch DeviceConfig) DeviceConfig {
	return DeviceConfig{
		HeatOn:                overlay(c.HeatOn, patch.HeatOn),
		HeatOff:               overlay(c.HeatOff, patch.HeatOff),
		HeaterMaxTemp:         overlay(c.HeaterMaxTemp, patch.HeaterMaxTemp),
		NTCLowTempThreshold:   overlay(c.NTCLowTempThreshold, patch.NTCLowTempThreshold),
		NTCHeatOnMinutes:      overlay(c.NTCHeatOnMinutes, patch.NTCHeatOnMinutes),
		NTCRefVoltage:         overlay(c.NTCRefVoltage, patch.NTCRefVoltage),
		NTCTempOffset:         overlay(c.NTCTempOffset, patch.NTCTempOffset),
		MistOn:                overlay(c.MistOn, patch.MistOn),
		MistOff:               overlay(c.MistOff, patch.MistOff),
		MistMaxOnSeconds:      overlay(c.MistMaxOnSeconds, patch.MistMaxOnSeconds),
		MistMinOffSeconds:     overlay(c.MistMinOffSeconds, patch.MistMinOffSeconds),
		FeedDurationMs:        overlay(c.FeedDurationMs, patch.FeedDurationMs),
		FeedMinIntervalHours:  overlay(c.FeedMinIntervalHours, patch.FeedMinIntervalHours),
		FeedTimesCSV:          overlay(c.FeedTimesCSV, patch.FeedTimesCSV),
		FeedIntervalSeconds:   overlay(c.FeedIntervalSeconds, patch.FeedIntervalSeconds),
		UploadIntervalSeconds: overlay(c.UploadIntervalSeconds, patch.UploadIntervalSeconds),
		Mode:                  overlay(c.Mode, patch.Mode),
	}
}

// Clone returns a deep copy
func (c DeviceConfig) Clone() DeviceConfig {
	return c.Merge(DeviceConfig{})
}

// IsEmpty reports whether no field is set
func (c DeviceConfig) IsEmpty() bool {
	return c == DeviceConfig{}
}

// overlay picks the patch value when present, otherwise the current value.
// The result is always a fresh pointer.
func overlay[T any](cur, patch *T) *T {
	switch {
	case patch != nil:
		v := *patch
		return &v
	case cur != nil:
		v := *cur
		return &v
	default:
		return nil
	}
}
