package models

// Mode represents the operating mode reported by and sent to the device
type Mode string

const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// Valid reports whether m is a mode the device understands
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// Telemetry represents a telemetry reading from the barley box.
// Every field is optional: nil means the device did not report it (or
// reported something that is not a usable value), which is different from
// a reading of zero.
type Telemetry struct {
	TempEnv  *float64 `json:"temp_env,omitempty"`
	HumEnv   *float64 `json:"hum_env,omitempty"`
	TempSub  *float64 `json:"temp_sub,omitempty"`
	Mode     *Mode    `json:"mode,omitempty"`
	HeaterOn *bool    `json:"heater_on,omitempty"`
	MistOn   *bool    `json:"mist_on,omitempty"`
}

// IsEmpty reports whether the patch carries no field at all
func (t Telemetry) IsEmpty() bool {
	return t.TempEnv == nil && t.HumEnv == nil && t.TempSub == nil &&
		t.Mode == nil && t.HeaterOn == nil && t.MistOn == nil
}

// Merge returns t with every field present in patch overwritten
func (t Telemetry) Merge(patch Telemetry) Telemetry {
	return Telemetry{
		TempEnv:  overlay(t.TempEnv, patch.TempEnv),
		HumEnv:   overlay(t.HumEnv, patch.HumEnv),
		TempSub:  overlay(t.TempSub, patch.TempSub),
		Mode:     overlay(t.Mode, patch.Mode),
		HeaterOn: overlay(t.HeaterOn, patch.HeaterOn),
		MistOn:   overlay(t.MistOn, patch.MistOn),
	}
}

// Clone returns a deep copy so callers never share pointers with the owner
func (t Telemetry) Clone() Telemetry {
	return t.Merge(Telemetry{})
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

// ModePtr returns a pointer to m
func ModePtr(m Mode) *Mode { return &m }
