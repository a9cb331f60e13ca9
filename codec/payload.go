// Package codec converts between barley box wire payloads and the
// models used by the session.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"barleybox/models"
)

var (
	// ErrMalformedPayload is returned when inbound bytes are not a JSON object
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrInvalidAction is returned for a control token the channel does not accept
	ErrInvalidAction = errors.New("invalid control action")
)

var channelActions = map[models.ControlChannel][]string{
	models.ControlHeater: {models.ActionOn, models.ActionOff, models.ActionAuto},
	models.ControlMist:   {models.ActionOn, models.ActionOff, models.ActionAuto},
	models.ControlFeed:   {models.ActionTrigger},
	models.ControlMode:   {models.ActionAuto, models.ActionManual},
}

// ValidateAction checks that action is a token the channel accepts
func ValidateAction(ch models.ControlChannel, action string) error {
	allowed, ok := channelActions[ch]
	if !ok {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidAction, ch)
	}
	for _, a := range allowed {
		if a == action {
			return nil
		}
	}
	return fmt.Errorf("%w: %q not accepted on %s (want one of %s)",
		ErrInvalidAction, action, ch, strings.Join(allowed, ", "))
}

// EncodeControl returns the raw control token. Control payloads have no envelope.
func EncodeControl(action string) []byte {
	return []byte(action)
}

// EncodeCommand returns the raw command token
func EncodeCommand(command string) []byte {
	return []byte(command)
}

// SanitizeConfig drops every field that must never be sent: non-finite
// numbers, integers outside the wire range, an out of range feed minimum
// interval, an unknown mode and blank feed times.
func SanitizeConfig(patch models.DeviceConfig) models.DeviceConfig {
	out := patch.Clone()
	for _, f := range []**float64{
		&out.HeatOn, &out.HeatOff, &out.HeaterMaxTemp, &out.NTCLowTempThreshold,
		&out.NTCRefVoltage, &out.NTCTempOffset, &out.MistOn, &out.MistOff,
	} {
		if *f != nil && !finite(**f) {
			*f = nil
		}
	}
	for _, f := range []**int{
		&out.NTCHeatOnMinutes, &out.MistMaxOnSeconds, &out.MistMinOffSeconds,
		&out.FeedDurationMs, &out.FeedIntervalSeconds, &out.UploadIntervalSeconds,
	} {
		if *f != nil && !wireIntValid(**f) {
			*f = nil
		}
	}
	if out.FeedMinIntervalHours != nil && !FeedMinIntervalValid(*out.FeedMinIntervalHours) {
		out.FeedMinIntervalHours = nil
	}
	if out.Mode != nil && !out.Mode.Valid() {
		out.Mode = nil
	}
	if out.FeedTimesCSV != nil && strings.TrimSpace(*out.FeedTimesCSV) == "" {
		out.FeedTimesCSV = nil
	}
	return out
}

// EncodeConfig serializes only the fields set in patch
func EncodeConfig(patch models.DeviceConfig) ([]byte, error) {
	payload, err := json.Marshal(SanitizeConfig(patch))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return payload, nil
}

// DecodeTelemetry parses a telemetry payload into a patch.
// Fields that are missing, null or of the wrong type stay nil.
func DecodeTelemetry(payload []byte) (models.Telemetry, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return models.Telemetry{}, err
	}
	return models.Telemetry{
		TempEnv:  numberField(fields, "temp_env"),
		HumEnv:   numberField(fields, "hum_env"),
		TempSub:  numberField(fields, "temp_sub"),
		Mode:     modeField(fields, "mode"),
		HeaterOn: boolField(fields, "heater_on"),
		MistOn:   boolField(fields, "mist_on"),
	}, nil
}

// DecodeConfig parses a config echo into a patch
func DecodeConfig(payload []byte) (models.DeviceConfig, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return models.DeviceConfig{}, err
	}
	cfg := models.DeviceConfig{
		HeatOn:                numberField(fields, "T_heat_on"),
		HeatOff:               numberField(fields, "T_heat_off"),
		HeaterMaxTemp:         numberField(fields, "heater_max_temp"),
		NTCLowTempThreshold:   numberField(fields, "ntc_low_temp_threshold"),
		NTCHeatOnMinutes:      intField(fields, "ntc_heat_on_minutes"),
		NTCRefVoltage:         numberField(fields, "ntc_ref_voltage"),
		NTCTempOffset:         numberField(fields, "ntc_temp_offset"),
		MistOn:                numberField(fields, "H_mist_on"),
		MistOff:               numberField(fields, "H_mist_off"),
		MistMaxOnSeconds:      intField(fields, "mist_max_on_seconds"),
		MistMinOffSeconds:     intField(fields, "mist_min_off_seconds"),
		FeedDurationMs:        intField(fields, "feed_duration_ms"),
		FeedMinIntervalHours:  intField(fields, "feed_min_interval_hours"),
		FeedTimesCSV:          stringField(fields, "feed_times_csv"),
		FeedIntervalSeconds:   intField(fields, "feed_interval_seconds"),
		UploadIntervalSeconds: intField(fields, "upload_interval_seconds"),
		Mode:                  modeField(fields, "mode"),
	}
	return cfg, nil
}

// DecodeStatus parses a status payload. One payload may carry several
// events (for example a feed event together with a warning); they are
// returned in a fixed order: feed, warning, online.
func DecodeStatus(payload []byte) ([]models.StatusEvent, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	var events []models.StatusEvent
	if ev := stringField(fields, "event"); ev != nil && *ev == "feed" {
		events = append(events, models.StatusEvent{Kind: models.StatusFeedTriggered})
	}
	if w := stringField(fields, "warning"); w != nil && *w != "" {
		events = append(events, models.StatusEvent{Kind: models.StatusWarning, Message: *w})
	}
	if st := stringField(fields, "status"); st != nil && *st == "online" {
		events = append(events, models.StatusEvent{Kind: models.StatusOnline})
	}
	return events, nil
}

func decodeObject(payload []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	return fields, nil
}

func numberField(fields map[string]any, key string) *float64 {
	v, ok := fields[key].(float64)
	if !ok || !finite(v) {
		return nil
	}
	return models.Float(v)
}

func intField(fields map[string]any, key string) *int {
	v := numberField(fields, key)
	if v == nil {
		return nil
	}
	n, ok := wireInt(math.Round(*v))
	if !ok {
		return nil
	}
	return models.Int(n)
}

func boolField(fields map[string]any, key string) *bool {
	switch v := fields[key].(type) {
	case bool:
		return models.Bool(v)
	case float64:
		// older firmware reports actuators as 0/1
		return models.Bool(v != 0)
	default:
		return nil
	}
}

func stringField(fields map[string]any, key string) *string {
	v, ok := fields[key].(string)
	if !ok {
		return nil
	}
	return models.String(v)
}

func modeField(fields map[string]any, key string) *models.Mode {
	v := stringField(fields, key)
	if v == nil {
		return nil
	}
	m := models.Mode(strings.ToUpper(strings.TrimSpace(*v)))
	if !m.Valid() {
		return nil
	}
	return &m
}
