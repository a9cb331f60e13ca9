package codec

import (
	"math"
	"strconv"
	"strings"

	"barleybox/models"
)

// ConfigForm holds operator input for a config push, as typed, in display
// units: minutes for the upload and legacy feed intervals, seconds for the
// feed duration, hours for the feed minimum interval.
type ConfigForm struct {
	HeatOn           string `json:"heat_on"`
	HeatOff          string `json:"heat_off"`
	HeaterMaxTemp    string `json:"heater_max_temp"`
	NTCLowTemp       string `json:"ntc_low_temp"`
	NTCHeatOnMinutes string `json:"ntc_heat_on_minutes"`
	NTCRefVoltage    string `json:"ntc_ref_voltage"`
	NTCTempOffset    string `json:"ntc_temp_offset"`

	MistOn            string `json:"mist_on"`
	MistOff           string `json:"mist_off"`
	MistMaxOnSeconds  string `json:"mist_max_on_seconds"`
	MistMinOffSeconds string `json:"mist_min_off_seconds"`

	FeedDurationSeconds  string `json:"feed_duration_seconds"`
	FeedMinIntervalHours string `json:"feed_min_interval_hours"`
	FeedTimes            string `json:"feed_times"`
	FeedIntervalMinutes  string `json:"feed_interval_minutes"`

	UploadIntervalMinutes string `json:"upload_interval_minutes"`
	Mode                  string `json:"mode"`
}

// ParseConfigForm converts operator input into a wire-unit config patch.
// A blank, non-numeric or out of range input leaves its field out of the
// patch: a field the operator left empty or mistyped is never sent.
func ParseConfigForm(form ConfigForm) models.DeviceConfig {
	var cfg models.DeviceConfig

	cfg.HeatOn = parseFloat(form.HeatOn)
	cfg.HeatOff = parseFloat(form.HeatOff)
	cfg.HeaterMaxTemp = parseFloat(form.HeaterMaxTemp)
	cfg.NTCLowTempThreshold = parseFloat(form.NTCLowTemp)
	cfg.NTCHeatOnMinutes = parseInt(form.NTCHeatOnMinutes)
	cfg.NTCRefVoltage = parseFloat(form.NTCRefVoltage)
	cfg.NTCTempOffset = parseFloat(form.NTCTempOffset)

	cfg.MistOn = parseFloat(form.MistOn)
	cfg.MistOff = parseFloat(form.MistOff)
	cfg.MistMaxOnSeconds = parseInt(form.MistMaxOnSeconds)
	cfg.MistMinOffSeconds = parseInt(form.MistMinOffSeconds)

	if v := parseFloat(form.FeedDurationSeconds); v != nil {
		if ms, ok := FeedDurationWire(*v); ok {
			cfg.FeedDurationMs = models.Int(ms)
		}
	}
	if v := parseInt(form.FeedMinIntervalHours); v != nil && FeedMinIntervalValid(*v) {
		cfg.FeedMinIntervalHours = v
	}
	if times := normalizeFeedTimes(form.FeedTimes); times != "" {
		cfg.FeedTimesCSV = models.String(times)
	}
	if v := parseInt(form.FeedIntervalMinutes); v != nil {
		if sec, ok := FeedIntervalWire(*v); ok {
			cfg.FeedIntervalSeconds = models.Int(sec)
		}
	}

	if v := parseInt(form.UploadIntervalMinutes); v != nil {
		if sec, ok := UploadIntervalWire(*v); ok {
			cfg.UploadIntervalSeconds = models.Int(sec)
		}
	}
	if m := models.Mode(strings.ToUpper(strings.TrimSpace(form.Mode))); m.Valid() {
		cfg.Mode = &m
	}

	return cfg
}

// FormFromConfig renders a config in display units. Absent fields stay blank.
func FormFromConfig(cfg models.DeviceConfig) ConfigForm {
	var form ConfigForm

	form.HeatOn = formatFloat(cfg.HeatOn)
	form.HeatOff = formatFloat(cfg.HeatOff)
	form.HeaterMaxTemp = formatFloat(cfg.HeaterMaxTemp)
	form.NTCLowTemp = formatFloat(cfg.NTCLowTempThreshold)
	form.NTCHeatOnMinutes = formatInt(cfg.NTCHeatOnMinutes)
	form.NTCRefVoltage = formatFloat(cfg.NTCRefVoltage)
	form.NTCTempOffset = formatFloat(cfg.NTCTempOffset)

	form.MistOn = formatFloat(cfg.MistOn)
	form.MistOff = formatFloat(cfg.MistOff)
	form.MistMaxOnSeconds = formatInt(cfg.MistMaxOnSeconds)
	form.MistMinOffSeconds = formatInt(cfg.MistMinOffSeconds)

	if cfg.FeedDurationMs != nil {
		form.FeedDurationSeconds = formatFloat(models.Float(FeedDurationDisplay(*cfg.FeedDurationMs)))
	}
	form.FeedMinIntervalHours = formatInt(cfg.FeedMinIntervalHours)
	if cfg.FeedTimesCSV != nil {
		form.FeedTimes = *cfg.FeedTimesCSV
	}
	if cfg.FeedIntervalSeconds != nil {
		form.FeedIntervalMinutes = strconv.Itoa(FeedIntervalDisplay(*cfg.FeedIntervalSeconds))
	}

	if cfg.UploadIntervalSeconds != nil {
		form.UploadIntervalMinutes = strconv.Itoa(UploadIntervalDisplay(*cfg.UploadIntervalSeconds))
	}
	if cfg.Mode != nil {
		form.Mode = string(*cfg.Mode)
	}

	return form
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return nil
	}
	return models.Float(v)
}

// parseInt accepts "12" and "12.0"; fractional input is truncated toward zero.
// Values outside the wire integer range are rejected.
func parseInt(s string) *int {
	v := parseFloat(s)
	if v == nil {
		return nil
	}
	n, ok := wireInt(math.Trunc(*v))
	if !ok {
		return nil
	}
	return models.Int(n)
}

func normalizeFeedTimes(s string) string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ",")
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
