package cli

import (
	"fmt"
	"strconv"

	"barleybox/codec"
	"barleybox/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// formField binds one config form input to its flag and display label
type formField struct {
	flag  string
	label string
	unit  string
	ptr   func(*codec.ConfigForm) *string
}

var formFields = []formField{
	{"heat-on", "Heater on below", "°C", func(f *codec.ConfigForm) *string { return &f.HeatOn }},
	{"heat-off", "Heater off above", "°C", func(f *codec.ConfigForm) *string { return &f.HeatOff }},
	{"heater-max", "Heater max temp", "°C", func(f *codec.ConfigForm) *string { return &f.HeaterMaxTemp }},
	{"ntc-low-temp", "NTC low temp", "°C", func(f *codec.ConfigForm) *string { return &f.NTCLowTemp }},
	{"ntc-heat-on", "NTC heat on", "min", func(f *codec.ConfigForm) *string { return &f.NTCHeatOnMinutes }},
	{"ntc-ref-voltage", "NTC ref voltage", "V", func(f *codec.ConfigForm) *string { return &f.NTCRefVoltage }},
	{"ntc-temp-offset", "NTC temp offset", "°C", func(f *codec.ConfigForm) *string { return &f.NTCTempOffset }},
	{"mist-on", "Mist on below", "%", func(f *codec.ConfigForm) *string { return &f.MistOn }},
	{"mist-off", "Mist off above", "%", func(f *codec.ConfigForm) *string { return &f.MistOff }},
	{"mist-max-on", "Mist max on", "s", func(f *codec.ConfigForm) *string { return &f.MistMaxOnSeconds }},
	{"mist-min-off", "Mist min off", "s", func(f *codec.ConfigForm) *string { return &f.MistMinOffSeconds }},
	{"feed-duration", "Feed duration", "s", func(f *codec.ConfigForm) *string { return &f.FeedDurationSeconds }},
	{"feed-min-interval", "Feed min interval", "h", func(f *codec.ConfigForm) *string { return &f.FeedMinIntervalHours }},
	{"feed-times", "Feed times", "HH:MM,...", func(f *codec.ConfigForm) *string { return &f.FeedTimes }},
	{"feed-interval", "Feed interval (legacy)", "min", func(f *codec.ConfigForm) *string { return &f.FeedIntervalMinutes }},
	{"upload-interval", "Upload interval", "min", func(f *codec.ConfigForm) *string { return &f.UploadIntervalMinutes }},
	{"mode", "Mode", "AUTO|MANUAL", func(f *codec.ConfigForm) *string { return &f.Mode }},
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderTable draws rows with a rounded border
func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// configRows renders a config in display units, blank fields as "--"
func configRows(cfg models.DeviceConfig) [][]string {
	form := codec.FormFromConfig(cfg)
	rows := make([][]string, 0, len(formFields))
	for _, f := range formFields {
		value := *f.ptr(&form)
		if value == "" {
			value = "--"
		}
		rows = append(rows, []string{f.label, value, f.unit})
	}
	return rows
}

// topicLabels names the entries of TopicSet.All, in order
var topicLabels = []struct{ name, direction string }{
	{"telemetry", "in"},
	{"status", "in"},
	{"config in", "out"},
	{"config out", "in"},
	{"command", "out"},
	{"heater", "out"},
	{"mist", "out"},
	{"feed", "out"},
	{"mode", "out"},
}

func topicRows(t models.TopicSet) [][]string {
	all := t.All()
	rows := make([][]string, 0, len(all)+1)
	for i, topic := range all {
		rows = append(rows, []string{topicLabels[i].name, topic, topicLabels[i].direction})
	}
	return append(rows, []string{"debug", t.Debug, "out"})
}

func formatReading(v *float64, unit string) string {
	if v == nil {
		return "--"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + unit
}

func formatSwitch(on *bool) string {
	switch {
	case on == nil:
		return "--"
	case *on:
		return "ON"
	default:
		return "OFF"
	}
}

func formatMode(m *models.Mode) string {
	if m == nil {
		return "--"
	}
	return string(*m)
}

func formatEntry(e models.LogEntry) string {
	line := fmt.Sprintf("%s %s", e.Time.Format("15:04:05"), e.Message)
	if e.Err != nil {
		line += ": " + e.Err.Error()
	}
	return line
}
