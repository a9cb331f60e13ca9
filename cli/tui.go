package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"barleybox/models"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const (
	watchRefresh   = 250 * time.Millisecond
	watchLogLines  = 10
	telemetryWidth = 34
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive dashboard for one device",
	Long: `Open a live dashboard for the device: telemetry, status flags,
configuration and the session log, with keys for every control.

Logs go to barleybox.log unless LOG_OUTPUT names another file.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// session is the part of the SessionController the dashboard drives
type session interface {
	Snapshot() models.Snapshot
	Logs() []models.LogEntry
	Connect(deviceID, broker string) error
	Disconnect()
	SendControl(ch models.ControlChannel, action string) error
	SendMode(mode models.Mode) error
	TriggerFeed() error
	RequestConfig()
	Resubscribe()
	TestPublish()
}

type watchTickMsg time.Time

// watchModel is the Bubble Tea model for the dashboard
type watchModel struct {
	session  session
	deviceID string
	broker   string

	snap   models.Snapshot
	logs   []models.LogEntry
	notice string

	width    int
	quitting bool
}

func newWatchModel(s session, deviceID, broker string) watchModel {
	return watchModel{
		session:  s,
		deviceID: deviceID,
		broker:   broker,
		snap:     s.Snapshot(),
		logs:     s.Logs(),
		width:    100,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(tuiLogFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		cancel()
		return err
	}
	defer a.close()
	defer cancel()

	if err := a.start(ctx); err != nil {
		return err
	}

	p := tea.NewProgram(newWatchModel(a.ctrl, a.deviceID, a.broker), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return watchTickCmd()
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(watchRefresh, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case watchTickMsg:
		m.snap = m.session.Snapshot()
		m.logs = m.session.Logs()
		return m, watchTickCmd()
	}
	return m, nil
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	m.notice = ""

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "1":
		err = m.session.SendControl(models.ControlHeater, models.ActionOn)
	case "2":
		err = m.session.SendControl(models.ControlHeater, models.ActionOff)
	case "3":
		err = m.session.SendControl(models.ControlHeater, models.ActionAuto)
	case "4":
		err = m.session.SendControl(models.ControlMist, models.ActionOn)
	case "5":
		err = m.session.SendControl(models.ControlMist, models.ActionOff)
	case "6":
		err = m.session.SendControl(models.ControlMist, models.ActionAuto)
	case "f":
		err = m.session.TriggerFeed()
	case "a":
		err = m.session.SendMode(models.ModeAuto)
	case "m":
		err = m.session.SendMode(models.ModeManual)
	case "r":
		m.session.RequestConfig()
	case "s":
		m.session.Resubscribe()
	case "t":
		m.session.TestPublish()
	case "c":
		err = m.session.Connect(m.deviceID, m.broker)
	case "d":
		m.session.Disconnect()
	}

	if err != nil {
		m.notice = err.Error()
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("BARLEY BOX"))
	s.WriteString(" ")
	s.WriteString(mutedStyle.Render(fmt.Sprintf("| %s @ %s | ", orDash(m.snap.DeviceID), orDash(m.snap.Broker))))
	s.WriteString(m.renderSession(valueStyle, warningStyle, errorStyle))
	s.WriteString("\n\n")

	// Telemetry and status side by side with the config
	left := boxStyle.Width(telemetryWidth).Render(m.renderTelemetry(labelStyle, valueStyle, warningStyle))
	right := boxStyle.Render(m.renderConfig(labelStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")

	s.WriteString(boxStyle.Width(max(m.width-4, 40)).Render(m.renderLogs(warningStyle, errorStyle, valueStyle)))
	s.WriteString("\n")

	if m.notice != "" {
		s.WriteString(errorStyle.Render(m.notice))
		s.WriteString("\n")
	}
	s.WriteString(mutedStyle.Render("heater 1=ON 2=OFF 3=AUTO  mist 4=ON 5=OFF 6=AUTO  f=feed  a/m=mode\n" +
		"r=request config  s=resubscribe  t=test publish  c=connect  d=disconnect  q=quit"))
	s.WriteString("\n")

	return s.String()
}

func (m watchModel) renderSession(ok, warn, bad lipgloss.Style) string {
	label := strings.ToUpper(string(m.snap.Session))
	switch m.snap.Session {
	case models.SessionConnected:
		return ok.Render(label)
	case models.SessionConnecting, models.SessionReconnecting:
		return warn.Render(label + "...")
	default:
		return bad.Render(label)
	}
}

func (m watchModel) renderTelemetry(labelStyle, valueStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder
	t := m.snap.Telemetry

	row := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), valueStyle.Render(value)))
	}
	row("Air temp", formatReading(t.TempEnv, "°C"))
	row("Humidity", formatReading(t.HumEnv, "%"))
	row("Substrate", formatReading(t.TempSub, "°C"))
	row("Mode", formatMode(t.Mode))
	row("Heater", formatSwitch(t.HeaterOn))
	row("Mist", formatSwitch(t.MistOn))
	s.WriteString("\n")

	online := "offline"
	if m.snap.Online {
		online = "online"
	}
	row("Device", online)
	if m.snap.Feeding {
		s.WriteString(warningStyle.Render("Feeding..."))
		s.WriteString("\n")
	}
	if m.snap.LastWarning != "" {
		s.WriteString(warningStyle.Render("Warning: " + m.snap.LastWarning))
		s.WriteString("\n")
	}
	if !m.snap.LastUpdate.IsZero() {
		s.WriteString(mutedStyle.Render("Updated " + m.snap.LastUpdate.Format("15:04:05")))
	}
	return strings.TrimRight(s.String(), "\n")
}

func (m watchModel) renderConfig(labelStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("Configuration"))
	s.WriteString("\n")
	for _, r := range configRows(m.snap.Config) {
		s.WriteString(fmt.Sprintf("%-24s %s %s\n", r[0], r[1], mutedStyle.Render(r[2])))
	}
	return strings.TrimRight(s.String(), "\n")
}

func (m watchModel) renderLogs(warningStyle, errorStyle, successStyle lipgloss.Style) string {
	logs := m.logs
	if len(logs) > watchLogLines {
		logs = logs[len(logs)-watchLogLines:]
	}
	if len(logs) == 0 {
		return mutedStyle.Render("No activity yet")
	}

	lines := make([]string, 0, len(logs))
	for _, e := range logs {
		line := formatEntry(e)
		switch e.Level {
		case models.LogError:
			line = errorStyle.Render(line)
		case models.LogWarning:
			line = warningStyle.Render(line)
		case models.LogSuccess:
			line = successStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "--"
	}
	return s
}
