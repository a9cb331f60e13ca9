package cli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"barleybox/models"

	tea "github.com/charmbracelet/bubbletea"
)

type sent struct {
	ch     models.ControlChannel
	action string
}

type fakeSession struct {
	snap       models.Snapshot
	logs       []models.LogEntry
	controls   []sent
	requests   int
	resubs     int
	pings      int
	connects   int
	disconnect int
	controlErr error
}

func (f *fakeSession) Snapshot() models.Snapshot { return f.snap }
func (f *fakeSession) Logs() []models.LogEntry   { return f.logs }

func (f *fakeSession) Connect(deviceID, broker string) error {
	f.connects++
	return nil
}

func (f *fakeSession) Disconnect() { f.disconnect++ }

func (f *fakeSession) SendControl(ch models.ControlChannel, action string) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	f.controls = append(f.controls, sent{ch, action})
	return nil
}

func (f *fakeSession) SendMode(mode models.Mode) error {
	return f.SendControl(models.ControlMode, string(mode))
}

func (f *fakeSession) TriggerFeed() error {
	return f.SendControl(models.ControlFeed, models.ActionTrigger)
}

func (f *fakeSession) RequestConfig() { f.requests++ }
func (f *fakeSession) Resubscribe()   { f.resubs++ }
func (f *fakeSession) TestPublish()   { f.pings++ }

func press(m watchModel, key string) watchModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return next.(watchModel)
}

func TestWatchKeysDriveSession(t *testing.T) {
	fs := &fakeSession{}
	m := newWatchModel(fs, "box1", "broker.local")

	for _, k := range []string{"1", "2", "3", "4", "5", "6", "f", "a", "m", "r", "s", "t", "c", "d", "x"} {
		m = press(m, k)
	}

	want := []sent{
		{models.ControlHeater, "ON"}, {models.ControlHeater, "OFF"}, {models.ControlHeater, "AUTO"},
		{models.ControlMist, "ON"}, {models.ControlMist, "OFF"}, {models.ControlMist, "AUTO"},
		{models.ControlFeed, "TRIGGER"}, {models.ControlMode, "AUTO"}, {models.ControlMode, "MANUAL"},
	}
	if len(fs.controls) != len(want) {
		t.Fatalf("sent %+v", fs.controls)
	}
	for i := range want {
		if fs.controls[i] != want[i] {
			t.Errorf("control %d = %+v, want %+v", i, fs.controls[i], want[i])
		}
	}
	if fs.requests != 1 || fs.resubs != 1 || fs.pings != 1 || fs.connects != 1 || fs.disconnect != 1 {
		t.Fatalf("unexpected calls %+v", fs)
	}
}

func TestWatchShowsSendErrors(t *testing.T) {
	fs := &fakeSession{controlErr: errors.New("invalid input")}
	m := press(newWatchModel(fs, "box1", "b"), "1")
	if m.notice != "invalid input" || !strings.Contains(m.View(), "invalid input") {
		t.Fatalf("notice %q not rendered", m.notice)
	}
	m = press(m, "r")
	if m.notice != "" {
		t.Fatal("notice kept after next key")
	}
}

func TestWatchQuit(t *testing.T) {
	m := newWatchModel(&fakeSession{}, "box1", "b")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil || !next.(watchModel).quitting {
		t.Fatal("ctrl+c did not quit")
	}
}

func TestWatchTickRefreshesSnapshot(t *testing.T) {
	fs := &fakeSession{}
	m := newWatchModel(fs, "box1", "b")

	fs.snap = models.Snapshot{
		DeviceID:    "box1",
		Broker:      "broker.local",
		Session:     models.SessionConnected,
		Telemetry:   models.Telemetry{TempEnv: models.Float(21.25), HeaterOn: models.Bool(true)},
		Config:      models.DeviceConfig{FeedDurationMs: models.Int(4500)},
		Online:      true,
		Feeding:     true,
		LastWarning: "water low",
	}
	fs.logs = []models.LogEntry{{Time: time.Now(), Level: models.LogSuccess, Message: "Connected to MQTT broker"}}

	next, cmd := m.Update(watchTickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick not rescheduled")
	}
	view := next.(watchModel).View()
	for _, want := range []string{"box1", "CONNECTED", "21.2°C", "ON", "Mist", "--", "Feeding...", "water low", "4.5", "Connected to MQTT broker"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestWatchEmptyState(t *testing.T) {
	view := newWatchModel(&fakeSession{}, "", "").View()
	if !strings.Contains(view, "No activity yet") || !strings.Contains(view, "offline") {
		t.Fatalf("unexpected empty view:\n%s", view)
	}
}

func TestParseControlArgs(t *testing.T) {
	cases := []struct {
		args   []string
		ch     models.ControlChannel
		action string
		ok     bool
	}{
		{[]string{"heater", "on"}, models.ControlHeater, "ON", true},
		{[]string{"MIST", "auto"}, models.ControlMist, "AUTO", true},
		{[]string{"feed"}, models.ControlFeed, "TRIGGER", true},
		{[]string{"mode", "manual"}, models.ControlMode, "MANUAL", true},
		{[]string{"heater"}, "", "", false},
		{[]string{"fan", "on"}, "", "", false},
	}
	for _, c := range cases {
		ch, action, err := parseControlArgs(c.args)
		if (err == nil) != c.ok || ch != c.ch || action != c.action {
			t.Errorf("parseControlArgs(%v) = %q %q %v", c.args, ch, action, err)
		}
	}
}

func TestConfigRowsUseDisplayUnits(t *testing.T) {
	rows := configRows(models.DeviceConfig{
		FeedDurationMs:        models.Int(4500),
		UploadIntervalSeconds: models.Int(600),
	})
	if len(rows) != len(formFields) {
		t.Fatalf("got %d rows", len(rows))
	}
	values := map[string]string{}
	for _, r := range rows {
		values[r[0]] = r[1]
	}
	if values["Feed duration"] != "4.5" || values["Upload interval"] != "10" || values["Heater on below"] != "--" {
		t.Fatalf("unexpected rows %v", values)
	}
}

func TestFormFieldFlagsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range formFields {
		if seen[f.flag] {
			t.Fatalf("duplicate flag %s", f.flag)
		}
		seen[f.flag] = true
		if configSetCmd.Flags().Lookup(f.flag) == nil {
			t.Fatalf("flag %s not registered", f.flag)
		}
	}
}

func TestLogFeedAwait(t *testing.T) {
	ctx := context.Background()

	feed := make(logFeed, 4)
	feed <- models.LogEntry{Level: models.LogInfo, Message: "Connecting to b"}
	feed <- models.LogEntry{Level: models.LogInfo, Message: "Sent heater ON"}
	if err := awaitPrefix(ctx, feed, "Sent heater"); err != nil {
		t.Fatal(err)
	}

	feed <- models.LogEntry{Level: models.LogError, Message: "Connect to a device first", Err: errors.New("not connected")}
	err := awaitPrefix(ctx, feed, "Sent heater")
	if err == nil || !strings.Contains(err.Error(), "Connect to a device first") {
		t.Fatalf("expected error entry to fail the wait, got %v", err)
	}

	err = feed.await(ctx, 20*time.Millisecond, func(models.LogEntry) bool { return true })
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestAwaitConfig(t *testing.T) {
	ctx := context.Background()
	configs, obs := newConfigFeed()
	feed := make(logFeed, 4)

	// a success entry alone does not end the wait
	feed <- models.LogEntry{Level: models.LogSuccess, Message: "Device config loaded"}
	obs.ConfigReceived("box1", models.DeviceConfig{HeatOn: models.Float(18)})
	cfg, err := awaitConfig(ctx, time.Second, configs, feed)
	if err != nil || cfg.HeatOn == nil || *cfg.HeatOn != 18 {
		t.Fatalf("unexpected config %+v %v", cfg, err)
	}

	feed <- models.LogEntry{Level: models.LogError, Message: "Publish to farm/command/box1 failed"}
	if _, err := awaitConfig(ctx, time.Second, configs, feed); err == nil || !strings.Contains(err.Error(), "Publish to") {
		t.Fatalf("expected error entry to fail the wait, got %v", err)
	}

	if _, err := awaitConfig(ctx, 20*time.Millisecond, configs, feed); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestTopicRowsCoverEveryTopic(t *testing.T) {
	topics := models.DeriveTopics("box1")
	rows := topicRows(topics)
	if len(rows) != len(topics.All())+1 {
		t.Fatalf("expected %d rows, got %d", len(topics.All())+1, len(rows))
	}
	if rows[0][1] != topics.Telemetry || rows[0][2] != "in" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	last := rows[len(rows)-1]
	if last[0] != "debug" || last[1] != topics.Debug {
		t.Fatalf("unexpected debug row %v", last)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", " box2 ", "box3"); got != "box2" {
		t.Fatalf("got %q", got)
	}
	if firstNonEmpty("", "") != "" {
		t.Fatal("expected empty")
	}
}
