package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"barleybox/codec"
	"barleybox/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	topic   string
	payload string
}

type fakeTransport struct {
	opts       DialOptions
	handlers   TransportHandlers
	subscribed []string
	subErr     map[string]error
	published  []published
	pubErr     error
	connected  bool
	closed     bool
}

func (f *fakeTransport) Subscribe(topic string, done func(error)) {
	f.subscribed = append(f.subscribed, topic)
	done(f.subErr[topic])
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, published{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) Close() { f.closed = true }

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) Dial(opts DialOptions, h TransportHandlers) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTransport{opts: opts, handlers: h, connected: true, subErr: map[string]error{}}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// advance moves time forward, firing due timers in order and running the
// work they enqueue
func (c *fakeClock) advance(s *SessionController, d time.Duration) {
	target := c.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		c.now = next.at
		next.fired = true
		next.fn()
		drain(s)
	}
	c.now = target
}

func drain(s *SessionController) {
	for {
		select {
		case fn := <-s.queue:
			fn()
		default:
			return
		}
	}
}

type harness struct {
	ctrl   *SessionController
	dialer *fakeDialer
	clock  *fakeClock
	store  *MemoryStore
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	h := &harness{
		dialer: &fakeDialer{},
		clock:  newFakeClock(),
		store:  NewMemoryStore(),
		logs:   logs,
	}
	h.ctrl = NewSessionController(logger, h.dialer, NewSessionStore(h.store, logger), SessionOptions{
		Clock:    h.clock,
		ClientID: func(id string) string { return "web-" + id + "-test" },
	})
	return h
}

// connected opens a session and completes the broker handshake
func (h *harness) connected(t *testing.T, deviceID string) *fakeTransport {
	t.Helper()
	if err := h.ctrl.Connect(deviceID, "broker.example.com"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	drain(h.ctrl)
	tr := h.dialer.last()
	tr.handlers.OnConnect()
	drain(h.ctrl)
	if got := h.ctrl.State(); got != models.SessionConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	return tr
}

func (h *harness) deliver(tr *fakeTransport, topic, payload string) {
	tr.handlers.OnMessage(topic, []byte(payload))
	drain(h.ctrl)
}

func hasLogErr(entries []models.LogEntry, target error) bool {
	for _, e := range entries {
		if errors.Is(e.Err, target) {
			return true
		}
	}
	return false
}

func TestConnectRejectsEmptyInput(t *testing.T) {
	h := newHarness(t)
	for _, args := range [][2]string{{"", "broker"}, {"box1", ""}, {"  ", "broker"}} {
		if err := h.ctrl.Connect(args[0], args[1]); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Connect(%q, %q) = %v, want ErrInvalidInput", args[0], args[1], err)
		}
	}
	drain(h.ctrl)
	if h.dialer.count() != 0 {
		t.Fatalf("expected no dial, got %d", h.dialer.count())
	}
	if h.ctrl.State() != models.SessionDisconnected {
		t.Fatalf("state changed to %s", h.ctrl.State())
	}
}

func TestConnectDialsWithSessionOptions(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	if tr.opts.URL != "wss://broker.example.com:8084/mqtt" {
		t.Errorf("unexpected url %q", tr.opts.URL)
	}
	if tr.opts.ClientID != "web-box1-test" || !tr.opts.Clean {
		t.Errorf("unexpected dial options %+v", tr.opts)
	}
	want := models.DeriveTopics("box1").Inbound()
	if len(tr.subscribed) != len(want) {
		t.Fatalf("subscribed %v, want %v", tr.subscribed, want)
	}
	for i := range want {
		if tr.subscribed[i] != want[i] {
			t.Errorf("subscription %d = %q, want %q", i, tr.subscribed[i], want[i])
		}
	}
	if id, _, _ := h.store.Get(context.Background(), "deviceId"); id != "box1" {
		t.Errorf("device id not persisted, got %q", id)
	}
	if b, _, _ := h.store.Get(context.Background(), "mqttBroker"); b != "broker.example.com" {
		t.Errorf("broker not persisted, got %q", b)
	}
}

func TestCommandsBeforeConnectDoNotPublish(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.SendControl(models.ControlHeater, "ON"); err != nil {
		t.Fatalf("valid action rejected: %v", err)
	}
	h.ctrl.RequestConfig()
	drain(h.ctrl)
	if !hasLogErr(h.ctrl.Logs(), ErrNotConnected) {
		t.Fatal("expected a not connected log entry")
	}

	// a dialled but not yet connected transport must not be used either
	if err := h.ctrl.Connect("box1", "broker.example.com"); err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)
	if err := h.ctrl.TriggerFeed(); err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)
	if n := len(h.dialer.last().published); n != 0 {
		t.Fatalf("expected no publish, got %d", n)
	}
}

func TestSendControlPublishesRawToken(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	if err := h.ctrl.SendControl(models.ControlMist, "off"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.SendMode(models.ModeManual); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.SendControl(models.ControlFeed, "ON"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	drain(h.ctrl)

	want := []published{
		{"farm/control/box1/mist", "OFF"},
		{"farm/control/box1/mode", "MANUAL"},
	}
	if len(tr.published) != len(want) {
		t.Fatalf("published %v, want %v", tr.published, want)
	}
	for i := range want {
		if tr.published[i] != want[i] {
			t.Errorf("publish %d = %v, want %v", i, tr.published[i], want[i])
		}
	}
}

func TestSettleDelayRequestsConfig(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.clock.advance(h.ctrl, SettleDelay-time.Millisecond)
	if len(tr.published) != 0 {
		t.Fatalf("published before settle delay: %v", tr.published)
	}
	h.clock.advance(h.ctrl, time.Millisecond)
	if len(tr.published) != 1 {
		t.Fatalf("expected one publish, got %v", tr.published)
	}
	if got := tr.published[0]; got.topic != "farm/command/box1" || got.payload != "publish_config" {
		t.Fatalf("unexpected request %v", got)
	}
}

func TestSwitchingDeviceLeavesOneTransport(t *testing.T) {
	h := newHarness(t)
	first := h.connected(t, "box1")
	h.deliver(first, "farm/telemetry/box1", `{"temp_env": 21.5}`)

	if err := h.ctrl.Connect("box2", "broker.example.com"); err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)
	second := h.dialer.last()

	if !first.closed {
		t.Fatal("first transport still open")
	}
	if second.closed {
		t.Fatal("second transport closed")
	}

	// late events from the superseded transport are ignored
	first.handlers.OnConnect()
	first.handlers.OnMessage("farm/telemetry/box1", []byte(`{"temp_env": 30}`))
	first.handlers.OnOffline()
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionConnecting {
		t.Fatalf("stale events changed state to %s", h.ctrl.State())
	}
	if snap := h.ctrl.Snapshot(); snap.Telemetry.TempEnv != nil {
		t.Fatalf("device state not reset on switch: %v", *snap.Telemetry.TempEnv)
	}

	second.handlers.OnConnect()
	drain(h.ctrl)
	for _, topic := range second.subscribed {
		if topic == "farm/telemetry/box1" || topic == "farm/status/box1" {
			t.Fatalf("box1 topic %q subscribed on new session", topic)
		}
	}
	if len(second.subscribed) != 3 || len(first.subscribed) != 3 {
		t.Fatalf("unexpected subscriptions first=%v second=%v", first.subscribed, second.subscribed)
	}
	if got := h.ctrl.Topics().Telemetry; got != "farm/telemetry/box2" {
		t.Fatalf("topics not switched: %s", got)
	}
}

func TestTelemetryMergesPartially(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.deliver(tr, "farm/telemetry/box1", `{"temp_env": 21.5, "hum_env": 60, "heater_on": true}`)
	h.deliver(tr, "farm/telemetry/box1", `{"temp_env": 22}`)

	snap := h.ctrl.Snapshot()
	if *snap.Telemetry.TempEnv != 22 || *snap.Telemetry.HumEnv != 60 || !*snap.Telemetry.HeaterOn {
		t.Fatalf("unexpected telemetry %+v", snap.Telemetry)
	}
	if !snap.LastUpdate.Equal(h.clock.Now()) {
		t.Fatalf("last update %v, want %v", snap.LastUpdate, h.clock.Now())
	}
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")
	h.deliver(tr, "farm/telemetry/box1", `{"temp_env": 21.5}`)

	h.deliver(tr, "farm/telemetry/box1", `{"temp_env": 2`)
	h.deliver(tr, "farm/status/box1", `not json`)

	snap := h.ctrl.Snapshot()
	if *snap.Telemetry.TempEnv != 21.5 {
		t.Fatalf("telemetry changed by malformed payload: %v", *snap.Telemetry.TempEnv)
	}
	if h.ctrl.State() != models.SessionConnected {
		t.Fatalf("session state changed to %s", h.ctrl.State())
	}
	if !hasLogErr(h.ctrl.Logs(), codec.ErrMalformedPayload) {
		t.Fatal("expected a malformed payload log entry")
	}
	if n := h.logs.FilterMessage("Dropped malformed message on farm/telemetry/box1").Len(); n != 1 {
		t.Fatalf("expected one zap entry, got %d", n)
	}
}

func TestUnknownTopicIsIgnored(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")
	before := h.ctrl.Snapshot()

	h.deliver(tr, "farm/other/box1", `{"temp_env": 40}`)

	after := h.ctrl.Snapshot()
	if after.Telemetry.TempEnv != nil || !after.LastUpdate.Equal(before.LastUpdate) {
		t.Fatalf("unknown topic changed state: %+v", after)
	}
	if h.logs.FilterMessage("Ignoring message on unexpected topic").Len() != 1 {
		t.Fatal("expected unexpected topic to be logged")
	}
}

func TestFeedFlagRearmsOnNewEvent(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.deliver(tr, "farm/status/box1", `{"event": "feed"}`)
	if !h.ctrl.Snapshot().Feeding {
		t.Fatal("feeding not set")
	}
	h.clock.advance(h.ctrl, 1000*time.Millisecond)
	h.deliver(tr, "farm/status/box1", `{"event": "feed"}`)

	h.clock.advance(h.ctrl, 2999*time.Millisecond)
	if !h.ctrl.Snapshot().Feeding {
		t.Fatal("feeding cleared before 3000ms after the last event")
	}
	h.clock.advance(h.ctrl, time.Millisecond)
	if h.ctrl.Snapshot().Feeding {
		t.Fatal("feeding still set 3000ms after the last event")
	}
}

func TestStatusEventsUpdateDeviceState(t *testing.T) {
	h := newHarness(t)
	var statuses []models.StatusEvent
	h.ctrl.observers = append(h.ctrl.observers, ObserverFuncs{
		OnStatus: func(_ string, ev models.StatusEvent) { statuses = append(statuses, ev) },
	})
	tr := h.connected(t, "box1")

	h.deliver(tr, "farm/status/box1", `{"status": "online", "warning": "water low"}`)

	snap := h.ctrl.Snapshot()
	if !snap.Online || snap.LastWarning != "water low" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(statuses) != 2 || statuses[0].Kind != models.StatusWarning || statuses[1].Kind != models.StatusOnline {
		t.Fatalf("unexpected observed statuses %v", statuses)
	}
}

func TestConfigEchoMergesIntoState(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.deliver(tr, "farm/config/box1/current", `{"T_heat_on": 18, "feed_duration_ms": 4500, "mode": "AUTO"}`)

	cfg := h.ctrl.Snapshot().Config
	if *cfg.HeatOn != 18 || *cfg.FeedDurationMs != 4500 || *cfg.Mode != models.ModeAuto {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if codec.FormFromConfig(cfg).FeedDurationSeconds != "4.5" {
		t.Fatalf("feed duration not shown in seconds: %q", codec.FormFromConfig(cfg).FeedDurationSeconds)
	}
}

func TestConfigEchoNotifiesObserversWithMergedConfig(t *testing.T) {
	h := newHarness(t)
	var got []models.DeviceConfig
	h.ctrl.observers = append(h.ctrl.observers, ObserverFuncs{
		OnConfig: func(deviceID string, cfg models.DeviceConfig) {
			if deviceID != "box1" {
				t.Errorf("unexpected device %q", deviceID)
			}
			got = append(got, cfg)
		},
	})
	tr := h.connected(t, "box1")

	h.deliver(tr, "farm/config/box1/current", `{"T_heat_on": 18}`)
	h.deliver(tr, "farm/config/box1/current", `{"feed_duration_ms": 4500}`)
	h.deliver(tr, "farm/telemetry/box1", `{"temp_env": 21}`)

	if len(got) != 2 {
		t.Fatalf("expected 2 config notifications, got %d", len(got))
	}
	if got[1].HeatOn == nil || *got[1].HeatOn != 18 || *got[1].FeedDurationMs != 4500 {
		t.Fatalf("second notification not merged: %+v", got[1])
	}
}

func TestSendConfigPublishesAndCaches(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	err := h.ctrl.SendConfigForm(codec.ConfigForm{
		HeatOn:               "18.5",
		FeedDurationSeconds:  "4.5",
		FeedMinIntervalHours: "30",
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)

	if len(tr.published) != 1 || tr.published[0].topic != "farm/config/box1" {
		t.Fatalf("unexpected publishes %v", tr.published)
	}
	cfg, err := codec.DecodeConfig([]byte(tr.published[0].payload))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg.HeatOn != 18.5 || *cfg.FeedDurationMs != 4500 || cfg.FeedMinIntervalHours != nil {
		t.Fatalf("unexpected payload %s", tr.published[0].payload)
	}
	cached, ok, _ := h.store.Get(context.Background(), ConfigKey("box1"))
	if !ok || cached != tr.published[0].payload {
		t.Fatalf("config not cached: %q", cached)
	}
}

func TestSendConfigRejectsEmptyPatch(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	if err := h.ctrl.SendConfig(models.DeviceConfig{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	drain(h.ctrl)
	if len(tr.published) != 0 {
		t.Fatalf("unexpected publishes %v", tr.published)
	}
}

func TestPublishFailureIsReported(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")
	tr.pubErr = errors.New("link down")

	if err := h.ctrl.SendConfig(models.DeviceConfig{HeatOn: models.Float(20)}); err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)

	if !hasLogErr(h.ctrl.Logs(), ErrTransport) {
		t.Fatal("expected a transport error entry")
	}
	if _, ok, _ := h.store.Get(context.Background(), ConfigKey("box1")); ok {
		t.Fatal("config cached although publish failed")
	}
}

func TestOfflineAndReconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	tr.handlers.OnError(errors.New("connack timeout"))
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionConnected {
		t.Fatalf("error changed state to %s", h.ctrl.State())
	}
	if !hasLogErr(h.ctrl.Logs(), ErrTransport) {
		t.Fatal("expected transport error entry")
	}

	tr.handlers.OnOffline()
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionDisconnected {
		t.Fatalf("expected disconnected, got %s", h.ctrl.State())
	}

	tr.handlers.OnReconnect()
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionReconnecting {
		t.Fatalf("expected reconnecting, got %s", h.ctrl.State())
	}
	if len(tr.subscribed) != 3 {
		t.Fatalf("reconnecting must not resubscribe, got %v", tr.subscribed)
	}

	tr.handlers.OnConnect()
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionConnected || len(tr.subscribed) != 6 {
		t.Fatalf("state %s subscriptions %v", h.ctrl.State(), tr.subscribed)
	}
}

func TestOfflineCancelsSettleRequest(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	tr.handlers.OnOffline()
	drain(h.ctrl)
	h.clock.advance(h.ctrl, SettleDelay)
	if len(tr.published) != 0 {
		t.Fatalf("settle request published while offline: %v", tr.published)
	}
}

func TestLivenessPollDetectsSilentDrop(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.clock.advance(h.ctrl, LivenessInterval)
	if h.ctrl.State() != models.SessionConnected {
		t.Fatalf("healthy link marked %s", h.ctrl.State())
	}

	tr.connected = false
	h.clock.advance(h.ctrl, LivenessInterval)
	if h.ctrl.State() != models.SessionDisconnected {
		t.Fatalf("expected disconnected, got %s", h.ctrl.State())
	}
}

func TestSubscriptionFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Connect("box1", "broker.example.com"); err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)
	tr := h.dialer.last()
	tr.subErr["farm/status/box1"] = errors.New("not authorized")
	tr.handlers.OnConnect()
	drain(h.ctrl)

	if h.ctrl.State() != models.SessionConnected {
		t.Fatalf("expected connected, got %s", h.ctrl.State())
	}
	if !hasLogErr(h.ctrl.Logs(), ErrTransport) {
		t.Fatal("expected subscription failure to be logged")
	}
	h.deliver(tr, "farm/telemetry/box1", `{"hum_env": 55}`)
	if *h.ctrl.Snapshot().Telemetry.HumEnv != 55 {
		t.Fatal("telemetry not processed after partial subscription failure")
	}
}

func TestDialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("bad url")

	if err := h.ctrl.Connect("box1", "broker.example.com"); err != nil {
		t.Fatal(err)
	}
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionDisconnected {
		t.Fatalf("expected disconnected, got %s", h.ctrl.State())
	}
	if !hasLogErr(h.ctrl.Logs(), ErrTransport) {
		t.Fatal("expected transport error entry")
	}
}

func TestDebugTools(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.ctrl.Resubscribe()
	h.ctrl.TestPublish()
	drain(h.ctrl)

	if len(tr.subscribed) != 6 {
		t.Fatalf("expected resubscription, got %v", tr.subscribed)
	}
	if len(tr.published) != 1 || tr.published[0].topic != "farm/test/box1" {
		t.Fatalf("unexpected publishes %v", tr.published)
	}
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")

	h.ctrl.Disconnect()
	drain(h.ctrl)
	if !tr.closed || h.ctrl.State() != models.SessionDisconnected {
		t.Fatalf("closed=%v state=%s", tr.closed, h.ctrl.State())
	}
	tr.handlers.OnConnect()
	drain(h.ctrl)
	if h.ctrl.State() != models.SessionDisconnected {
		t.Fatal("closed transport revived the session")
	}
}

func TestLogIsBounded(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t, "box1")
	for i := 0; i < MaxLogEntries+10; i++ {
		h.deliver(tr, "farm/status/box1", `{"warning": "hot"}`)
	}
	logs := h.ctrl.Logs()
	if len(logs) != MaxLogEntries {
		t.Fatalf("expected %d entries, got %d", MaxLogEntries, len(logs))
	}
	if logs[len(logs)-1].Message != "Device warning: hot" {
		t.Fatalf("newest entry not kept: %q", logs[len(logs)-1].Message)
	}
}

func TestRestoreSeedsCachedConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.store.Set(ctx, "deviceId", "box7")
	_ = h.store.Set(ctx, "mqttBroker", "mqtt.local")
	_ = h.store.Set(ctx, ConfigKey("box7"), `{"H_mist_on": 70, "upload_interval_seconds": 600}`)

	id, broker, err := h.ctrl.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "box7" || broker != "mqtt.local" {
		t.Fatalf("restored %q %q", id, broker)
	}
	drain(h.ctrl)

	snap := h.ctrl.Snapshot()
	if snap.Config.MistOn == nil || *snap.Config.MistOn != 70 {
		t.Fatalf("cached config not seeded: %+v", snap.Config)
	}
	if codec.FormFromConfig(snap.Config).UploadIntervalMinutes != "10" {
		t.Fatal("upload interval not shown in minutes")
	}

	// connecting to the restored device keeps the seeded config
	h.connected(t, "box7")
	if h.ctrl.Snapshot().Config.MistOn == nil {
		t.Fatal("seeded config lost on connect")
	}
}

func TestRunStopsAndClosesTransport(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	dialer := &fakeDialer{}
	ctrl := NewSessionController(zap.New(core), dialer, nil, SessionOptions{Clock: newFakeClock()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	if err := ctrl.Connect("box1", "broker.example.com"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for dialer.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never dialled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if !dialer.last().closed {
		t.Fatal("transport not closed on shutdown")
	}
	if ctrl.State() != models.SessionDisconnected {
		t.Fatalf("expected disconnected, got %s", ctrl.State())
	}
}
