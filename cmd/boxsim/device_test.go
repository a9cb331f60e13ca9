package main

import (
	"math/rand"
	"testing"

	"barleybox/codec"
	"barleybox/models"

	"go.uber.org/zap"
)

var topics = models.DeriveTopics("box1")

func newTestBox() *SimulatedBox {
	return NewSimulatedBox("box1", rand.New(rand.NewSource(1)), zap.NewNop())
}

func TestPublishConfigEchoesConfig(t *testing.T) {
	b := newTestBox()
	out := b.Handle(topics.Command, []byte("publish_config"))
	if len(out) != 1 || out[0].topic != topics.ConfigOut {
		t.Fatalf("unexpected reply %+v", out)
	}
	cfg, err := codec.DecodeConfig(out[0].payload)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeatOn == nil || *cfg.HeatOn != 18 || cfg.FeedDurationMs == nil || *cfg.FeedDurationMs != 3000 {
		t.Fatalf("unexpected echo %s", out[0].payload)
	}

	if out := b.Handle(topics.Command, []byte("reboot")); out != nil {
		t.Fatalf("unknown command answered: %+v", out)
	}
}

func TestConfigPushIsMerged(t *testing.T) {
	b := newTestBox()
	out := b.Handle(topics.ConfigIn, []byte(`{"T_heat_on":16.5,"feed_min_interval_hours":99}`))
	if len(out) != 1 {
		t.Fatalf("expected config echo, got %+v", out)
	}
	cfg, _ := codec.DecodeConfig(out[0].payload)
	if *cfg.HeatOn != 16.5 || *cfg.HeatOff != 22 {
		t.Fatalf("push not merged: %s", out[0].payload)
	}
	if *cfg.FeedMinIntervalHours != 4 {
		t.Fatalf("out of range interval accepted: %s", out[0].payload)
	}

	if out := b.Handle(topics.ConfigIn, []byte("not json")); out != nil {
		t.Fatal("malformed push answered")
	}
}

func TestControlsDriveActuators(t *testing.T) {
	b := newTestBox()

	out := b.Handle(topics.ControlHeater, []byte("ON"))
	tel, err := codec.DecodeTelemetry(out[0].payload)
	if err != nil || tel.HeaterOn == nil || !*tel.HeaterOn {
		t.Fatalf("heater not on: %s", out[0].payload)
	}

	out = b.Handle(topics.ControlMode, []byte("MANUAL"))
	tel, _ = codec.DecodeTelemetry(out[0].payload)
	if *tel.Mode != models.ModeManual {
		t.Fatalf("mode not switched: %s", out[0].payload)
	}

	if out := b.Handle(topics.ControlMist, []byte("BLINK")); out != nil {
		t.Fatal("invalid action accepted")
	}
}

func TestFeedTriggerEmitsFeedEvent(t *testing.T) {
	b := newTestBox()
	out := b.Handle(topics.ControlFeed, []byte("TRIGGER"))
	if len(out) != 1 || out[0].topic != topics.Status {
		t.Fatalf("unexpected reply %+v", out)
	}
	events, err := codec.DecodeStatus(out[0].payload)
	if err != nil || len(events) != 1 || events[0].Kind != models.StatusFeedTriggered {
		t.Fatalf("unexpected status %s", out[0].payload)
	}
}

func TestAutoModeFollowsThresholds(t *testing.T) {
	cases := []struct {
		value   float64
		current bool
		want    bool
	}{
		{17, false, true},
		{20, true, true},
		{20, false, false},
		{23, true, false},
	}
	for _, c := range cases {
		got := resolveSwitch(models.ActionAuto, models.ModeAuto, c.current, c.value, models.Float(18), models.Float(22))
		if got != c.want {
			t.Errorf("value %.0f current %v: got %v", c.value, c.current, got)
		}
	}
	if resolveSwitch(models.ActionAuto, models.ModeManual, false, 10, models.Float(18), models.Float(22)) {
		t.Error("manual mode followed thresholds")
	}
}

func TestOnlineAnnouncement(t *testing.T) {
	events, err := codec.DecodeStatus(newTestBox().Online().payload)
	if err != nil || len(events) != 1 || events[0].Kind != models.StatusOnline {
		t.Fatalf("unexpected online status %+v %v", events, err)
	}
}
