package main

import (
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"

	"barleybox/codec"
	"barleybox/models"

	"go.uber.org/zap"
)

// outbound is one message the simulated device wants to publish
type outbound struct {
	topic   string
	payload []byte
}

// SimulatedBox mimics the barley box firmware: it owns a config, drives its
// heater and mist from the thresholds in AUTO and answers the dashboard
type SimulatedBox struct {
	topics models.TopicSet
	cfg    models.DeviceConfig
	mode   models.Mode

	// last control token per actuator, AUTO follows the thresholds
	heaterCmd string
	mistCmd   string
	heaterOn  bool
	mistOn    bool

	tempEnv float64
	humEnv  float64
	tempSub float64

	rng    *rand.Rand
	mu     sync.Mutex
	logger *zap.Logger
}

func defaultBoxConfig() models.DeviceConfig {
	return models.DeviceConfig{
		HeatOn:                models.Float(18),
		HeatOff:               models.Float(22),
		HeaterMaxTemp:         models.Float(35),
		NTCLowTempThreshold:   models.Float(15),
		NTCHeatOnMinutes:      models.Int(10),
		NTCRefVoltage:         models.Float(3.3),
		NTCTempOffset:         models.Float(0),
		MistOn:                models.Float(60),
		MistOff:               models.Float(75),
		MistMaxOnSeconds:      models.Int(30),
		MistMinOffSeconds:     models.Int(120),
		FeedDurationMs:        models.Int(3000),
		FeedMinIntervalHours:  models.Int(4),
		FeedTimesCSV:          models.String("06:00,18:00"),
		UploadIntervalSeconds: models.Int(60),
		Mode:                  models.ModePtr(models.ModeAuto),
	}
}

func NewSimulatedBox(deviceID string, rng *rand.Rand, logger *zap.Logger) *SimulatedBox {
	return &SimulatedBox{
		topics:    models.DeriveTopics(deviceID),
		cfg:       defaultBoxConfig(),
		mode:      models.ModeAuto,
		heaterCmd: models.ActionAuto,
		mistCmd:   models.ActionAuto,
		tempEnv:   20.0, // Base air temperature ~20°C
		humEnv:    65.0, // Base humidity ~65%
		tempSub:   19.0,
		rng:       rng,
		logger:    logger,
	}
}

// Subscriptions lists the topics the device listens on
func (b *SimulatedBox) Subscriptions() []string {
	return []string{
		b.topics.ConfigIn,
		b.topics.Command,
		b.topics.ControlHeater,
		b.topics.ControlMist,
		b.topics.ControlFeed,
		b.topics.ControlMode,
	}
}

// Online announces the device after it connects
func (b *SimulatedBox) Online() outbound {
	return b.status(map[string]string{"status": "online"})
}

// Handle reacts to one inbound message and returns what to publish in reply
func (b *SimulatedBox) Handle(topic string, payload []byte) []outbound {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := strings.ToUpper(strings.TrimSpace(string(payload)))

	switch topic {
	case b.topics.Command:
		if strings.TrimSpace(string(payload)) != models.CommandPublishConfig {
			b.logger.Warn("Unknown command", zap.String("command", string(payload)))
			return nil
		}
		return b.configEcho()

	case b.topics.ConfigIn:
		patch, err := codec.DecodeConfig(payload)
		if err != nil {
			b.logger.Warn("Rejected config push", zap.Error(err))
			return nil
		}
		b.cfg = b.cfg.Merge(codec.SanitizeConfig(patch))
		if b.cfg.Mode != nil {
			b.mode = *b.cfg.Mode
		}
		b.logger.Info("Config updated", zap.ByteString("patch", payload))
		return b.configEcho()

	case b.topics.ControlHeater:
		if codec.ValidateAction(models.ControlHeater, token) != nil {
			return nil
		}
		b.heaterCmd = token
		b.applyActuators()
		return []outbound{b.telemetry()}

	case b.topics.ControlMist:
		if codec.ValidateAction(models.ControlMist, token) != nil {
			return nil
		}
		b.mistCmd = token
		b.applyActuators()
		return []outbound{b.telemetry()}

	case b.topics.ControlFeed:
		if token != models.ActionTrigger {
			return nil
		}
		b.logger.Info("Feeder triggered")
		return []outbound{b.status(map[string]string{"event": "feed"})}

	case b.topics.ControlMode:
		m := models.Mode(token)
		if !m.Valid() {
			return nil
		}
		b.mode = m
		b.cfg.Mode = models.ModePtr(m)
		b.applyActuators()
		return []outbound{b.telemetry()}
	}
	return nil
}

// Tick advances the simulated climate one step and reports it
func (b *SimulatedBox) Tick() []outbound {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Heater and mist push the climate, the room pulls it back
	if b.heaterOn {
		b.tempEnv += 0.4
		b.tempSub += 0.2
	} else {
		b.tempEnv -= 0.2
		b.tempSub -= 0.1
	}
	if b.mistOn {
		b.humEnv += 2.0
	} else {
		b.humEnv -= 0.8
	}
	b.tempEnv += b.rng.Float64()*0.4 - 0.2
	b.humEnv += b.rng.Float64()*2.0 - 1.0
	b.humEnv = math.Max(0, math.Min(100, b.humEnv))

	b.applyActuators()

	out := []outbound{b.telemetry()}
	if b.cfg.HeaterMaxTemp != nil && b.tempEnv > *b.cfg.HeaterMaxTemp {
		out = append(out, b.status(map[string]string{"warning": "Air temperature above heater max"}))
	}
	return out
}

// applyActuators sets the switches from explicit commands or, in AUTO,
// from the hysteresis thresholds
func (b *SimulatedBox) applyActuators() {
	b.heaterOn = resolveSwitch(b.heaterCmd, b.mode, b.heaterOn, b.tempEnv, b.cfg.HeatOn, b.cfg.HeatOff)
	b.mistOn = resolveSwitch(b.mistCmd, b.mode, b.mistOn, b.humEnv, b.cfg.MistOn, b.cfg.MistOff)
}

// resolveSwitch turns on below onBelow and off above offAbove, holding in between
func resolveSwitch(cmd string, mode models.Mode, current bool, value float64, onBelow, offAbove *float64) bool {
	switch cmd {
	case models.ActionOn:
		return true
	case models.ActionOff:
		return false
	}
	if mode != models.ModeAuto {
		return current
	}
	if onBelow != nil && value < *onBelow {
		return true
	}
	if offAbove != nil && value > *offAbove {
		return false
	}
	return current
}

func (b *SimulatedBox) telemetry() outbound {
	payload, err := json.Marshal(models.Telemetry{
		TempEnv:  models.Float(math.Round(b.tempEnv*10) / 10),
		HumEnv:   models.Float(math.Round(b.humEnv*10) / 10),
		TempSub:  models.Float(math.Round(b.tempSub*10) / 10),
		Mode:     models.ModePtr(b.mode),
		HeaterOn: models.Bool(b.heaterOn),
		MistOn:   models.Bool(b.mistOn),
	})
	if err != nil {
		b.logger.Error("Failed to marshal telemetry", zap.Error(err))
	}
	return outbound{topic: b.topics.Telemetry, payload: payload}
}

func (b *SimulatedBox) configEcho() []outbound {
	payload, err := codec.EncodeConfig(b.cfg)
	if err != nil {
		b.logger.Error("Failed to marshal config", zap.Error(err))
		return nil
	}
	return []outbound{{topic: b.topics.ConfigOut, payload: payload}}
}

func (b *SimulatedBox) status(fields map[string]string) outbound {
	payload, _ := json.Marshal(fields)
	return outbound{topic: b.topics.Status, payload: payload}
}
