package models

import (
	"fmt"
	"strings"
)

// Namespace is the root of every barley box topic
const Namespace = "farm"

// ControlChannel identifies one of the actuator control topics
type ControlChannel string

const (
	ControlHeater ControlChannel = "heater"
	ControlMist   ControlChannel = "mist"
	ControlFeed   ControlChannel = "feed"
	ControlMode   ControlChannel = "mode"
)

// ControlChannels lists every actuator channel in topic order
var ControlChannels = []ControlChannel{ControlHeater, ControlMist, ControlFeed, ControlMode}

// TopicSet holds every topic name derived from one device identity
type TopicSet struct {
	Telemetry     string `json:"telemetry"`
	Status        string `json:"status"`
	ConfigIn      string `json:"config_in"`
	ConfigOut     string `json:"config_out"`
	Command       string `json:"command"`
	ControlHeater string `json:"control_heater"`
	ControlMist   string `json:"control_mist"`
	ControlFeed   string `json:"control_feed"`
	ControlMode   string `json:"control_mode"`
	Debug         string `json:"debug"`
}

// topicSegmentEscaper keeps an identity inside a single topic level.
// '%' is escaped first so the mapping stays injective.
var topicSegmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

// DeriveTopics builds the topic set for a device identity.
// The identity is always exactly one topic level, so two different
// identities never share a topic.
func DeriveTopics(identity string) TopicSet {
	deviceID := topicSegmentEscaper.Replace(identity)
	return TopicSet{
		Telemetry:     fmt.Sprintf("%s/telemetry/%s", Namespace, deviceID),
		Status:        fmt.Sprintf("%s/status/%s", Namespace, deviceID),
		ConfigIn:      fmt.Sprintf("%s/config/%s", Namespace, deviceID),
		ConfigOut:     fmt.Sprintf("%s/config/%s/current", Namespace, deviceID),
		Command:       fmt.Sprintf("%s/command/%s", Namespace, deviceID),
		ControlHeater: fmt.Sprintf("%s/control/%s/%s", Namespace, deviceID, ControlHeater),
		ControlMist:   fmt.Sprintf("%s/control/%s/%s", Namespace, deviceID, ControlMist),
		ControlFeed:   fmt.Sprintf("%s/control/%s/%s", Namespace, deviceID, ControlFeed),
		ControlMode:   fmt.Sprintf("%s/control/%s/%s", Namespace, deviceID, ControlMode),
		Debug:         fmt.Sprintf("%s/test/%s", Namespace, deviceID),
	}
}

// Control returns the topic for an actuator channel
func (t TopicSet) Control(ch ControlChannel) (string, bool) {
	switch ch {
	case ControlHeater:
		return t.ControlHeater, true
	case ControlMist:
		return t.ControlMist, true
	case ControlFeed:
		return t.ControlFeed, true
	case ControlMode:
		return t.ControlMode, true
	default:
		return "", false
	}
}

// Inbound returns the device-to-dashboard topics the session subscribes to
func (t TopicSet) Inbound() []string {
	return []string{t.Telemetry, t.ConfigOut, t.Status}
}

// All returns every protocol topic (the debug topic excluded)
func (t TopicSet) All() []string {
	return []string{
		t.Telemetry, t.Status, t.ConfigIn, t.ConfigOut, t.Command,
		t.ControlHeater, t.ControlMist, t.ControlFeed, t.ControlMode,
	}
}
