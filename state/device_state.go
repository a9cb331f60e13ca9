// Package state holds the last known barley box state and its merge rules.
package state

import (
	"time"

	"barleybox/models"
)

// FeedFlagDuration is how long the feeding flag stays set after a feed
// event. A feed pulse always finishes within this window on the device.
const FeedFlagDuration = 3000 * time.Millisecond

// DeviceState is the canonical last known state of one device.
// It is not safe for concurrent use; the session loop owns it.
type DeviceState struct {
	telemetry   models.Telemetry
	config      models.DeviceConfig
	feeding     bool
	online      bool
	lastWarning string
	lastUpdate  time.Time
}

// New creates an empty device state
func New() *DeviceState {
	return &DeviceState{}
}

// MergeTelemetry overwrites the fields present in patch and keeps the rest
func (s *DeviceState) MergeTelemetry(patch models.Telemetry, now time.Time) {
	s.telemetry = s.telemetry.Merge(patch)
	s.lastUpdate = now
}

// MergeConfig overwrites the config fields present in patch and keeps the rest.
// A zero now seeds the config without counting as device traffic.
func (s *DeviceState) MergeConfig(patch models.DeviceConfig, now time.Time) {
	s.config = s.config.Merge(patch)
	if !now.IsZero() {
		s.lastUpdate = now
	}
}

// ApplyStatus records a status event. It returns true when the event
// starts a new feeding window; the caller must then (re)arm a timer that
// calls ClearFeeding after FeedFlagDuration.
func (s *DeviceState) ApplyStatus(ev models.StatusEvent, now time.Time) bool {
	s.lastUpdate = now
	switch ev.Kind {
	case models.StatusFeedTriggered:
		s.feeding = true
		return true
	case models.StatusWarning:
		s.lastWarning = ev.Message
	case models.StatusOnline:
		s.online = true
	}
	return false
}

// ClearFeeding drops the transient feeding flag
func (s *DeviceState) ClearFeeding() {
	s.feeding = false
}

// MarkOffline records that the device can no longer be reached
func (s *DeviceState) MarkOffline() {
	s.online = false
}

// Reset forgets everything; used when the session switches device
func (s *DeviceState) Reset() {
	*s = DeviceState{}
}

// Feeding reports whether a feed pulse is in progress
func (s *DeviceState) Feeding() bool {
	return s.feeding
}

// Config returns a copy of the last known config
func (s *DeviceState) Config() models.DeviceConfig {
	return s.config.Clone()
}

// Snapshot returns a deep copy of the device part of a session snapshot
func (s *DeviceState) Snapshot() models.Snapshot {
	return models.Snapshot{
		Telemetry:   s.telemetry.Clone(),
		Config:      s.config.Clone(),
		Feeding:     s.feeding,
		Online:      s.online,
		LastWarning: s.lastWarning,
		LastUpdate:  s.lastUpdate,
	}
}
