package services

import (
	"context"
	"sync"
	"time"

	"barleybox/models"

	"go.uber.org/zap"
)

// DeviceHealthStatus represents whether a device is still reporting
type DeviceHealthStatus string

const (
	DeviceHealthy DeviceHealthStatus = "healthy"
	DeviceTimeout DeviceHealthStatus = "timeout"
)

// DeviceHealth tracks the last traffic seen from one device
type DeviceHealth struct {
	DeviceID      string
	Status        DeviceHealthStatus
	LastSeen      time.Time
	TimeoutAt     time.Time
	LastTelemetry models.Telemetry
}

const watchdogCheckInterval = 10 * time.Second

// DeviceWatchdog raises an alert when the watched device goes quiet for
// longer than the timeout and another one when it reports again
type DeviceWatchdog struct {
	ObserverFuncs
	timeout  time.Duration
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	devices  map[string]*DeviceHealth
	mu       sync.RWMutex

	// only a connected session can observe device traffic
	connected bool
}

// NewDeviceWatchdog creates a watchdog; it observes a SessionController
func NewDeviceWatchdog(timeout time.Duration, notifier Notifier, clock Clock, logger *zap.Logger) *DeviceWatchdog {
	if clock == nil {
		clock = RealClock()
	}
	return &DeviceWatchdog{
		timeout:  timeout,
		notifier: notifier,
		logger:   logger,
		now:      clock.Now,
		devices:  make(map[string]*DeviceHealth),
	}
}

// Start runs the periodic timeout check until ctx is cancelled
func (w *DeviceWatchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(watchdogCheckInterval)
	defer ticker.Stop()

	w.logger.Info("Device watchdog started", zap.Duration("timeout", w.timeout))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Device watchdog stopped")
			return
		case <-ticker.C:
			w.checkTimeouts()
		}
	}
}

// SessionStateChanged pauses the watchdog while the session is not
// connected and restarts the silence window when it connects
func (w *DeviceWatchdog) SessionStateChanged(deviceID string, state models.SessionState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.connected = state == models.SessionConnected
	if !w.connected {
		return
	}
	now := w.now()
	if device, ok := w.devices[deviceID]; ok && device.Status == DeviceHealthy && device.LastSeen.Before(now) {
		device.LastSeen = now
	}
}

// DeviceUpdated records device traffic carried by a session snapshot
func (w *DeviceWatchdog) DeviceUpdated(snap models.Snapshot) {
	if snap.DeviceID == "" || snap.LastUpdate.IsZero() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// one session watches one device at a time
	for id := range w.devices {
		if id != snap.DeviceID {
			delete(w.devices, id)
		}
	}

	device, exists := w.devices[snap.DeviceID]
	if !exists {
		device = &DeviceHealth{DeviceID: snap.DeviceID, Status: DeviceHealthy}
		w.devices[snap.DeviceID] = device
		w.logger.Info("New device registered for health monitoring",
			zap.String("device_id", snap.DeviceID))
	}
	if !snap.LastUpdate.After(device.LastSeen) {
		return
	}

	wasTimeout := device.Status == DeviceTimeout
	device.LastSeen = snap.LastUpdate
	device.LastTelemetry = snap.Telemetry
	device.Status = DeviceHealthy

	if wasTimeout {
		now := w.now()
		downDuration := now.Sub(device.TimeoutAt)
		w.logger.Info("Device recovered from timeout",
			zap.String("device_id", snap.DeviceID),
			zap.Duration("down_duration", downDuration))
		w.notifier.NotifyTelemetryRecovered(snap.DeviceID, downDuration, now)
	}
}

// checkTimeouts checks all devices for timeout conditions
func (w *DeviceWatchdog) checkTimeouts() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return
	}

	now := w.now()
	for deviceID, device := range w.devices {
		if device.Status == DeviceTimeout {
			continue
		}

		timeSinceLastSeen := now.Sub(device.LastSeen)
		if timeSinceLastSeen > w.timeout {
			w.logger.Warn("Device telemetry timeout detected",
				zap.String("device_id", deviceID),
				zap.Time("last_seen", device.LastSeen),
				zap.Duration("time_since_last_seen", timeSinceLastSeen))

			device.Status = DeviceTimeout
			device.TimeoutAt = now
			w.notifier.NotifyTelemetryTimeout(deviceID, device.LastSeen, timeSinceLastSeen, device.LastTelemetry)
		}
	}
}

// GetDeviceHealth returns the current health status of a device
func (w *DeviceWatchdog) GetDeviceHealth(deviceID string) (DeviceHealth, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	device, exists := w.devices[deviceID]
	if !exists {
		return DeviceHealth{}, false
	}
	return *device, true
}
