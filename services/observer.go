package services

import "barleybox/models"

// Observer receives session notifications. Calls are made on the session
// loop goroutine, so implementations must return quickly.
type Observer interface {
	SessionStateChanged(deviceID string, state models.SessionState)
	DeviceUpdated(snap models.Snapshot)
	StatusReceived(deviceID string, ev models.StatusEvent)
	// ConfigReceived is called after a config echo has been merged; cfg is
	// the full last known config, not just the echoed fields.
	ConfigReceived(deviceID string, cfg models.DeviceConfig)
	Logged(entry models.LogEntry)
}

// ObserverFuncs adapts optional functions to Observer
type ObserverFuncs struct {
	OnSessionState func(deviceID string, state models.SessionState)
	OnDevice       func(snap models.Snapshot)
	OnStatus       func(deviceID string, ev models.StatusEvent)
	OnConfig       func(deviceID string, cfg models.DeviceConfig)
	OnLog          func(entry models.LogEntry)
}

func (o ObserverFuncs) SessionStateChanged(deviceID string, state models.SessionState) {
	if o.OnSessionState != nil {
		o.OnSessionState(deviceID, state)
	}
}

func (o ObserverFuncs) DeviceUpdated(snap models.Snapshot) {
	if o.OnDevice != nil {
		o.OnDevice(snap)
	}
}

func (o ObserverFuncs) StatusReceived(deviceID string, ev models.StatusEvent) {
	if o.OnStatus != nil {
		o.OnStatus(deviceID, ev)
	}
}

func (o ObserverFuncs) ConfigReceived(deviceID string, cfg models.DeviceConfig) {
	if o.OnConfig != nil {
		o.OnConfig(deviceID, cfg)
	}
}

func (o ObserverFuncs) Logged(entry models.LogEntry) {
	if o.OnLog != nil {
		o.OnLog(entry)
	}
}
