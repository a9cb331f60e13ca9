package models

import (
	"time"
)

// SessionState represents the connection lifecycle of a dashboard session
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionReconnecting SessionState = "reconnecting"
)

// LogLevel classifies operator-visible log entries
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry represents one line of the session activity log
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Snapshot is a read-only view of the session and the last known device state
type Snapshot struct {
	DeviceID    string       `json:"device_id"`
	Broker      string       `json:"broker"`
	Topics      TopicSet     `json:"topics"`
	Session     SessionState `json:"session"`
	Telemetry   Telemetry    `json:"telemetry"`
	Config      DeviceConfig `json:"config"`
	Feeding     bool         `json:"feeding"`
	Online      bool         `json:"online"`
	LastWarning string       `json:"last_warning,omitempty"`
	LastUpdate  time.Time    `json:"last_update"`
}
