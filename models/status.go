package models

// StatusKind represents the kind of event reported on the status topic
type StatusKind string

const (
	StatusFeedTriggered StatusKind = "feed-triggered"
	StatusWarning       StatusKind = "warning"
	StatusOnline        StatusKind = "online"
)

// StatusEvent represents one event published by the device on its status topic
type StatusEvent struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

// Control action tokens
const (
	ActionOn      = "ON"
	ActionOff     = "OFF"
	ActionAuto    = "AUTO"
	ActionManual  = "MANUAL"
	ActionTrigger = "TRIGGER"
)

// CommandPublishConfig asks the device to echo its current config
const CommandPublishConfig = "publish_config"
