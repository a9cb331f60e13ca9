package services

import (
	"time"

	"barleybox/models"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to the process log; used when Telegram is not configured
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyWarning(deviceID, message string, at time.Time) {
	n.logger.Warn("Device warning",
		zap.String("device_id", deviceID),
		zap.String("warning", message),
		zap.Time("at", at))
}

func (n *LogNotifier) NotifyOnline(deviceID string, at time.Time) {
	n.logger.Info("Device online", zap.String("device_id", deviceID), zap.Time("at", at))
}

func (n *LogNotifier) NotifyTelemetryTimeout(deviceID string, lastSeen time.Time, silence time.Duration, _ models.Telemetry) {
	n.logger.Warn("Device stopped reporting",
		zap.String("device_id", deviceID),
		zap.Time("last_seen", lastSeen),
		zap.Duration("silence", silence))
}

func (n *LogNotifier) NotifyTelemetryRecovered(deviceID string, downtime time.Duration, at time.Time) {
	n.logger.Info("Device reporting again",
		zap.String("device_id", deviceID),
		zap.Duration("downtime", downtime),
		zap.Time("at", at))
}
