package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"barleybox/config"
	"barleybox/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// AlertThrottle is the minimum gap between two warning alerts for one device
const AlertThrottle = 15 * time.Second

const telegramOutboxSize = 32

// Notifier delivers operator alerts outside the dashboard
type Notifier interface {
	NotifyWarning(deviceID, message string, at time.Time)
	NotifyOnline(deviceID string, at time.Time)
	NotifyTelemetryTimeout(deviceID string, lastSeen time.Time, silence time.Duration, last models.Telemetry)
	NotifyTelemetryRecovered(deviceID string, downtime time.Duration, at time.Time)
}

type TelegramService struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	lastAlertTimes map[string]time.Time // Track last warning alert time per device
	mu             sync.Mutex
	outbox         chan string
	logger         *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := newTelegramService(bot, chatID, logger)

	// Test Telegram connection with retry
	if err := ts.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return ts, nil
}

func newTelegramService(bot *tgbotapi.BotAPI, chatID int64, logger *zap.Logger) *TelegramService {
	return &TelegramService{
		bot:            bot,
		chatID:         chatID,
		lastAlertTimes: make(map[string]time.Time),
		outbox:         make(chan string, telegramOutboxSize),
		logger:         logger,
	}
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := ts.bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// Start sends queued alerts until ctx is cancelled
func (ts *TelegramService) Start(ctx context.Context) {
	ts.logger.Info("Telegram notifier started")
	for {
		select {
		case <-ctx.Done():
			ts.logger.Info("Telegram notifier stopped")
			return
		case text := <-ts.outbox:
			if err := ts.SendStatusMessage(text); err != nil {
				ts.logger.Error("Failed to send telegram message", zap.Error(err))
			}
		}
	}
}

// enqueue never blocks the caller; alerts are dropped when the outbox is full
func (ts *TelegramService) enqueue(text string) {
	select {
	case ts.outbox <- text:
	default:
		ts.logger.Warn("Telegram outbox full, dropping alert")
	}
}

// NotifyWarning sends a device warning, at most once per AlertThrottle per device
func (ts *TelegramService) NotifyWarning(deviceID, message string, at time.Time) {
	ts.mu.Lock()
	if ts.shouldThrottleAlert(deviceID, at) {
		ts.mu.Unlock()
		ts.logger.Debug("Throttling alert", zap.String("device_id", deviceID))
		return
	}
	ts.lastAlertTimes[deviceID] = at
	ts.mu.Unlock()

	ts.enqueue(formatWarningMessage(deviceID, message, at))
	ts.logger.Info("Queued warning alert", zap.String("device_id", deviceID))
}

func (ts *TelegramService) NotifyOnline(deviceID string, at time.Time) {
	ts.enqueue(formatOnlineMessage(deviceID, at))
}

func (ts *TelegramService) NotifyTelemetryTimeout(deviceID string, lastSeen time.Time, silence time.Duration, last models.Telemetry) {
	ts.enqueue(formatTimeoutMessage(deviceID, lastSeen, silence, last))
	ts.logger.Info("Queued telemetry timeout alert",
		zap.String("device_id", deviceID),
		zap.Duration("time_since_last_seen", silence))
}

func (ts *TelegramService) NotifyTelemetryRecovered(deviceID string, downtime time.Duration, at time.Time) {
	ts.enqueue(formatRecoveryMessage(deviceID, downtime, at))
	ts.logger.Info("Queued telemetry recovery alert",
		zap.String("device_id", deviceID),
		zap.Duration("down_duration", downtime))
}

// shouldThrottleAlert reports whether a warning for deviceID was sent within AlertThrottle
func (ts *TelegramService) shouldThrottleAlert(deviceID string, at time.Time) bool {
	lastAlertTime, exists := ts.lastAlertTimes[deviceID]
	if !exists {
		return false
	}
	return at.Sub(lastAlertTime) < AlertThrottle
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage announces that the monitor is watching a device
func (ts *TelegramService) SendStartupMessage(deviceID, broker string) error {
	message := "🟢 <b>BARLEY BOX Monitor Started</b>\n\n" +
		fmt.Sprintf("📱 <b>Device:</b> %s\n", html.EscapeString(deviceID)) +
		fmt.Sprintf("📡 <b>Broker:</b> %s\n\n", html.EscapeString(broker)) +
		"✅ Warning notifications active"

	return ts.SendStatusMessage(message)
}

func formatWarningMessage(deviceID, warning string, at time.Time) string {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>BARLEY BOX WARNING</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", html.EscapeString(deviceID)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", at.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("💬 %s\n\n", html.EscapeString(warning)))
	sb.WriteString("🔴 <b>Status:</b> ATTENTION REQUIRED")

	return sb.String()
}

func formatOnlineMessage(deviceID string, at time.Time) string {
	return fmt.Sprintf("🟢 <b>Device online</b>\n\n📱 <b>Device:</b> %s\n🕐 <b>Time:</b> %s",
		html.EscapeString(deviceID), at.Format("2006-01-02 15:04:05"))
}

func formatTimeoutMessage(deviceID string, lastSeen time.Time, silence time.Duration, last models.Telemetry) string {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>DEVICE TELEMETRY TIMEOUT</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", html.EscapeString(deviceID)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", lastSeen.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n\n", formatDuration(silence)))

	if !last.IsEmpty() {
		sb.WriteString("📊 <b>Last Readings:</b>\n")
		sb.WriteString(fmt.Sprintf("🌡️ Air: %s\n", formatReading(last.TempEnv, "°C")))
		sb.WriteString(fmt.Sprintf("💧 Humidity: %s\n", formatReading(last.HumEnv, "%")))
		sb.WriteString(fmt.Sprintf("🌱 Substrate: %s\n", formatReading(last.TempSub, "°C")))
		sb.WriteString(fmt.Sprintf("🔥 Heater: %s\n", formatSwitch(last.HeaterOn)))
		sb.WriteString(fmt.Sprintf("🌫️ Mist: %s\n\n", formatSwitch(last.MistOn)))
	}

	sb.WriteString("💡 <b>Action Required:</b>\n")
	sb.WriteString("Device may be offline or experiencing connectivity issues. Please check the device status.\n\n")
	sb.WriteString("🔴 <b>Status:</b> DEVICE TIMEOUT")

	return sb.String()
}

func formatRecoveryMessage(deviceID string, downtime time.Duration, at time.Time) string {
	var sb strings.Builder

	sb.WriteString("✅ <b>DEVICE RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", html.EscapeString(deviceID)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", at.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downtime)))
	sb.WriteString("🟢 <b>Status:</b> DEVICE ONLINE")

	return sb.String()
}

// Helper functions for formatting

func formatReading(v *float64, unit string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}

func formatSwitch(on *bool) string {
	switch {
	case on == nil:
		return "--"
	case *on:
		return "ON"
	default:
		return "OFF"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}

// AlertObserver forwards device status events to a Notifier
type AlertObserver struct {
	ObserverFuncs
	notifier Notifier
	now      func() time.Time
}

// NewAlertObserver wires notifier to the session's status stream
func NewAlertObserver(notifier Notifier, clock Clock) *AlertObserver {
	if clock == nil {
		clock = RealClock()
	}
	return &AlertObserver{notifier: notifier, now: clock.Now}
}

func (a *AlertObserver) StatusReceived(deviceID string, ev models.StatusEvent) {
	switch ev.Kind {
	case models.StatusWarning:
		a.notifier.NotifyWarning(deviceID, ev.Message, a.now())
	case models.StatusOnline:
		a.notifier.NotifyOnline(deviceID, a.now())
	}
}
