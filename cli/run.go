package cli

import (
	"context"
	"fmt"
	"time"

	"barleybox/models"
	"barleybox/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor a device headless and forward alerts",
	Long: `Connect to the device and keep the session alive until interrupted.

Device warnings and online events go to Telegram when TELEGRAM_BOT_TOKEN
and TELEGRAM_CHAT_ID are set, otherwise to the log. WATCHDOG_TIMEOUT_SECONDS
enables a telemetry silence alert. RABBITMQ_URL enables the event relay.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig("")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext(logger)
	defer cancel()

	var (
		observers []services.Observer
		workers   []func(context.Context)
		notifier  services.Notifier = services.NewLogNotifier(logger)
		telegram  *services.TelegramService
	)

	if cfg.TelegramEnabled() {
		telegram, err = services.NewTelegramService(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram service: %w", err)
		}
		notifier = telegram
		workers = append(workers, telegram.Start)
	}
	observers = append(observers, services.NewAlertObserver(notifier, nil))

	if cfg.WatchdogTimeout > 0 {
		watchdog := services.NewDeviceWatchdog(cfg.WatchdogTimeout, notifier, nil, logger)
		observers = append(observers, watchdog)
		workers = append(workers, watchdog.Start)
	}

	if cfg.RelayEnabled() {
		relay, err := services.NewRabbitMQService(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event relay: %w", err)
		}
		defer relay.Close()
		observers = append(observers, relay)
		workers = append(workers, relay.Start)
	}

	observers = append(observers, services.ObserverFuncs{
		OnDevice: func(snap models.Snapshot) {
			logger.Debug("Device state",
				zap.String("device_id", snap.DeviceID),
				zap.Bool("online", snap.Online),
				zap.Bool("feeding", snap.Feeding),
				zap.Any("telemetry", snap.Telemetry))
		},
	})

	a, err := newApp(ctx, cfg, logger, observers...)
	if err != nil {
		return err
	}
	for _, w := range workers {
		go w(ctx)
	}

	if err := a.start(ctx); err != nil {
		cancel()
		a.close()
		return err
	}

	if telegram != nil {
		if err := telegram.SendStartupMessage(a.deviceID, a.broker); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("BARLEY BOX monitor started",
		zap.String("device_id", a.deviceID),
		zap.String("broker", a.broker),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("telegram", telegram != nil),
		zap.Duration("watchdog_timeout", cfg.WatchdogTimeout),
		zap.Bool("relay", cfg.RelayEnabled()))

	<-ctx.Done()

	logger.Info("Starting cleanup")
	cleanupDone := make(chan struct{})
	go func() {
		a.close()
		close(cleanupDone)
	}()
	select {
	case <-cleanupDone:
		logger.Info("Cleanup completed successfully")
	case <-time.After(10 * time.Second):
		logger.Warn("Cleanup timeout, forcing exit")
	}

	logger.Info("BARLEY BOX monitor stopped")
	return nil
}
