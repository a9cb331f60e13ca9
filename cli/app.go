package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"barleybox/config"
	"barleybox/log"
	"barleybox/models"
	"barleybox/services"

	"go.uber.org/zap"
)

const (
	tuiLogFile     = "barleybox.log"
	connectTimeout = 15 * time.Second
	confirmTimeout = 10 * time.Second
	publishFlush   = 500 * time.Millisecond
)

// app holds the wiring shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *services.SessionStore
	ctrl     *services.SessionController
	deviceID string
	broker   string
	loopDone chan struct{}
}

// loadConfig reads the environment and sets up the process logger.
// Commands that own stdout pass redirect to move console logging elsewhere.
func loadConfig(redirect string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if storeFlag != "" {
		cfg.StoreBackend = strings.ToLower(storeFlag)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	output := cfg.LogOutput
	if redirect != "" && (output == "stdout" || output == "stderr") {
		output = redirect
	}
	log.Configure(cfg.LogLevel, output)
	logger := log.GetInstance()
	logger.Info("Configuration loaded", zap.Any("config", cfg.Fields()))
	return cfg, logger, nil
}

// openStore builds the configured persistence backend
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return services.NewMemoryStore(), nil
	case config.StoreSQLite:
		s, err := services.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		s, err := services.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreFirebase:
		s, err := services.NewFirebaseStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newApp opens the store and builds an idle session controller
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, observers ...services.Observer) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	sessionStore := services.NewSessionStore(store, logger)

	dialer := services.NewMQTTDialer(cfg.MQTTUsername, cfg.MQTTPassword, logger)
	ctrl := services.NewSessionController(logger, dialer, sessionStore, services.SessionOptions{
		BrokerURL: func(address string) string {
			return services.BrokerURL(address, cfg.MQTTScheme, cfg.MQTTPort, cfg.MQTTPath)
		},
		ReconnectPeriod: cfg.MQTTReconnectPeriod,
		Observers:       observers,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    sessionStore,
		ctrl:     ctrl,
		loopDone: make(chan struct{}),
	}, nil
}

// start runs the session loop, restores the remembered session and connects
func (a *app) start(ctx context.Context) error {
	go func() {
		defer close(a.loopDone)
		if err := a.ctrl.Run(ctx); err != nil {
			a.logger.Error("Session loop failed", zap.Error(err))
		}
	}()

	restoredID, restoredBroker, err := a.ctrl.Restore(ctx)
	if err != nil {
		a.logger.Warn("Failed to restore session", zap.Error(err))
	}
	a.deviceID = firstNonEmpty(deviceFlag, a.cfg.DeviceID, restoredID)
	a.broker = firstNonEmpty(brokerFlag, a.cfg.Broker, restoredBroker)

	if err := a.ctrl.Connect(a.deviceID, a.broker); err != nil {
		return fmt.Errorf("%w (use --device and --broker)", err)
	}
	return nil
}

// close waits for the session loop to stop, then closes the store.
// The context passed to start must already be cancelled.
func (a *app) close() {
	select {
	case <-a.loopDone:
	case <-time.After(5 * time.Second):
		a.logger.Warn("Session loop did not stop in time")
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// waitFor polls the session until cond holds or the timeout expires
func (a *app) waitFor(ctx context.Context, timeout time.Duration, cond func(models.Snapshot) bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond(a.ctrl.Snapshot()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", timeout)
		case <-ticker.C:
		}
	}
}

func (a *app) waitConnected(ctx context.Context, timeout time.Duration) error {
	err := a.waitFor(ctx, timeout, func(s models.Snapshot) bool {
		return s.Session == models.SessionConnected
	})
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", a.broker, err)
	}
	return nil
}

// logFeed carries activity log entries to a one-shot command
type logFeed chan models.LogEntry

func newLogFeed() (logFeed, services.Observer) {
	feed := make(logFeed, 64)
	return feed, services.ObserverFuncs{
		OnLog: func(e models.LogEntry) {
			select {
			case feed <- e:
			default:
			}
		},
	}
}

// await blocks until done accepts an entry. An error entry ends the wait.
func (f logFeed) await(ctx context.Context, timeout time.Duration, done func(models.LogEntry) bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("no confirmation after %s", timeout)
		case e := <-f:
			if done(e) {
				return nil
			}
			if e.Level == models.LogError {
				return logEntryError(e)
			}
		}
	}
}

func logEntryError(e models.LogEntry) error {
	if e.Err != nil {
		return fmt.Errorf("%s: %w", e.Message, e.Err)
	}
	return errors.New(e.Message)
}

// oneShot connects, runs fn against the live session and tears everything down.
// extra observers are attached to the session alongside the log feed.
func oneShot(fn func(ctx context.Context, a *app, feed logFeed) error, extra ...services.Observer) error {
	cfg, logger, err := loadConfig("stderr")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	feed, obs := newLogFeed()
	a, err := newApp(ctx, cfg, logger, append([]services.Observer{obs}, extra...)...)
	if err != nil {
		return err
	}
	defer a.close()
	defer cancel()

	if err := a.start(ctx); err != nil {
		return err
	}
	if err := a.waitConnected(ctx, connectTimeout); err != nil {
		return err
	}
	if err := fn(ctx, a, feed); err != nil {
		return err
	}
	// QoS 0 publishes leave the client asynchronously
	time.Sleep(publishFlush)
	return nil
}

// printLogs writes the session activity log to stdout
func (a *app) printLogs() {
	for _, e := range a.ctrl.Logs() {
		fmt.Printf("%s %-7s %s\n", e.Time.Format("15:04:05"), e.Level, e.Message)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, stopping services")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
