package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"barleybox/codec"
	"barleybox/models"
	"barleybox/state"

	"go.uber.org/zap"
)

const (
	// SettleDelay is how long after connecting the session waits before
	// asking the device to publish its config
	SettleDelay = 2000 * time.Millisecond
	// LivenessInterval is the period of the transport link check
	LivenessInterval = 5000 * time.Millisecond
	// MaxLogEntries bounds the activity log
	MaxLogEntries = 30

	storeTimeout = 5 * time.Second
	queueSize    = 256
	testMessage  = "test message from dashboard"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotConnected = errors.New("not connected")
	ErrTransport    = errors.New("transport error")
)

// SessionOptions tune a SessionController; zero values pick defaults
type SessionOptions struct {
	// BrokerURL maps an operator broker address to a dial URL
	BrokerURL       func(address string) string
	ClientID        func(deviceID string) string
	ReconnectPeriod time.Duration
	Clock           Clock
	Observers       []Observer
}

// SessionController owns one dashboard session: the transport, the topic
// set and the device state. Every mutation runs on the loop started by Run;
// public methods only enqueue work and return.
type SessionController struct {
	logger          *zap.Logger
	dialer          Dialer
	store           *SessionStore
	clock           Clock
	brokerURL       func(string) string
	clientID        func(string) string
	reconnectPeriod time.Duration
	observers       []Observer

	queue chan func()
	done  chan struct{}

	// owned by the loop
	deviceID      string
	broker        string
	topics        models.TopicSet
	session       models.SessionState
	device        *state.DeviceState
	transport     Transport
	generation    uint64
	settleTimer   Timer
	feedTimer     Timer
	feedSeq       uint64
	livenessTimer Timer
	logs          []models.LogEntry

	snapshot atomic.Pointer[models.Snapshot]
	logView  atomic.Pointer[[]models.LogEntry]
}

// NewSessionController creates an idle session; call Run to start it
func NewSessionController(logger *zap.Logger, dialer Dialer, store *SessionStore, opts SessionOptions) *SessionController {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.BrokerURL == nil {
		opts.BrokerURL = func(address string) string { return BrokerURL(address, "wss", 8084, "/mqtt") }
	}
	if opts.ClientID == nil {
		opts.ClientID = ClientID
	}
	if opts.ReconnectPeriod <= 0 {
		opts.ReconnectPeriod = 5 * time.Second
	}
	if store == nil {
		store = NewSessionStore(NewMemoryStore(), logger)
	}

	c := &SessionController{
		logger:          logger,
		dialer:          dialer,
		store:           store,
		clock:           opts.Clock,
		brokerURL:       opts.BrokerURL,
		clientID:        opts.ClientID,
		reconnectPeriod: opts.ReconnectPeriod,
		observers:       opts.Observers,
		queue:           make(chan func(), queueSize),
		done:            make(chan struct{}),
		session:         models.SessionDisconnected,
		device:          state.New(),
	}
	c.publishSnapshot()
	empty := []models.LogEntry{}
	c.logView.Store(&empty)
	return c
}

// Run processes session work until ctx is cancelled, then closes the link
func (c *SessionController) Run(ctx context.Context) error {
	c.logger.Info("Session loop started")
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.logger.Info("Session loop stopped")
			return nil
		case fn := <-c.queue:
			fn()
		}
	}
}

func (c *SessionController) post(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

// Restore reads the remembered identity and broker and seeds the device
// state with the cached config. Call it once, before Connect.
func (c *SessionController) Restore(ctx context.Context) (deviceID, broker string, err error) {
	deviceID, broker, err = c.store.LoadSession(ctx)
	if err != nil {
		return "", "", err
	}
	if deviceID == "" {
		return "", broker, nil
	}
	cfg, ok, err := c.store.LoadConfig(ctx, deviceID)
	if err != nil {
		return deviceID, broker, err
	}
	c.post(func() {
		c.deviceID = deviceID
		c.broker = broker
		c.topics = models.DeriveTopics(deviceID)
		if ok {
			c.device.MergeConfig(cfg, time.Time{})
		}
		c.publishSnapshot()
	})
	return deviceID, broker, nil
}

// Connect opens a session to deviceID through broker, superseding any
// previous session. Empty arguments fail with ErrInvalidInput.
func (c *SessionController) Connect(deviceID, broker string) error {
	deviceID = strings.TrimSpace(deviceID)
	broker = strings.TrimSpace(broker)
	if deviceID == "" || broker == "" {
		err := fmt.Errorf("%w: device id and broker address are required", ErrInvalidInput)
		c.post(func() { c.report(models.LogError, "Enter a device id and broker address", err) })
		return err
	}
	c.post(func() { c.connect(deviceID, broker) })
	return nil
}

// Disconnect closes the current transport
func (c *SessionController) Disconnect() {
	c.post(func() {
		if c.transport == nil {
			return
		}
		c.teardown()
		c.stopLiveness()
		c.device.MarkOffline()
		c.report(models.LogInfo, "Disconnected from broker", nil)
		c.setSession(models.SessionDisconnected)
	})
}

// SendControl publishes a control action on one channel
func (c *SessionController) SendControl(ch models.ControlChannel, action string) error {
	action = strings.ToUpper(strings.TrimSpace(action))
	if err := codec.ValidateAction(ch, action); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidInput, err)
		c.post(func() { c.report(models.LogError, "Invalid control action", err) })
		return err
	}
	c.post(func() {
		if !c.ensureConnected() {
			return
		}
		topic, _ := c.topics.Control(ch)
		if c.publish(topic, codec.EncodeControl(action)) {
			c.report(models.LogInfo, fmt.Sprintf("Sent %s %s", ch, action), nil)
		}
	})
	return nil
}

// SendMode switches the device between AUTO and MANUAL
func (c *SessionController) SendMode(mode models.Mode) error {
	return c.SendControl(models.ControlMode, string(mode))
}

// TriggerFeed runs one feed pulse
func (c *SessionController) TriggerFeed() error {
	return c.SendControl(models.ControlFeed, models.ActionTrigger)
}

// SendConfig publishes the set fields of patch to the device and caches
// the payload on success
func (c *SessionController) SendConfig(patch models.DeviceConfig) error {
	payload, err := codec.EncodeConfig(patch)
	if err == nil && codec.SanitizeConfig(patch).IsEmpty() {
		err = errors.New("no config fields set")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidInput, err)
		c.post(func() { c.report(models.LogError, "Invalid config", err) })
		return err
	}
	c.post(func() {
		if !c.ensureConnected() {
			return
		}
		if !c.publish(c.topics.ConfigIn, payload) {
			return
		}
		c.report(models.LogSuccess, "Config sent to device", nil)
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.store.SaveConfig(ctx, c.deviceID, payload); err != nil {
			c.report(models.LogWarning, "Failed to cache config", err)
		}
	})
	return nil
}

// SendConfigForm parses operator form input and sends the result
func (c *SessionController) SendConfigForm(form codec.ConfigForm) error {
	return c.SendConfig(codec.ParseConfigForm(form))
}

// RequestConfig asks the device to publish its current config
func (c *SessionController) RequestConfig() {
	c.post(c.requestConfig)
}

// Resubscribe repeats the inbound subscriptions on the current link
func (c *SessionController) Resubscribe() {
	c.post(func() {
		if !c.ensureConnected() {
			return
		}
		c.subscribeInbound(c.generation)
		c.report(models.LogInfo, "Resubscribing to device topics", nil)
	})
}

// TestPublish sends a marker message on the debug topic
func (c *SessionController) TestPublish() {
	c.post(func() {
		if !c.ensureConnected() {
			return
		}
		if c.publish(c.topics.Debug, []byte(testMessage)) {
			c.report(models.LogInfo, "Test message published to "+c.topics.Debug, nil)
		}
	})
}

// Snapshot returns the latest published view of the session
func (c *SessionController) Snapshot() models.Snapshot {
	snap := *c.snapshot.Load()
	snap.Telemetry = snap.Telemetry.Clone()
	snap.Config = snap.Config.Clone()
	return snap
}

// State returns the session state
func (c *SessionController) State() models.SessionState {
	return c.snapshot.Load().Session
}

// Topics returns the topic set of the current identity
func (c *SessionController) Topics() models.TopicSet {
	return c.snapshot.Load().Topics
}

// Logs returns the activity log, oldest first
func (c *SessionController) Logs() []models.LogEntry {
	view := *c.logView.Load()
	out := make([]models.LogEntry, len(view))
	copy(out, view)
	return out
}

// loop side

func (c *SessionController) connect(deviceID, broker string) {
	c.teardown()

	if deviceID != c.deviceID {
		c.device.Reset()
		c.cancelFeedTimer()
	}
	c.deviceID = deviceID
	c.broker = broker
	c.topics = models.DeriveTopics(deviceID)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.SaveSession(ctx, deviceID, broker); err != nil {
		c.report(models.LogWarning, "Failed to remember session", err)
	}

	c.setSession(models.SessionConnecting)
	c.report(models.LogInfo, "Connecting to "+broker, nil)

	gen := c.generation
	tr, err := c.dialer.Dial(DialOptions{
		URL:             c.brokerURL(broker),
		ClientID:        c.clientID(deviceID),
		Clean:           true,
		ReconnectPeriod: c.reconnectPeriod,
	}, c.handlersFor(gen))
	if err != nil {
		c.report(models.LogError, "Connection failed", fmt.Errorf("%w: %v", ErrTransport, err))
		c.setSession(models.SessionDisconnected)
		return
	}
	c.transport = tr
	c.armLiveness()
}

// handlersFor binds transport callbacks to one connect generation so
// events from a superseded transport are dropped
func (c *SessionController) handlersFor(gen uint64) TransportHandlers {
	return TransportHandlers{
		OnConnect: func() {
			c.post(func() {
				if c.current(gen) {
					c.onConnect(gen)
				}
			})
		},
		OnMessage: func(topic string, payload []byte) {
			p := append([]byte(nil), payload...)
			c.post(func() {
				if c.current(gen) {
					c.onMessage(topic, p)
				}
			})
		},
		OnError: func(err error) {
			c.post(func() {
				if c.current(gen) {
					c.report(models.LogError, "MQTT error", fmt.Errorf("%w: %v", ErrTransport, err))
				}
			})
		},
		OnOffline: func() {
			c.post(func() {
				if c.current(gen) {
					c.onOffline()
				}
			})
		},
		OnReconnect: func() {
			c.post(func() {
				if c.current(gen) {
					c.setSession(models.SessionReconnecting)
					c.report(models.LogInfo, "Reconnecting to broker", nil)
				}
			})
		},
	}
}

func (c *SessionController) current(gen uint64) bool {
	return gen == c.generation && c.transport != nil
}

func (c *SessionController) onConnect(gen uint64) {
	c.setSession(models.SessionConnected)
	c.report(models.LogSuccess, "Connected to MQTT broker", nil)
	c.subscribeInbound(gen)
	c.report(models.LogInfo, "Subscribed to device "+c.deviceID, nil)
	c.report(models.LogInfo, "Waiting for device to come online", nil)

	stopTimer(c.settleTimer)
	c.settleTimer = c.clock.AfterFunc(SettleDelay, func() {
		c.post(func() {
			if c.current(gen) {
				c.settleTimer = nil
				c.requestConfig()
			}
		})
	})
}

func (c *SessionController) subscribeInbound(gen uint64) {
	for _, topic := range c.topics.Inbound() {
		c.transport.Subscribe(topic, func(err error) {
			c.post(func() {
				if !c.current(gen) {
					return
				}
				if err != nil {
					c.report(models.LogWarning, "Failed to subscribe to "+topic, fmt.Errorf("%w: %v", ErrTransport, err))
					return
				}
				c.logger.Debug("Subscribed", zap.String("topic", topic))
			})
		})
	}
}

func (c *SessionController) onMessage(topic string, payload []byte) {
	now := c.clock.Now()

	switch topic {
	case c.topics.Telemetry:
		patch, err := codec.DecodeTelemetry(payload)
		if err != nil {
			c.dropMalformed(topic, err)
			return
		}
		c.device.MergeTelemetry(patch, now)
		c.logger.Debug("Telemetry received", zap.String("device_id", c.deviceID))

	case c.topics.ConfigOut:
		patch, err := codec.DecodeConfig(payload)
		if err != nil {
			c.dropMalformed(topic, err)
			return
		}
		c.device.MergeConfig(patch, now)
		c.publishSnapshot()
		cfg := c.device.Config()
		for _, o := range c.observers {
			o.ConfigReceived(c.deviceID, cfg)
		}
		c.report(models.LogSuccess, "Device config loaded", nil)
		return

	case c.topics.Status:
		events, err := codec.DecodeStatus(payload)
		if err != nil {
			c.dropMalformed(topic, err)
			return
		}
		for _, ev := range events {
			c.applyStatus(ev, now)
		}

	default:
		c.logger.Warn("Ignoring message on unexpected topic",
			zap.String("device_id", c.deviceID),
			zap.String("topic", topic))
		return
	}

	c.publishSnapshot()
}

func (c *SessionController) dropMalformed(topic string, err error) {
	c.report(models.LogWarning, "Dropped malformed message on "+topic, err)
}

func (c *SessionController) applyStatus(ev models.StatusEvent, now time.Time) {
	if c.device.ApplyStatus(ev, now) {
		c.armFeedTimer()
	}

	switch ev.Kind {
	case models.StatusFeedTriggered:
		c.report(models.LogSuccess, "Feeder triggered", nil)
	case models.StatusWarning:
		c.report(models.LogWarning, "Device warning: "+ev.Message, nil)
	case models.StatusOnline:
		c.report(models.LogSuccess, "Device is online", nil)
	}

	for _, o := range c.observers {
		o.StatusReceived(c.deviceID, ev)
	}
}

func (c *SessionController) armFeedTimer() {
	c.cancelFeedTimer()
	seq := c.feedSeq
	c.feedTimer = c.clock.AfterFunc(state.FeedFlagDuration, func() {
		c.post(func() {
			if seq != c.feedSeq {
				return
			}
			c.feedTimer = nil
			c.device.ClearFeeding()
			c.publishSnapshot()
		})
	})
}

func (c *SessionController) cancelFeedTimer() {
	c.feedSeq++
	stopTimer(c.feedTimer)
	c.feedTimer = nil
}

func (c *SessionController) onOffline() {
	stopTimer(c.settleTimer)
	c.settleTimer = nil
	c.device.MarkOffline()
	c.setSession(models.SessionDisconnected)
	c.report(models.LogWarning, "Connection to broker lost", nil)
}

func (c *SessionController) armLiveness() {
	if c.livenessTimer != nil {
		return
	}
	c.livenessTimer = c.clock.AfterFunc(LivenessInterval, func() {
		c.post(c.checkLiveness)
	})
}

func (c *SessionController) stopLiveness() {
	stopTimer(c.livenessTimer)
	c.livenessTimer = nil
}

func (c *SessionController) checkLiveness() {
	c.livenessTimer = nil
	if c.transport == nil {
		return
	}
	if c.session == models.SessionConnected && !c.transport.IsConnected() {
		c.device.MarkOffline()
		c.setSession(models.SessionDisconnected)
		c.report(models.LogWarning, "Broker link dropped", nil)
	}
	c.armLiveness()
}

func (c *SessionController) requestConfig() {
	if !c.ensureConnected() {
		return
	}
	if c.publish(c.topics.Command, codec.EncodeCommand(models.CommandPublishConfig)) {
		c.report(models.LogInfo, "Requesting device config", nil)
	}
}

func (c *SessionController) ensureConnected() bool {
	if c.session == models.SessionConnected && c.transport != nil {
		return true
	}
	c.report(models.LogError, "Connect to a device first", ErrNotConnected)
	return false
}

func (c *SessionController) publish(topic string, payload []byte) bool {
	if err := c.transport.Publish(topic, payload); err != nil {
		c.report(models.LogError, "Publish to "+topic+" failed", fmt.Errorf("%w: %v", ErrTransport, err))
		return false
	}
	return true
}

// teardown detaches and closes the current transport and invalidates
// every callback bound to it
func (c *SessionController) teardown() {
	c.generation++
	stopTimer(c.settleTimer)
	c.settleTimer = nil
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
}

func (c *SessionController) shutdown() {
	c.teardown()
	c.stopLiveness()
	c.cancelFeedTimer()
	c.setSession(models.SessionDisconnected)
}

func (c *SessionController) setSession(s models.SessionState) {
	if s == c.session {
		return
	}
	c.session = s
	c.logger.Info("Session state changed",
		zap.String("device_id", c.deviceID),
		zap.String("state", string(s)))
	for _, o := range c.observers {
		o.SessionStateChanged(c.deviceID, s)
	}
	c.publishSnapshot()
}

func (c *SessionController) publishSnapshot() {
	snap := c.device.Snapshot()
	snap.DeviceID = c.deviceID
	snap.Broker = c.broker
	snap.Topics = c.topics
	snap.Session = c.session
	c.snapshot.Store(&snap)
	for _, o := range c.observers {
		o.DeviceUpdated(snap)
	}
}

// report appends to the activity log and mirrors the entry to zap
func (c *SessionController) report(level models.LogLevel, msg string, err error) {
	entry := models.LogEntry{Time: c.clock.Now(), Level: level, Message: msg, Err: err}
	c.logs = append(c.logs, entry)
	if len(c.logs) > MaxLogEntries {
		c.logs = append([]models.LogEntry(nil), c.logs[len(c.logs)-MaxLogEntries:]...)
	}
	view := append([]models.LogEntry(nil), c.logs...)
	c.logView.Store(&view)

	fields := []zap.Field{zap.String("device_id", c.deviceID)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch level {
	case models.LogError:
		c.logger.Error(msg, fields...)
	case models.LogWarning:
		c.logger.Warn(msg, fields...)
	default:
		c.logger.Info(msg, fields...)
	}

	for _, o := range c.observers {
		o.Logged(entry)
	}
}
