package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"barleybox/config"
	"barleybox/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	relayBufferSize     = 128
	relayPublishTimeout = 5 * time.Second
	relayKeyPrefix      = "barleybox"
)

// Relay event kinds, also the middle segment of the routing key
const (
	RelaySnapshot = "snapshot"
	RelayStatus   = "status"
	RelaySession  = "session"
	RelayConfig   = "config"
)

// RelayEnvelope is the JSON body of every relayed event
type RelayEnvelope struct {
	Kind     string               `json:"kind"`
	DeviceID string               `json:"device_id"`
	At       time.Time            `json:"at"`
	Session  models.SessionState  `json:"session,omitempty"`
	Status   *models.StatusEvent  `json:"status,omitempty"`
	Snapshot *models.Snapshot     `json:"snapshot,omitempty"`
	Config   *models.DeviceConfig `json:"config,omitempty"`
}

type relayMessage struct {
	routingKey string
	body       []byte
}

// AMQP topic routing keys split on '.', and '*' '#' are wildcards
var routingSegmentEscaper = strings.NewReplacer(".", "_", "*", "_", "#", "_")

// RelayRoutingKey returns barleybox.<kind>.<device>
func RelayRoutingKey(kind, deviceID string) string {
	return fmt.Sprintf("%s.%s.%s", relayKeyPrefix, kind, routingSegmentEscaper.Replace(deviceID))
}

// RabbitMQService relays session events onto a RabbitMQ topic exchange
type RabbitMQService struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	mu        sync.RWMutex
	logger    *zap.Logger
	events    chan relayMessage
	now       func() time.Time
	isClosing bool
}

// NewRabbitMQService connects to RabbitMQ and declares the event exchange
func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) (*RabbitMQService, error) {
	service := newRabbitMQService(cfg, logger)

	if err := service.connect(); err != nil {
		return nil, err
	}
	go service.handleReconnect()

	return service, nil
}

func newRabbitMQService(cfg *config.Config, logger *zap.Logger) *RabbitMQService {
	return &RabbitMQService{
		config: cfg,
		logger: logger,
		events: make(chan relayMessage, relayBufferSize),
		now:    time.Now,
	}
}

// connect establishes connection to RabbitMQ and declares the exchange
func (r *RabbitMQService) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.logger.Info("Connected to RabbitMQ successfully")

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"topic",                   // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.logger.Info("Exchange declared", zap.String("exchange", r.config.RabbitMQExchange))

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	return nil
}

// handleReconnect handles automatic reconnection when connection is lost
func (r *RabbitMQService) handleReconnect() {
	for {
		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

		r.mu.RLock()
		closing := r.isClosing
		r.mu.RUnlock()
		if closing {
			r.logger.Info("RabbitMQ connection closed gracefully")
			return
		}

		r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

		for {
			r.logger.Info("Attempting to reconnect to RabbitMQ...")
			err := r.connect()
			if err == nil {
				r.logger.Info("Successfully reconnected to RabbitMQ")
				break
			}

			r.logger.Error("Failed to reconnect", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
}

// Start publishes queued events until ctx is cancelled
func (r *RabbitMQService) Start(ctx context.Context) {
	r.logger.Info("Event relay started", zap.String("exchange", r.config.RabbitMQExchange))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Event relay stopped")
			return
		case msg := <-r.events:
			if err := r.publish(ctx, msg); err != nil {
				r.logger.Error("Failed to relay event",
					zap.String("routing_key", msg.routingKey),
					zap.Error(err))
			}
		}
	}
}

func (r *RabbitMQService) publish(ctx context.Context, msg relayMessage) error {
	r.mu.RLock()
	channel := r.channel
	r.mu.RUnlock()
	if channel == nil {
		return fmt.Errorf("channel not open")
	}

	ctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()

	err := channel.PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		msg.routingKey,            // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.body,
			Timestamp:   r.now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Relayed event", zap.String("routing_key", msg.routingKey))
	return nil
}

// enqueue never blocks the session loop; events are dropped when the buffer is full
func (r *RabbitMQService) enqueue(env RelayEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("Failed to marshal relay event", zap.Error(err))
		return
	}
	msg := relayMessage{routingKey: RelayRoutingKey(env.Kind, env.DeviceID), body: body}
	select {
	case r.events <- msg:
	default:
		r.logger.Warn("Event relay buffer full, dropping event",
			zap.String("routing_key", msg.routingKey))
	}
}

func (r *RabbitMQService) SessionStateChanged(deviceID string, state models.SessionState) {
	r.enqueue(RelayEnvelope{Kind: RelaySession, DeviceID: deviceID, At: r.now(), Session: state})
}

func (r *RabbitMQService) DeviceUpdated(snap models.Snapshot) {
	if snap.DeviceID == "" {
		return
	}
	r.enqueue(RelayEnvelope{Kind: RelaySnapshot, DeviceID: snap.DeviceID, At: r.now(), Snapshot: &snap})
}

func (r *RabbitMQService) StatusReceived(deviceID string, ev models.StatusEvent) {
	r.enqueue(RelayEnvelope{Kind: RelayStatus, DeviceID: deviceID, At: r.now(), Status: &ev})
}

func (r *RabbitMQService) ConfigReceived(deviceID string, cfg models.DeviceConfig) {
	r.enqueue(RelayEnvelope{Kind: RelayConfig, DeviceID: deviceID, At: r.now(), Config: &cfg})
}

func (r *RabbitMQService) Logged(models.LogEntry) {}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.mu.Lock()
	r.isClosing = true
	channel, conn := r.channel, r.conn
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if channel != nil {
		if err := channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
