package services

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	publishAckTimeout   = 10 * time.Second
	// bounds how long Publish may block the caller on paho's outbound queue
	publishWriteTimeout = 3 * time.Second
)

// BrokerURL builds the dial URL for a broker address. A full URL is kept
// (mqtt:// and tls:// are mapped to the schemes paho understands); a bare
// host, or host:port, is completed with scheme, port and path. IPv6 hosts
// are bracketed.
func BrokerURL(address, scheme string, port int, path string) string {
	address = strings.TrimSpace(address)
	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return address
		}
		switch u.Scheme {
		case "mqtt":
			u.Scheme = "tcp"
		case "tls", "mqtts":
			u.Scheme = "ssl"
		}
		return u.String()
	}

	host := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		bare := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
		host = net.JoinHostPort(bare, strconv.Itoa(port))
	}
	if scheme == "ws" || scheme == "wss" {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return fmt.Sprintf("%s://%s%s", scheme, host, path)
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// ClientID returns a client id unique per session: web-<device>-<8 hex>
func ClientID(deviceID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("web-%s-%s", deviceID, suffix)
}

// MQTTDialer opens paho-backed transports
type MQTTDialer struct {
	username string
	password string
	logger   *zap.Logger
}

// NewMQTTDialer creates a dialer; username and password may be empty
func NewMQTTDialer(username, password string, logger *zap.Logger) *MQTTDialer {
	return &MQTTDialer{username: username, password: password, logger: logger}
}

type mqttTransport struct {
	client   mqtt.Client
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers TransportHandlers
	detached bool
}

// Dial starts connecting in the background and returns immediately
func (d *MQTTDialer) Dial(o DialOptions, h TransportHandlers) (Transport, error) {
	t := &mqttTransport{logger: d.logger, handlers: h}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.URL)
	opts.SetClientID(o.ClientID)
	opts.SetCleanSession(o.Clean)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWriteTimeout(publishWriteTimeout)
	if o.ReconnectPeriod > 0 {
		opts.SetConnectRetryInterval(o.ReconnectPeriod)
		opts.SetMaxReconnectInterval(o.ReconnectPeriod)
	}
	if d.username != "" {
		opts.SetUsername(d.username)
		opts.SetPassword(d.password)
	}
	if strings.HasPrefix(o.URL, "wss://") || strings.HasPrefix(o.URL, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.OnConnect = func(mqtt.Client) {
		t.emit(func(h TransportHandlers) {
			if h.OnConnect != nil {
				h.OnConnect()
			}
		})
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		t.emitError(err)
		t.emit(func(h TransportHandlers) {
			if h.OnOffline != nil {
				h.OnOffline()
			}
		})
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		t.emit(func(h TransportHandlers) {
			if h.OnReconnect != nil {
				h.OnReconnect()
			}
		})
	}

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	go func() {
		// with connect retry the token only completes on success or Close
		token.Wait()
		if err := token.Error(); err != nil {
			t.emitError(err)
		}
	}()
	return t, nil
}

func (t *mqttTransport) emit(fn func(TransportHandlers)) {
	t.mu.RLock()
	h, detached := t.handlers, t.detached
	t.mu.RUnlock()
	if !detached {
		fn(h)
	}
}

func (t *mqttTransport) emitError(err error) {
	if err == nil {
		return
	}
	t.emit(func(h TransportHandlers) {
		if h.OnError != nil {
			h.OnError(err)
		}
	})
}

func (t *mqttTransport) Subscribe(topic string, done func(error)) {
	token := t.client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		t.emit(func(h TransportHandlers) {
			if h.OnMessage != nil {
				h.OnMessage(m.Topic(), m.Payload())
			}
		})
	})
	go func() {
		token.Wait()
		if done != nil {
			done(token.Error())
		}
	}()
}

func (t *mqttTransport) Publish(topic string, payload []byte) error {
	token := t.client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
		// paho fails fast when the link is down
		return token.Error()
	default:
	}
	go func() {
		if token.WaitTimeout(publishAckTimeout) && token.Error() != nil {
			t.logger.Warn("MQTT publish failed",
				zap.String("topic", topic),
				zap.Error(token.Error()))
			t.emitError(fmt.Errorf("publish to %s: %w", topic, token.Error()))
		}
	}()
	return nil
}

// IsConnected reports whether the link is up right now
func (t *mqttTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

func (t *mqttTransport) Close() {
	t.mu.Lock()
	if t.detached {
		t.mu.Unlock()
		return
	}
	t.detached = true
	t.handlers = TransportHandlers{}
	t.mu.Unlock()
	go t.client.Disconnect(250)
}
