package services

import (
	"time"
)

// TransportHandlers are the lifecycle callbacks a transport reports.
// They may be invoked from any goroutine.
type TransportHandlers struct {
	OnConnect   func()
	OnMessage   func(topic string, payload []byte)
	OnError     func(err error)
	OnOffline   func()
	OnReconnect func()
}

// DialOptions mirror the options the dashboard opens a broker link with
type DialOptions struct {
	URL             string
	ClientID        string
	Clean           bool
	ReconnectPeriod time.Duration
}

// Transport is the publish/subscribe link the session drives.
// Publish is fire-and-forget: it never waits for a broker acknowledgement.
type Transport interface {
	Subscribe(topic string, done func(err error))
	Publish(topic string, payload []byte) error
	IsConnected() bool
	// Close detaches every handler and drops the link
	Close()
}

// Dialer opens transports. Dial must not block on the network; the
// outcome is reported through the handlers.
type Dialer interface {
	Dial(opts DialOptions, handlers TransportHandlers) (Transport, error)
}
