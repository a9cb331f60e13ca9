package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barleybox/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	deviceID   = flag.String("device", "box1", "Device id to simulate")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host, host:port or URL)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	interval   = flag.Duration("interval", 5*time.Second, "Telemetry interval")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for the simulated climate")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	box := NewSimulatedBox(*deviceID, rand.New(rand.NewSource(*seed)), logger)
	broker := services.BrokerURL(*mqttBroker, "tcp", 1883, "")

	logger.Info("Barley box simulator started",
		zap.String("device_id", *deviceID),
		zap.String("broker", broker),
		zap.Duration("interval", *interval),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	var client mqtt.Client

	publish := func(msgs ...outbound) {
		for _, m := range msgs {
			token := client.Publish(m.topic, 0, false, m.payload)
			if token.WaitTimeout(10*time.Second) && token.Error() != nil {
				logger.Error("Failed to publish MQTT message",
					zap.String("topic", m.topic),
					zap.Error(token.Error()))
				continue
			}
			logger.Debug("Published MQTT message",
				zap.String("topic", m.topic),
				zap.ByteString("payload", m.payload))
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("%s-boxsim", *deviceID))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	// Subscriptions are lost with a clean session, so repeat them on every connect
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", broker))
		for _, topic := range box.Subscriptions() {
			topic := topic
			token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				logger.Info("Received message",
					zap.String("topic", msg.Topic()),
					zap.ByteString("payload", msg.Payload()))
				go publish(box.Handle(msg.Topic(), msg.Payload())...)
			})
			go func() {
				if token.Wait() && token.Error() != nil {
					logger.Error("Subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
				}
			}()
		}
		go publish(box.Online())
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client = mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	messageCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down gracefully...",
				zap.Int("telemetry_messages", messageCount),
				zap.Duration("total_uptime", time.Since(startTime)),
			)
			logger.Info("Disconnecting from MQTT broker...")
			client.Disconnect(250)
			logger.Info("Shutdown complete")
			return

		case <-ticker.C:
			if !client.IsConnectionOpen() {
				continue
			}
			publish(box.Tick()...)
			messageCount++
		}
	}
}
