package services

import (
	"context"
	"fmt"
	"sync"

	"barleybox/codec"
	"barleybox/models"

	"go.uber.org/zap"
)

// Store is the key/value gateway the session persists into
type Store interface {
	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Persisted keys
const (
	keyDeviceID = "deviceId"
	keyBroker   = "mqttBroker"
)

// ConfigKey returns the key holding the last config sent to a device
func ConfigKey(deviceID string) string {
	return "config_" + deviceID
}

// SessionStore reads and writes the session keys on top of a Store
type SessionStore struct {
	store  Store
	logger *zap.Logger
}

// NewSessionStore wraps store
func NewSessionStore(store Store, logger *zap.Logger) *SessionStore {
	return &SessionStore{store: store, logger: logger}
}

// SaveSession remembers the device identity and broker address
func (s *SessionStore) SaveSession(ctx context.Context, deviceID, broker string) error {
	if err := s.store.Set(ctx, keyDeviceID, deviceID); err != nil {
		return fmt.Errorf("failed to save device id: %w", err)
	}
	if err := s.store.Set(ctx, keyBroker, broker); err != nil {
		return fmt.Errorf("failed to save broker: %w", err)
	}
	return nil
}

// LoadSession returns the remembered identity and broker; empty when unknown
func (s *SessionStore) LoadSession(ctx context.Context) (deviceID, broker string, err error) {
	deviceID, _, err = s.store.Get(ctx, keyDeviceID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load device id: %w", err)
	}
	broker, _, err = s.store.Get(ctx, keyBroker)
	if err != nil {
		return "", "", fmt.Errorf("failed to load broker: %w", err)
	}
	return deviceID, broker, nil
}

// SaveConfig caches the last config payload sent to a device
func (s *SessionStore) SaveConfig(ctx context.Context, deviceID string, payload []byte) error {
	if err := s.store.Set(ctx, ConfigKey(deviceID), string(payload)); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// LoadConfig returns the cached config for a device
func (s *SessionStore) LoadConfig(ctx context.Context, deviceID string) (models.DeviceConfig, bool, error) {
	raw, ok, err := s.store.Get(ctx, ConfigKey(deviceID))
	if err != nil {
		return models.DeviceConfig{}, false, fmt.Errorf("failed to load config: %w", err)
	}
	if !ok {
		return models.DeviceConfig{}, false, nil
	}
	cfg, err := codec.DecodeConfig([]byte(raw))
	if err != nil {
		s.logger.Warn("Ignoring unreadable cached config",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return models.DeviceConfig{}, false, nil
	}
	return cfg, true, nil
}

// Close closes the underlying store
func (s *SessionStore) Close() error {
	return s.store.Close()
}

// MemoryStore keeps values in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Close() error { return nil }
