package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"barleybox/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseRoot is the realtime database path the session keys live under
const FirebaseRoot = "barleybox/session"

// Realtime database keys may not contain . $ # [ ] or /
var firebaseKeyEscaper = strings.NewReplacer(
	"%", "%25",
	".", "%2E",
	"$", "%24",
	"#", "%23",
	"[", "%5B",
	"]", "%5D",
	"/", "%2F",
)

// FirebaseStore persists session keys in the Firebase realtime database
type FirebaseStore struct {
	client *db.Client
	logger *zap.Logger
}

// NewFirebaseStore opens the realtime database and checks it is reachable
func NewFirebaseStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseStore, error) {
	client, err := NewFirebaseClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fs := &FirebaseStore{
		client: client,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// NewFirebaseClient builds a realtime database client from the service account
func NewFirebaseClient(ctx context.Context, cfg *config.Config) (*db.Client, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}
	return client, nil
}

// testConnection reads the session root with retry
func (fs *FirebaseStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data interface{}
		err := fs.client.NewRef(FirebaseRoot).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// FirebaseKey maps a session key onto a legal realtime database key
func FirebaseKey(key string) string {
	return firebaseKeyEscaper.Replace(key)
}

func (fs *FirebaseStore) ref(key string) *db.Ref {
	return fs.client.NewRef(FirebaseRoot + "/" + FirebaseKey(key))
}

func (fs *FirebaseStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value interface{}
	if err := fs.ref(key).Get(ctx, &value); err != nil {
		return "", false, fmt.Errorf("error reading %s: %w", key, err)
	}
	s, ok := value.(string)
	if !ok {
		// missing keys come back as null
		return "", false, nil
	}
	return s, true, nil
}

func (fs *FirebaseStore) Set(ctx context.Context, key, value string) error {
	if err := fs.ref(key).Set(ctx, value); err != nil {
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	return nil
}

// Close closes the Firebase connection
func (fs *FirebaseStore) Close() error {
	fs.logger.Info("Closing Firebase store")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}

// Dump returns every session key stored under FirebaseRoot
func (fs *FirebaseStore) Dump(ctx context.Context) (map[string]string, error) {
	var data map[string]interface{}
	if err := fs.client.NewRef(FirebaseRoot).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error reading session keys: %w", err)
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
