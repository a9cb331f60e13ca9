package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"barleybox/codec"
	"barleybox/config"
	"barleybox/services"

	"go.uber.org/zap"
)

// Prints the session keys the console keeps in the Firebase backend
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Validate environment variables
	if cfg.FirebaseServiceAccountJSON == "" {
		log.Fatal("FIREBASE_SERVICE_ACCOUNT_JSON environment variable is not set")
	}
	if cfg.FirebaseDbUrl == "" {
		log.Fatal("FIREBASE_DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := services.NewFirebaseStore(ctx, cfg, zap.NewNop())
	if err != nil {
		log.Fatalf("Error initializing Firebase store: %v", err)
	}
	defer store.Close()

	entries, err := store.Dump(ctx)
	if err != nil {
		log.Fatalf("Error reading session keys: %v", err)
	}

	fmt.Printf("Total keys found under %s: %d\n", services.FirebaseRoot, len(entries))

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := entries[key]
		fmt.Printf("Key: %s\n", key)
		// cached configs are printed as the operator would see them
		if cfgPatch, err := codec.DecodeConfig([]byte(value)); err == nil && !cfgPatch.IsEmpty() {
			fmt.Printf("Config: %+v\n", codec.FormFromConfig(cfgPatch))
		} else {
			fmt.Printf("Value: %s\n", value)
		}
		fmt.Println("---")
	}
}
