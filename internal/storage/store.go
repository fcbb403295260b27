// Package storage provides the key-value stores standing in for the browser's
// localStorage and sessionStorage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/talonops/talon/internal/config"
)

// Store is a string key-value store.
type Store interface {
	// Get returns the value stored under key. found is false when the key
	// does not exist.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error
}

// GetJSON decodes the JSON value stored under key into v. It reports false
// when the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("storage: decoding %q: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encoding %q: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}

// Open builds the store described by cfg. The returned close function
// releases the backend's resources.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil

	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("storage: %s is not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("storage: redis ping %s: %w", addr, err)
		}
		return NewRedis(client, cfg.Prefix), client.Close, nil
	}
	return nil, nil, errors.New("storage: unsupported driver " + cfg.Driver)
}
