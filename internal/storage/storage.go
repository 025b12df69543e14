// Package storage provides the local key-value store that holds the few
// strings the application keeps across restarts (display name, assistant
// credential). Values are raw strings with no schema versioning.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/comigor/localnet-go/internal/config"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("key not found")

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(cfg.Path)
	case config.DriverBadger:
		return OpenBadger(cfg.Path)
	case config.DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
