package cache

import (
	"time"

	"go.chromium.org/luci/common/errors"
)

// Config controls store capacity, expiry and durability.
//
// Defaults (see DefaultConfig):
//   - CleanupInterval <= 0 disables the background worker (lazy expiration still works)
//   - BackupInterval <= 0 disables periodic snapshots; Close still flushes a
//     final snapshot when PersistencePath is set
//   - an empty PersistencePath disables snapshots and restore entirely
type Config struct {
	// MaxSize bounds the number of resident entries. Must be positive.
	MaxSize int
	// ExpirationTime is the default TTL applied by Set. Must be positive.
	ExpirationTime time.Duration
	// CleanupInterval is the period of the TTL sweep.
	CleanupInterval time.Duration
	// PersistencePath is the snapshot file restored on New and written by the
	// background worker and Close.
	PersistencePath string
	// BackupInterval is the minimum time between periodic snapshots.
	BackupInterval time.Duration
	// EnableLogging turns on per-operation debug logs. Background failures
	// are logged regardless.
	EnableLogging bool
	// OnEvent, if set, receives evictions, expirations and snapshot outcomes.
	// It is called after the store mutex is released.
	OnEvent func(Event)
}

// DefaultConfig returns the configuration used when fields are left unset.
func DefaultConfig() Config {
	return Config{
		MaxSize:         1000,
		ExpirationTime:  time.Hour,
		CleanupInterval: time.Minute,
		BackupInterval:  5 * time.Minute,
		EnableLogging:   true,
	}
}

// Validate checks that cfg describes a usable store.
func (cfg *Config) Validate() error {
	if cfg.MaxSize <= 0 {
		return errors.Reason("max size must be positive, got %d", cfg.MaxSize).Err()
	}
	if cfg.ExpirationTime <= 0 {
		return errors.Reason("expiration time must be positive, got %s", cfg.ExpirationTime).Err()
	}
	return nil
}
