// Package config loads the store configuration from a YAML file and the
// environment.
//
// Example file:
//
//	mode: dev
//	max_size: 1000
//	expiration_time: 3600    # seconds
//	cleanup_interval: 60     # seconds
//	persistence_path: /var/lib/truestorage/cache.json
//	backup_interval: 300     # seconds
//	enable_logging: true
//	cold:
//	  kind: file             # file | badger | redis
//	  dir: /var/lib/truestorage/cold
//
// Every scalar can be overridden by a TRUESTORAGE_* variable, e.g.
// TRUESTORAGE_MAX_SIZE or TRUESTORAGE_COLD_ADDR. Mode-scoped variables apply
// (DEV_TRUESTORAGE_MAX_SIZE in dev mode).
package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"

	"github.com/alaamer12/true-storage/internal/backend/badgerstore"
	"github.com/alaamer12/true-storage/internal/backend/filestore"
	"github.com/alaamer12/true-storage/internal/backend/redisstore"
	"github.com/alaamer12/true-storage/internal/cache"
	"github.com/alaamer12/true-storage/internal/env"
	"github.com/alaamer12/true-storage/internal/storage"
)

// Cold tier kinds.
const (
	ColdNone   = ""
	ColdFile   = "file"
	ColdBadger = "badger"
	ColdRedis  = "redis"
)

// File is the configuration file.
type File struct {
	Mode            string  `yaml:"mode"`
	MaxSize         int     `yaml:"max_size"`
	ExpirationTime  float64 `yaml:"expiration_time"`
	CleanupInterval float64 `yaml:"cleanup_interval"`
	PersistencePath string  `yaml:"persistence_path"`
	BackupInterval  float64 `yaml:"backup_interval"`
	EnableLogging   bool    `yaml:"enable_logging"`
	Cold            Cold    `yaml:"cold"`
}

// Cold describes the cold tier.
type Cold struct {
	Kind     string `yaml:"kind"`
	Dir      string `yaml:"dir"`
	Addr     string `yaml:"addr"`
	Prefix   string `yaml:"prefix"`
	InMemory bool   `yaml:"in_memory"`
}

// Default mirrors cache.DefaultConfig, in dev mode with no cold tier.
func Default() *File {
	d := cache.DefaultConfig()
	return &File{
		Mode:            string(env.ModeDev),
		MaxSize:         d.MaxSize,
		ExpirationTime:  d.ExpirationTime.Seconds(),
		CleanupInterval: d.CleanupInterval.Seconds(),
		PersistencePath: d.PersistencePath,
		BackupInterval:  d.BackupInterval.Seconds(),
		EnableLogging:   d.EnableLogging,
	}
}

// Load parses a configuration file. Unset fields keep their defaults;
// unknown fields are an error.
func Load(data []byte) (*File, error) {
	f := Default()
	if err := yaml.UnmarshalStrict(data, f); err != nil {
		return nil, errors.Annotate(err, "parsing config").Err()
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadFile reads and parses the file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config").Err()
	}
	f, err := Load(data)
	if err != nil {
		return nil, errors.Annotate(err, "%s", path).Err()
	}
	return f, nil
}

// Validate checks field values that don't depend on other components.
func (f *File) Validate() error {
	if _, err := env.ParseMode(f.Mode); err != nil {
		return err
	}
	cc := f.CacheConfig()
	if err := cc.Validate(); err != nil {
		return err
	}
	switch f.Cold.Kind {
	case ColdNone, ColdBadger:
	case ColdFile:
		if f.Cold.Dir == "" {
			return errors.Reason("cold tier %q needs a dir", f.Cold.Kind).Err()
		}
	case ColdRedis:
		if f.Cold.Addr == "" {
			return errors.Reason("cold tier %q needs an addr", f.Cold.Kind).Err()
		}
	default:
		return errors.Reason("unknown cold tier kind %q", f.Cold.Kind).Err()
	}
	if f.Cold.Kind == ColdBadger && f.Cold.Dir == "" && !f.Cold.InMemory {
		return errors.Reason("cold tier %q needs a dir or in_memory", f.Cold.Kind).Err()
	}
	return nil
}

// ApplyEnv overrides fields with TRUESTORAGE_* variables from e.
func (f *File) ApplyEnv(e *env.Environment) error {
	str := func(name string, dst *string) error {
		v, ok, err := e.Get(name)
		if ok && err == nil {
			*dst = v
		}
		return err
	}
	num := func(name string, parse func(string) error) error {
		v, ok, err := e.Get(name)
		if err != nil || !ok {
			return err
		}
		if err := parse(v); err != nil {
			return errors.Annotate(err, "%s", name).Err()
		}
		return nil
	}
	secs := func(dst *float64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseFloat(v, 64)
			return
		}
	}

	steps := []error{
		str("TRUESTORAGE_MODE", &f.Mode),
		num("TRUESTORAGE_MAX_SIZE", func(v string) (err error) {
			f.MaxSize, err = strconv.Atoi(v)
			return
		}),
		num("TRUESTORAGE_EXPIRATION_TIME", secs(&f.ExpirationTime)),
		num("TRUESTORAGE_CLEANUP_INTERVAL", secs(&f.CleanupInterval)),
		str("TRUESTORAGE_PERSISTENCE_PATH", &f.PersistencePath),
		num("TRUESTORAGE_BACKUP_INTERVAL", secs(&f.BackupInterval)),
		num("TRUESTORAGE_ENABLE_LOGGING", func(v string) (err error) {
			f.EnableLogging, err = strconv.ParseBool(v)
			return
		}),
		str("TRUESTORAGE_COLD_KIND", &f.Cold.Kind),
		str("TRUESTORAGE_COLD_DIR", &f.Cold.Dir),
		str("TRUESTORAGE_COLD_ADDR", &f.Cold.Addr),
		str("TRUESTORAGE_COLD_PREFIX", &f.Cold.Prefix),
	}
	for _, err := range steps {
		if err != nil {
			return errors.Annotate(err, "applying environment").Err()
		}
	}
	return f.Validate()
}

// ParsedMode is the mode as an env.Mode.
func (f *File) ParsedMode() (env.Mode, error) {
	return env.ParseMode(f.Mode)
}

// CacheConfig converts the file into a hot tier configuration.
func (f *File) CacheConfig() cache.Config {
	return cache.Config{
		MaxSize:         f.MaxSize,
		ExpirationTime:  seconds(f.ExpirationTime),
		CleanupInterval: seconds(f.CleanupInterval),
		PersistencePath: f.PersistencePath,
		BackupInterval:  seconds(f.BackupInterval),
		EnableLogging:   f.EnableLogging,
	}
}

// OpenBackend opens the configured cold tier. It returns nil when none is
// configured.
func (f *File) OpenBackend(ctx context.Context) (storage.ClosableBackend, error) {
	switch f.Cold.Kind {
	case ColdFile:
		s, err := filestore.New(f.Cold.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ColdBadger:
		s, err := badgerstore.Open(ctx, badgerstore.Options{
			Dir:      f.Cold.Dir,
			InMemory: f.Cold.InMemory,
			Prefix:   f.Cold.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case ColdRedis:
		return redisstore.Dial(f.Cold.Addr, f.Cold.Prefix), nil
	case ColdNone:
		return nil, nil
	}
	return nil, errors.Reason("unknown cold tier kind %q", f.Cold.Kind).Err()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
