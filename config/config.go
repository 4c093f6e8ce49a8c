// Package config loads docupdater settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence backends.
const (
	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
	BackendMemory    = "memory"
)

// Config is the full docupdater configuration.
type Config struct {
	Redis       RedisConfig       `yaml:"redis"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Limits      LimitsConfig      `yaml:"limits"`
	DocOps      DocOpsConfig      `yaml:"docOps"`
	Flush       FlushConfig       `yaml:"flush"`
	Lock        LockConfig        `yaml:"lock"`
	DeleteQueue DeleteQueueConfig `yaml:"deleteQueue"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TLS connects with TLS using the system roots.
	TLS bool `yaml:"tls"`
}

type PersistenceConfig struct {
	// Backend is one of firestore, sqlite or memory.
	Backend          string `yaml:"backend"`
	FirestoreProject string `yaml:"firestoreProject"`
	SQLitePath       string `yaml:"sqlitePath"`
}

type LimitsConfig struct {
	MaxDocLength  int `yaml:"maxDocLength"`
	MaxRangesSize int `yaml:"maxRangesSize"`
	// MaxUpdateSize caps a single history record. Zero disables the check.
	MaxUpdateSize int `yaml:"maxUpdateSize"`
}

type DocOpsConfig struct {
	MaxLength int64         `yaml:"maxLength"`
	TTL       time.Duration `yaml:"ttl"`
}

type FlushConfig struct {
	MaxUnflushedAge    time.Duration `yaml:"maxUnflushedAge"`
	ProjectConcurrency int           `yaml:"projectConcurrency"`
}

type LockConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

type DeleteQueueConfig struct {
	PollInterval    time.Duration `yaml:"pollInterval"`
	MinDelay        time.Duration `yaml:"minDelay"`
	SmoothingOffset time.Duration `yaml:"smoothingOffset"`
}

type DispatcherConfig struct {
	Workers int           `yaml:"workers"`
	Wait    time.Duration `yaml:"wait"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Redis:       RedisConfig{Address: "localhost:6379"},
		Persistence: PersistenceConfig{Backend: BackendMemory, SQLitePath: "docupdater.db"},
		Limits: LimitsConfig{
			MaxDocLength:  2 * 1024 * 1024,
			MaxRangesSize: 3 * 1024 * 1024,
		},
		DocOps: DocOpsConfig{MaxLength: 100, TTL: time.Hour},
		Flush:  FlushConfig{MaxUnflushedAge: 5 * time.Minute, ProjectConcurrency: 5},
		Lock: LockConfig{
			TTL:           30 * time.Second,
			Timeout:       10 * time.Second,
			RetryInterval: 50 * time.Millisecond,
		},
		DeleteQueue: DeleteQueueConfig{PollInterval: 10 * time.Second},
		Dispatcher:  DispatcherConfig{Workers: 1, Wait: time.Second},
		Logging:     LoggingConfig{Level: "INFO"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(b); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decode(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	err := dec.Decode(c)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DOCUPDATER_REDIS_ADDR":          &c.Redis.Address,
		"DOCUPDATER_REDIS_PASSWORD":      &c.Redis.Password,
		"DOCUPDATER_PERSISTENCE_BACKEND": &c.Persistence.Backend,
		"DOCUPDATER_FIRESTORE_PROJECT":   &c.Persistence.FirestoreProject,
		"DOCUPDATER_SQLITE_PATH":         &c.Persistence.SQLitePath,
		LogLevelEnv:                      &c.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("DOCUPDATER_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOCUPDATER_REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v, ok := lookup("DOCUPDATER_REDIS_TLS"); ok {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOCUPDATER_REDIS_TLS: %w", err)
		}
		c.Redis.TLS = on
	}
	return nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Redis.Address != "", "redis.address is required")
	switch c.Persistence.Backend {
	case BackendFirestore:
		check(c.Persistence.FirestoreProject != "", "persistence.firestoreProject is required for the firestore backend")
	case BackendSQLite:
		check(c.Persistence.SQLitePath != "", "persistence.sqlitePath is required for the sqlite backend")
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown persistence.backend %q", c.Persistence.Backend))
	}
	check(c.Limits.MaxDocLength > 0, "limits.maxDocLength must be positive")
	check(c.Limits.MaxRangesSize > 0, "limits.maxRangesSize must be positive")
	check(c.Limits.MaxUpdateSize >= 0, "limits.maxUpdateSize must not be negative")
	check(c.DocOps.MaxLength > 0, "docOps.maxLength must be positive")
	check(c.DocOps.TTL > 0, "docOps.ttl must be positive")
	check(c.Flush.MaxUnflushedAge > 0, "flush.maxUnflushedAge must be positive")
	check(c.Flush.ProjectConcurrency > 0, "flush.projectConcurrency must be positive")
	check(c.Lock.TTL > 0 && c.Lock.Timeout > 0 && c.Lock.RetryInterval > 0, "lock durations must be positive")
	check(c.Lock.RetryInterval < c.Lock.Timeout, "lock.retryInterval must be shorter than lock.timeout")
	check(c.DeleteQueue.PollInterval > 0, "deleteQueue.pollInterval must be positive")
	check(c.DeleteQueue.MinDelay >= 0 && c.DeleteQueue.SmoothingOffset >= 0, "deleteQueue delays must not be negative")
	check(c.Dispatcher.Workers > 0, "dispatcher.workers must be positive")
	check(c.Dispatcher.Wait > 0, "dispatcher.wait must be positive")
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
