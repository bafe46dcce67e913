// Package config loads the configuration of a recordview process.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/illmade-knight/go-recordview/pkg/microservice"
	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SourceHTTP      = "http"
	SourceFirestore = "firestore"

	BackendMemory    = "memory"
	BackendLRU       = "lru"
	BackendRedis     = "redis"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// CacheConfig selects the entity cache backend.
type CacheConfig struct {
	Backend string `yaml:"backend"`
	// MaxEntries bounds the lru backend per record kind.
	MaxEntries int               `yaml:"max_entries"`
	Redis      cache.RedisConfig `yaml:"redis"`
}

// SessionConfig selects where the session is stored.
type SessionConfig struct {
	Backend    string           `yaml:"backend"`
	Key        string           `yaml:"key"`
	Path       string           `yaml:"path"`
	Collection string           `yaml:"collection"`
	Redis      auth.RedisConfig `yaml:"redis"`
}

// NoticeConfig configures change notices. An empty TopicID logs notices
// instead of publishing them. SubscriptionID, when set, lets serve drop cached
// records that other processes changed.
type NoticeConfig struct {
	TopicID        string        `yaml:"topic_id"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	SubscriptionID string        `yaml:"subscription_id"`
}

// Config is the configuration of a recordview process.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Source    string                  `yaml:"source"`
	HTTP      records.HTTPConfig      `yaml:"http"`
	Firestore records.FirestoreConfig `yaml:"firestore"`
	Cache     CacheConfig             `yaml:"cache"`
	Session   SessionConfig           `yaml:"session"`
	Notices   NoticeConfig            `yaml:"notices"`

	// FetchTimeout bounds each fetch cycle. Zero leaves cycles unbounded.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Defaults returns a configuration for a local command line client. The
// following environment variables override the defaults:
// RECORDVIEW_LOG_LEVEL, RECORDVIEW_API_URL, RECORDVIEW_HTTP_PORT,
// RECORDVIEW_FETCH_TIMEOUT, RECORDVIEW_SESSION_DB, RECORDVIEW_CACHE_MAX_ENTRIES,
// GOOGLE_CLOUD_PROJECT and REDIS_ADDR.
func Defaults() *Config {
	cfg := &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "recordview",
		},
		Source: SourceHTTP,
		HTTP: records.HTTPConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
			Redis:   cache.RedisConfig{Addr: "localhost:6379", KeyPrefix: "recordview:"},
		},
		Session: SessionConfig{
			Backend:    BackendSQLite,
			Key:        auth.DefaultSessionKey,
			Path:       defaultSessionPath(),
			Collection: "sessions",
			Redis:      auth.RedisConfig{Addr: "localhost:6379", KeyPrefix: "recordview-session:"},
		},
	}

	if v := os.Getenv("RECORDVIEW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RECORDVIEW_API_URL"); v != "" {
		cfg.HTTP.BaseURL = v
	}
	if v := os.Getenv("RECORDVIEW_HTTP_PORT"); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv("RECORDVIEW_FETCH_TIMEOUT"); v != "" {
		if val, err := time.ParseDuration(v); err == nil {
			cfg.FetchTimeout = val
		}
	}
	if v := os.Getenv("RECORDVIEW_SESSION_DB"); v != "" {
		cfg.Session.Path = v
	}
	if v := os.Getenv("RECORDVIEW_CACHE_MAX_ENTRIES"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = val
		}
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.ProjectID = v
		cfg.Firestore.ProjectID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
		cfg.Session.Redis.Addr = v
	}
	return cfg
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "recordview-session.db"
	}
	return filepath.Join(dir, "recordview", "session.db")
}

// Load reads a .env file from the working directory when present, then
// overlays the YAML file at path on Defaults. ${VAR} references in the file
// are expanded from the environment. An empty path uses Defaults alone.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.ProjectID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are known and configured.
func (c *Config) Validate() error {
	var errs []error
	switch c.Source {
	case SourceHTTP:
		if c.HTTP.BaseURL == "" {
			errs = append(errs, errors.New("http.base_url is required for the http source"))
		}
	case SourceFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("firestore.project_id is required for the firestore source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	switch c.Cache.Backend {
	case BackendMemory, BackendRedis:
	case BackendLRU:
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, errors.New("cache.max_entries must be greater than 0 for the lru backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	switch c.Session.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.Session.Path == "" {
			errs = append(errs, errors.New("session.path is required for the sqlite backend"))
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" && c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required for the firestore session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}

	if c.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch_timeout cannot be negative"))
	}
	return errors.Join(errs...)
}
