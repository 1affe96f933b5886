package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendTables = "tables"
	BackendMemory = "memory"

	defaultSnapshotCacheTTL = 10 * time.Minute
	defaultJWKSCacheTTL     = 15 * time.Minute
	defaultListenAddr       = ":8080"
	defaultTasksTable       = "tasks"
)

// Config is the process configuration read from the environment.
type Config struct {
	PublicURL string

	StoreBackend            string
	StorageConnectionString string
	TasksTable              string

	RedisConnectionString string
	SnapshotCacheTTL      time.Duration

	AuthDomain      string
	AuthAudience    string
	LocalAuthSecret string
	JWKSCacheTTL    time.Duration

	ListenAddr string
	Debug      bool
}

// LocalAuth reports whether sessions are signed with the shared secret.
func (c Config) LocalAuth() bool {
	return c.LocalAuthSecret != ""
}

// JWKSURL is the key set endpoint of the configured issuer.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.AuthDomain)
}

// Issuer is the expected "iss" claim.
func (c Config) Issuer() string {
	return "https://" + c.AuthDomain + "/"
}

// FromEnv reads the configuration from process environment variables.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		PublicURL:               strings.TrimRight(get("PUBLIC_URL"), "/"),
		StoreBackend:            strings.ToLower(get("STORE_BACKEND")),
		StorageConnectionString: get("STORAGE_CONNECTION_STRING"),
		TasksTable:              get("TASKS_TABLE"),
		RedisConnectionString:   get("REDIS_CONNECTION_STRING"),
		AuthDomain:              get("AUTH_DOMAIN"),
		AuthAudience:            get("AUTH_AUDIENCE"),
		ListenAddr:              defaultListenAddr,
		SnapshotCacheTTL:        defaultSnapshotCacheTTL,
		JWKSCacheTTL:            defaultJWKSCacheTTL,
	}

	if dbg, err := strconv.ParseBool(get("DEBUG")); err == nil && dbg {
		cfg.Debug = true
	}
	if cfg.PublicURL == "" {
		return Config{}, errors.New("missing PUBLIC_URL")
	}
	if u, err := url.Parse(cfg.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid PUBLIC_URL %q", cfg.PublicURL)
	}

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendTables
	}
	switch cfg.StoreBackend {
	case BackendTables:
		if cfg.StorageConnectionString == "" {
			return Config{}, errors.New("missing storage config")
		}
		if cfg.TasksTable == "" {
			cfg.TasksTable = defaultTasksTable
		}
	case BackendMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND value %q", cfg.StoreBackend)
	}

	if v := get("SNAPSHOT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("invalid SNAPSHOT_CACHE_TTL: %q", v)
		}
		cfg.SnapshotCacheTTL = d
	}
	if v := get("JWKS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid JWKS_CACHE_TTL: %q", v)
		}
		cfg.JWKSCacheTTL = d
	}

	if mode := strings.ToLower(get("LOCAL_AUTH_MODE")); mode != "" {
		if mode != "hs256" {
			return Config{}, errors.New("unsupported LOCAL_AUTH_MODE value")
		}
		cfg.LocalAuthSecret = get("LOCAL_AUTH_SHARED_SECRET")
		if cfg.LocalAuthSecret == "" {
			return Config{}, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	} else if cfg.AuthDomain == "" || cfg.AuthAudience == "" {
		return Config{}, errors.New("missing auth config")
	}

	if v := get("LISTEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid LISTEN_PORT: %q", v)
		}
		cfg.ListenAddr = ":" + v
	}
	return cfg, nil
}

// RedisOptions parses REDIS_CONNECTION_STRING, which is either a redis:// URL
// or "host:port,password=...,ssl=true". It returns nil when no Redis is set.
func (c Config) RedisOptions() (*redis.Options, error) {
	conn := c.RedisConnectionString
	if conn == "" {
		return nil, nil
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.Contains(parts[0], "://") {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING")
	}
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
