package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/atotto/clipboard"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/session"
	"taskboard/storage"
)

var errNotSignedIn = errors.New("not signed in")

// app carries what the commands share. Tests replace the loaders.
type app struct {
	loadConfig func() (config.Config, error)
	openStore  func(ctx context.Context, cfg config.Config, logger *log.Logger) (*storage.Live, func(), error)
	clipboard  board.Clipboard
	log        *log.Logger
	out        io.Writer

	token string
	cfg   config.Config
}

func newApp() *app {
	return &app{
		loadConfig: config.FromEnv,
		openStore:  openStore,
		clipboard:  systemClipboard{},
		log:        log.New(),
		out:        os.Stdout,
	}
}

func (a *app) configure() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if cfg.Debug {
		a.log.SetLevel(log.DebugLevel)
	}
	return nil
}

// openStore builds the live store from configuration. With Redis configured
// snapshots are cached and change signals cross process boundaries.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (*storage.Live, func(), error) {
	var backend storage.Backend
	switch cfg.StoreBackend {
	case config.BackendMemory:
		backend = storage.NewMemory()
	default:
		tables, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		backend = tables
	}

	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, err
	}
	if opts == nil {
		logger.Warn("REDIS_CONNECTION_STRING not set; live updates are limited to this process")
		return storage.NewLive(backend, storage.NewLocalFeed(), logger), func() {}, nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	if cfg.SnapshotCacheTTL > 0 {
		backend = storage.NewCache(backend, client, cfg.SnapshotCacheTTL)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("close redis client")
		}
	}
	return storage.NewLive(backend, storage.NewRedisFeed(client, logger), logger), cleanup, nil
}

// sessions builds the token verifier for the configured auth mode.
func (a *app) sessions() (*session.Provider, func(), error) {
	if a.cfg.LocalAuth() {
		return session.NewProvider(session.Config{LocalSecret: []byte(a.cfg.LocalAuthSecret)}), func() {}, nil
	}
	jwks, err := keyfunc.Get(a.cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval: a.cfg.JWKSCacheTTL,
		RefreshErrorHandler: func(err error) {
			a.log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	p := session.NewProvider(session.Config{
		JWKS:        jwks,
		Audience:    a.cfg.AuthAudience,
		Issuer:      a.cfg.Issuer(),
		KeyCacheTTL: a.cfg.JWKSCacheTTL,
	})
	return p, jwks.EndBackground, nil
}

// session resolves the identity of the CLI user from --token or
// TASKBOARD_TOKEN.
func (a *app) session() (*domain.Session, func(), error) {
	token := a.token
	if token == "" {
		token = os.Getenv("TASKBOARD_TOKEN")
	}
	if token == "" {
		return nil, nil, errNotSignedIn
	}
	p, cleanup, err := a.sessions()
	if err != nil {
		return nil, nil, err
	}
	sess, err := p.FromToken(token)
	if err != nil {
		cleanup()
		a.log.WithError(err).Debug("token rejected")
		return nil, nil, errNotSignedIn
	}
	return sess, cleanup, nil
}

type systemClipboard struct{}

func (systemClipboard) WriteText(ctx context.Context, text string) error {
	return clipboard.WriteAll(text)
}

type printNotifier struct {
	out io.Writer
}

func (n printNotifier) Notify(message string) {
	fmt.Fprintln(n.out, message)
}

const defaultTokenTTL = 12 * time.Hour
