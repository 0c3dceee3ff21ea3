package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"courierline/internal/broker/kafka"
	"courierline/internal/cache/rediscache"
	"courierline/internal/config"
	"courierline/internal/db"
	"courierline/internal/engine"
	"courierline/internal/logger"
	"courierline/internal/metrics"
	"courierline/internal/migrate"
	"courierline/internal/server"
)

// App is a fully wired Courierline instance.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Engine   engine.Engine
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Cache    *rediscache.RedisCache
	Limiter  *rediscache.RateLimiter
	Producer *kafka.Producer
}

// Open connects the database, applies migrations and attaches the optional
// Redis cache and Kafka producer. An unreachable Redis is logged and skipped.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	dbCfg := db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Path: cfg.Database.Path}
	if dbCfg.Driver != db.DialectMySQL && dbCfg.DSN == "" {
		if err := db.EnsureDir(dbCfg.Path); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn, dbCfg.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Config: cfg, DB: conn, Log: log, Metrics: metrics.New()}
	eng := engine.New(conn, cfg)
	eng.Log = log
	eng.Metrics = a.Metrics

	if cfg.Redis.Addr != "" {
		cache := rediscache.New(cfg.Redis.Addr)
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := cache.Ping(pctx)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, report cache and login throttling disabled", "addr", cfg.Redis.Addr, "error", err)
			cache.Close()
		} else {
			a.Cache = cache
			a.Limiter = rediscache.NewRateLimiter(cfg.Redis.Addr)
			eng.Cache = cache
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		a.Producer = kafka.NewProducer(cfg.Kafka.Brokers)
		eng.Publisher = a.Producer
	}
	a.Engine = eng
	log.Info("courierline ready",
		"driver", dbCfg.Driver,
		"report_cache", a.Cache != nil,
		"kafka", a.Producer != nil,
	)
	return a, nil
}

// Handler builds the HTTP API for the app.
func (a *App) Handler() (http.Handler, error) {
	cfg := server.Config{
		Engine:   a.Engine,
		BasePath: a.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:          a.Config.Auth.JWTSecret,
			TokenTTL:           time.Duration(a.Config.Auth.TokenTTLMinutes) * time.Minute,
			AllowLegacyHeaders: a.Config.Auth.AllowLegacyHeaders,
			Logger:             a.Log,
		},
		Log:     a.Log,
		Metrics: a.Metrics,
	}
	if a.Limiter != nil {
		cfg.Limiter = a.Limiter
	}
	return server.New(cfg)
}

// Bootstrap seeds the first super admin from the bootstrap section when the
// users table has none.
func (a *App) Bootstrap(ctx context.Context) error {
	b := a.Config.Bootstrap
	if b.Email == "" {
		return nil
	}
	u, created, err := a.Engine.EnsureSuperAdmin(ctx, b.Name, b.Email, b.Password)
	if err != nil {
		return fmt.Errorf("bootstrap super admin: %w", err)
	}
	if created {
		a.Log.Info("created super admin", "user_id", u.ID, "email", u.Email)
	}
	return nil
}

func (a *App) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if a.Producer != nil {
		keep(a.Producer.Close())
	}
	if a.Limiter != nil {
		keep(a.Limiter.Close())
	}
	if a.Cache != nil {
		keep(a.Cache.Close())
	}
	keep(a.DB.Close())
	a.Log.Sync()
	return first
}
