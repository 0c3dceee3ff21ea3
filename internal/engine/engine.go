package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"courierline/internal/config"
	"courierline/internal/domain"
	"courierline/internal/engine/auth"
	"courierline/internal/events"
	"courierline/internal/logger"
	"courierline/internal/metrics"
	"courierline/internal/repo"
)

// Cache holds rendered report snapshots. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Auth      auth.Service
	Config    *config.Config
	Cache     Cache
	Publisher events.Publisher
	Topic     string
	ReportTTL time.Duration
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Auth:      auth.New(cfg),
		Config:    cfg,
		Topic:     cfg.Kafka.Topic,
		ReportTTL: time.Duration(cfg.Redis.ReportTTLSeconds) * time.Second,
		Log:       logger.Nop(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) history() events.Writer {
	return events.Writer{Now: e.now}
}

func (e Engine) log() *logger.Logger {
	if e.Log == nil {
		return logger.Nop()
	}
	return e.Log
}

// system is used for lookups after the caller's access has already been checked.
var system = domain.Caller{Role: domain.RoleSuperAdmin}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user is inactive")
)

// ValidationError carries every problem found in an input. Nothing is written
// when it is returned.
type ValidationError struct {
	Problems []string
}

func (e ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// TransitionError reports a status change missing from the transition table.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return ValidationError{Problems: p}
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// branchFor picks the branch a new record belongs to. Super admins must name one;
// everybody else is pinned to their own branch.
func (e Engine) branchFor(ctx context.Context, c domain.Caller, requested int64, p *problems) int64 {
	if !c.IsSuperAdmin() {
		if requested != 0 && requested != c.Branch() {
			p.addf("branch %d is outside your branch", requested)
		}
		return c.Branch()
	}
	if requested == 0 {
		p.addf("branch_id is required")
		return 0
	}
	if _, err := e.Repo.GetBranch(ctx, nil, requested); err != nil {
		p.addf("branch %d not found", requested)
	}
	return requested
}

// publish sends messages after commit. Failures are logged and counted; the
// database stays the source of truth.
func (e Engine) publish(ctx context.Context, msgs ...events.Message) {
	if e.Publisher == nil || len(msgs) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, m := range msgs {
		value, err := m.Encode()
		if err == nil {
			err = e.Publisher.Publish(pctx, e.Topic, m.Key(), value)
		}
		if err != nil {
			e.Metrics.RecordPublishFailure()
			e.log().Warn("publish lifecycle message", "type", m.Type, "entity", m.Entity, "entity_id", m.EntityID, "error", err)
		}
	}
}

func (e Engine) invalidateReports(ctx context.Context, branchIDs ...int64) {
	if e.Cache == nil {
		return
	}
	keys := []string{dashboardKey(nil)}
	for _, id := range branchIDs {
		id := id
		keys = append(keys, dashboardKey(&id))
	}
	if err := e.Cache.Delete(ctx, keys...); err != nil {
		e.log().Warn("invalidate report cache", "keys", keys, "error", err)
	}
}
