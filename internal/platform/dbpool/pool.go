package dbpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calsync/project/internal/platform/env"
)

// Settings sizes the pgx pool. Zero values fall back to the defaults below.
type Settings struct {
	MinConns          int
	MaxConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ApplicationName   string
}

func DefaultSettings() Settings {
	return Settings{
		MinConns:          1,
		MaxConns:          10,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ApplicationName:   "calsync-server",
	}
}

// SettingsFromEnv reads DB_MIN_CONNS, DB_MAX_CONNS, DB_MAX_CONN_LIFETIME,
// DB_MAX_CONN_IDLE_TIME and DB_HEALTH_CHECK_PERIOD over the defaults.
func SettingsFromEnv() Settings {
	def := DefaultSettings()
	s := Settings{
		MinConns:          env.Int("DB_MIN_CONNS", def.MinConns),
		MaxConns:          env.Int("DB_MAX_CONNS", def.MaxConns),
		MaxConnLifetime:   env.Duration("DB_MAX_CONN_LIFETIME", def.MaxConnLifetime),
		MaxConnIdleTime:   env.Duration("DB_MAX_CONN_IDLE_TIME", def.MaxConnIdleTime),
		HealthCheckPeriod: env.Duration("DB_HEALTH_CHECK_PERIOD", def.HealthCheckPeriod),
		ApplicationName:   env.String("DB_APPLICATION_NAME", def.ApplicationName),
	}
	return s.normalized()
}

func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.MinConns < 0 {
		s.MinConns = def.MinConns
	}
	if s.MaxConns <= 0 {
		s.MaxConns = def.MaxConns
	}
	if s.MinConns > s.MaxConns {
		s.MinConns = s.MaxConns
	}
	if s.MaxConnLifetime <= 0 {
		s.MaxConnLifetime = def.MaxConnLifetime
	}
	if s.MaxConnIdleTime <= 0 {
		s.MaxConnIdleTime = def.MaxConnIdleTime
	}
	if s.HealthCheckPeriod <= 0 {
		s.HealthCheckPeriod = def.HealthCheckPeriod
	}
	return s
}

// Config parses databaseURL and applies s to the resulting pool config.
func Config(databaseURL string, s Settings) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	s = s.normalized()
	cfg.MinConns = int32(s.MinConns)
	cfg.MaxConns = int32(s.MaxConns)
	cfg.MaxConnLifetime = s.MaxConnLifetime
	cfg.MaxConnIdleTime = s.MaxConnIdleTime
	cfg.HealthCheckPeriod = s.HealthCheckPeriod
	if s.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = s.ApplicationName
	}
	return cfg, nil
}

func New(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := Config(databaseURL, SettingsFromEnv())
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
