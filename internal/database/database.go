package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/config"
)

// Fallbacks for a zero-valued config.DatabaseConfig.
const (
	defaultMaxConns      = 10
	defaultHealthTimeout = 2 * time.Second
)

// DB is the Postgres store behind users, recordings and transcripts.
type DB struct {
	Pool          *pgxpool.Pool
	healthTimeout time.Duration
	log           zerolog.Logger
}

// Open connects to Postgres, verifies the connection and, when
// cfg.AutoMigrate is set, brings the schema up to date before returning.
func Open(ctx context.Context, databaseURL string, cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	poolCfg, err := poolConfig(databaseURL, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", maskDSN(databaseURL), err)
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", poolCfg.MaxConns).
		Int32("min_conns", poolCfg.MinConns).
		Dur("max_conn_idle", poolCfg.MaxConnIdleTime).
		Msg("database connected")

	db := &DB{Pool: pool, healthTimeout: cfg.HealthTimeout, log: log}
	if db.healthTimeout <= 0 {
		db.healthTimeout = defaultHealthTimeout
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("DATABASE_AUTO_MIGRATE=false, schema left as is")
	}
	return db, nil
}

// poolConfig applies the configured pool sizing to the parsed DSN.
func poolConfig(databaseURL string, cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}
	poolCfg.MinConns = min(max(cfg.MinConns, 0), poolCfg.MaxConns)
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	return poolCfg, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.healthTimeout)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
