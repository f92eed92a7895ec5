package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campaign-progress-engine/internal/config"
)

// ErrInvalidUsuarioID is returned for non-positive usuario ids.
var ErrInvalidUsuarioID = errors.New("storage: invalid usuario id")

// psql builds $n-placeholder statements.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const queryTimeout = 5 * time.Second

// Store reads the campaign catalog and metric sources and keeps progress
// snapshots in Postgres.
type Store struct {
	pool    *pgxpool.Pool
	channel string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ListenChannel is the NOTIFY channel the admin side signals campaign edits on.
func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "campaign_changes"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return s.PgxPool().Ping(ctx)
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// queryRow runs a single-row query; a missing row is reported as found=false.
func (s *Store) queryRow(ctx context.Context, sql string, args []any, dest ...any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	err := s.pool.QueryRow(ctx, sql, args...).Scan(dest...)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
