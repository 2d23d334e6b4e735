package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/config"
)

// postgresBackend is the durable half of the Statistics Store: the share
// log, block log, and worker table. snapshot_sessions does not read from
// it; Store.SnapshotSessions copies the in-memory session table.
type postgresBackend struct {
	pool   *pgxpool.Pool
	cfg    config.PostgresConfig
	logger *zap.Logger
}

func newPostgresBackend(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*postgresBackend, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password,
		cfg.MaxConnections, cfg.MinConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	backend := &postgresBackend{pool: pool, cfg: cfg, logger: logger.Named("postgres")}
	if err := backend.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return backend, nil
}

func (p *postgresBackend) Close() {
	p.pool.Close()
}

func (p *postgresBackend) initSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS pool_shares (
			id BIGSERIAL PRIMARY KEY,
			address VARCHAR(128) NOT NULL,
			worker_name VARCHAR(255) NOT NULL,
			difficulty DOUBLE PRECISION NOT NULL,
			accepted BOOLEAN NOT NULL,
			submitted_at_ms BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pool_shares_addr ON pool_shares(address, worker_name);
		CREATE INDEX IF NOT EXISTS idx_pool_shares_time ON pool_shares(submitted_at_ms);

		CREATE TABLE IF NOT EXISTS pool_blocks (
			id BIGSERIAL PRIMARY KEY,
			address VARCHAR(128) NOT NULL,
			worker_name VARCHAR(255) NOT NULL,
			height BIGINT NOT NULL,
			found_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_pool_blocks_height ON pool_blocks(height);

		CREATE TABLE IF NOT EXISTS pool_workers (
			address VARCHAR(128) NOT NULL,
			worker_name VARCHAR(255) NOT NULL,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (address, worker_name)
		);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *postgresBackend) recordShare(ctx context.Context, address, worker string, difficulty float64, accepted bool, timestampMs int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pool_shares (address, worker_name, difficulty, accepted, submitted_at_ms) VALUES ($1, $2, $3, $4, $5)`,
		address, worker, difficulty, accepted, timestampMs,
	)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func (p *postgresBackend) recordBlockFound(ctx context.Context, address, worker string, height int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pool_blocks (address, worker_name, height) VALUES ($1, $2, $3)`,
		address, worker, height,
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (p *postgresBackend) upsertWorker(ctx context.Context, address, worker string, now time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pool_workers (address, worker_name, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (address, worker_name) DO UPDATE SET last_seen_at = $3`,
		address, worker, now,
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}
