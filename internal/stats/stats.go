// Package stats implements the Statistics Store collaborator (§6): the four
// operations the core emits into (record_share, update_best_difficulty,
// record_block_found) plus the read-only snapshot_sessions an API layer
// would poll. Redis backs the hot counters and duplicate-share check;
// Postgres backs the durable share/block log. Either backend may be nil,
// in which case the corresponding operation is a silent no-op —
// the core's hot path must never block or fail a share because a
// collaborator is unreachable.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/config"
)

// SessionSnapshot is one row of snapshot_sessions's result (§6).
type SessionSnapshot struct {
	Address        string
	Worker         string
	Hashrate       float64
	SharesAccepted int64
	SharesRejected int64
	BestDifficulty float64
	LastShareMs    int64
	ConnectedAtMs  int64
}

// Store is the Statistics Store collaborator.
type Store struct {
	logger   *zap.Logger
	redis    *redisBackend
	postgres *postgresBackend

	sessionsMu sync.RWMutex
	sessions   map[string]SessionSnapshot
}

// New constructs a Store. Redis and Postgres connections are attempted but
// their absence does not prevent the pool from serving shares: a failed
// connection is logged and that backend is left nil.
func New(ctx context.Context, redisCfg config.RedisConfig, postgresCfg config.PostgresConfig, logger *zap.Logger) *Store {
	logger = logger.Named("stats")
	store := &Store{
		logger:   logger,
		sessions: make(map[string]SessionSnapshot),
	}

	if backend, err := newRedisBackend(ctx, redisCfg, logger); err != nil {
		logger.Warn("Redis unavailable, duplicate-share checks and hot counters disabled", zap.Error(err))
	} else {
		store.redis = backend
	}

	if backend, err := newPostgresBackend(ctx, postgresCfg, logger); err != nil {
		logger.Warn("PostgreSQL unavailable, share/block persistence disabled", zap.Error(err))
	} else {
		store.postgres = backend
	}

	return store
}

// Close releases backend connections.
func (s *Store) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("error closing Redis", zap.Error(err))
		}
	}
	if s.postgres != nil {
		s.postgres.Close()
	}
}

// CheckDuplicateShare is the pre-check §4.5's implementation runs ahead of
// job-id resolution: true means this exact (job_id, extranonce1,
// extranonce2, ntime, nonce) tuple was already seen.
func (s *Store) CheckDuplicateShare(ctx context.Context, shareKey string) bool {
	if s.redis == nil {
		return false
	}
	duplicate, err := s.redis.CheckDuplicateShare(ctx, shareKey)
	if err != nil {
		s.logger.Warn("duplicate-share check failed, allowing share through", zap.Error(err))
		return false
	}
	return duplicate
}

// RecordShare implements record_share(address, worker, difficulty,
// accepted, timestamp_ms).
func (s *Store) RecordShare(ctx context.Context, address, worker string, difficulty float64, accepted bool, timestampMs int64) {
	if s.redis != nil {
		if err := s.redis.recordShare(ctx, address, worker, accepted, timestampMs); err != nil {
			s.logger.Warn("record_share (redis) failed", zap.Error(err))
		}
	}
	if s.postgres != nil {
		if err := s.postgres.recordShare(ctx, address, worker, difficulty, accepted, timestampMs); err != nil {
			s.logger.Warn("record_share (postgres) failed", zap.Error(err))
		}
	}
}

// UpdateBestDifficulty implements update_best_difficulty(address, difficulty).
func (s *Store) UpdateBestDifficulty(ctx context.Context, address string, difficulty float64) {
	if s.redis == nil {
		return
	}
	if err := s.redis.updateBestDifficulty(ctx, address, difficulty); err != nil {
		s.logger.Warn("update_best_difficulty failed", zap.Error(err))
	}
}

// RecordBlockFound implements record_block_found(address, worker, height).
func (s *Store) RecordBlockFound(ctx context.Context, address, worker string, height int64) {
	s.logger.Info("block found", zap.String("address", address), zap.String("worker", worker), zap.Int64("height", height))
	if s.postgres != nil {
		if err := s.postgres.recordBlockFound(ctx, address, worker, height); err != nil {
			s.logger.Error("record_block_found failed", zap.Error(err))
		}
	}
}

// TrackSession registers (or re-registers) a session's online presence and
// seeds its snapshot row. Called once the session is both subscribed and
// authorized, since address/worker are unknown before then.
func (s *Store) TrackSession(ctx context.Context, id, address, worker string, connectedAtMs int64) {
	s.sessionsMu.Lock()
	s.sessions[id] = SessionSnapshot{
		Address:       address,
		Worker:        worker,
		ConnectedAtMs: connectedAtMs,
	}
	s.sessionsMu.Unlock()

	if s.redis != nil {
		s.redis.trackOnline(ctx, address, worker)
	}
	if s.postgres != nil {
		if err := s.postgres.upsertWorker(ctx, address, worker, time.Now()); err != nil {
			s.logger.Warn("failed to upsert worker", zap.Error(err))
		}
	}
}

// UpdateSession replaces a tracked session's live counters; the session
// itself is the sole writer (§5 contract 2), so this is a plain copy-out.
func (s *Store) UpdateSession(id string, snapshot SessionSnapshot) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return
	}
	s.sessions[id] = snapshot
}

// UntrackSession removes a session on TCP close.
func (s *Store) UntrackSession(ctx context.Context, id string) {
	s.sessionsMu.Lock()
	snapshot, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()

	if !ok || s.redis == nil {
		return
	}
	s.redis.untrackOnline(ctx, snapshot.Address, snapshot.Worker)
}

// SnapshotSessions implements snapshot_sessions(): a read-only, point-in-time
// copy of every currently tracked session.
func (s *Store) SnapshotSessions() []SessionSnapshot {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	result := make([]SessionSnapshot, 0, len(s.sessions))
	for _, snapshot := range s.sessions {
		result = append(result, snapshot)
	}
	return result
}
