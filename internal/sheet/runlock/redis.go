package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// RedisRegistry coordinates single-flight across replicas with SET NX.
// The key TTL doubles as the stale timeout: a crashed holder's lock
// expires on its own.
type RedisRegistry struct {
	log          *logger.Logger
	rdb          *goredis.Client
	prefix       string
	staleTimeout time.Duration
}

func NewRedisRegistry(log *logger.Logger, rdb *goredis.Client) *RedisRegistry {
	return &RedisRegistry{
		log:          log.With("component", "RedisRunLockRegistry"),
		rdb:          rdb,
		prefix:       "archsheet:runlock:",
		staleTimeout: envutil.Duration("RUN_LOCK_STALE_TIMEOUT", 10*time.Minute),
	}
}

func (r *RedisRegistry) Acquire(ctx context.Context, designID string) (*Lease, error) {
	runID := uuid.NewString()
	key := r.prefix + designID

	ok, err := r.rdb.SetNX(ctx, key, runID, r.staleTimeout).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		holder, _ := r.rdb.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: design %s locked by run %s",
			apperrors.ErrLockContention, designID, holder)
	}

	lease := &Lease{
		DesignID:   designID,
		RunID:      runID,
		AcquiredAt: time.Now(),
	}
	lease.release = func() {
		// Only delete our own lock; an expired-and-reacquired key
		// belongs to someone else.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		if err := r.rdb.Eval(releaseCtx, script, []string{key}, runID).Err(); err != nil && r.log != nil {
			r.log.Warn("run lock release failed", "design_id", designID, "error", err)
		}
	}
	return lease, nil
}
