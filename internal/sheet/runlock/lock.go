// Package runlock enforces single-flight generation per design. The
// registry is an injected value, not a process singleton, so independent
// contexts (and tests) can run their own.
package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// Registry hands out generation leases.
type Registry interface {
	// Acquire returns a lease or ErrLockContention immediately; requests
	// are never queued.
	Acquire(ctx context.Context, designID string) (*Lease, error)
}

// Lease is one held generation lock. Release is idempotent.
type Lease struct {
	DesignID   string
	RunID      string
	AcquiredAt time.Time

	release func()
	once    sync.Once
}

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(l.release)
}

type entry struct {
	runID      string
	acquiredAt time.Time
}

// MemoryRegistry is the in-process registry. A lease older than the
// stale timeout is force-released on the next acquire, so a crashed run
// cannot permanently wedge its design.
type MemoryRegistry struct {
	mu           sync.Mutex
	log          *logger.Logger
	held         map[string]entry
	staleTimeout time.Duration
}

func NewMemoryRegistry(log *logger.Logger) *MemoryRegistry {
	return &MemoryRegistry{
		log:          log.With("component", "RunLockRegistry"),
		held:         map[string]entry{},
		staleTimeout: envutil.Duration("RUN_LOCK_STALE_TIMEOUT", 10*time.Minute),
	}
}

func (r *MemoryRegistry) Acquire(_ context.Context, designID string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.held[designID]; ok {
		age := time.Since(cur.acquiredAt)
		if age < r.staleTimeout {
			return nil, fmt.Errorf("%w: design %s locked by run %s for %s",
				apperrors.ErrLockContention, designID, cur.runID, age.Round(time.Second))
		}
		if r.log != nil {
			r.log.Warn("force-releasing stale generation lock",
				"design_id", designID, "run_id", cur.runID, "age", age.String())
		}
		delete(r.held, designID)
	}

	runID := uuid.NewString()
	r.held[designID] = entry{runID: runID, acquiredAt: time.Now()}
	lease := &Lease{
		DesignID:   designID,
		RunID:      runID,
		AcquiredAt: time.Now(),
	}
	lease.release = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.held[designID]; ok && cur.runID == runID {
			delete(r.held, designID)
		}
	}
	return lease, nil
}

// Held reports whether the design currently has a live (non-stale) lease.
func (r *MemoryRegistry) Held(designID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.held[designID]
	return ok && time.Since(cur.acquiredAt) < r.staleTimeout
}
