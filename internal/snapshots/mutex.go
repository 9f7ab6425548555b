package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PositionMutex is a Redis SET NX PX lock keyed per position. It keeps two
// engine replicas from reacting to the same position at once; within one
// process the state-machine transition guard already serializes workflows.
type PositionMutex struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPositionMutex builds the mutex; ttl caps how long a crashed holder can
// block the position.
func NewPositionMutex(rdb *redis.Client, ttl time.Duration) *PositionMutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PositionMutex{rdb: rdb, ttl: ttl}
}

func mutexKey(positionID int64) string {
	return fmt.Sprintf("mutex:position:%d", positionID)
}

// Acquire tries to take the lock. On success it returns a release func bound
// to this holder's token; releasing a lock someone else re-acquired is a
// no-op.
func (m *PositionMutex) Acquire(ctx context.Context, positionID int64) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, mutexKey(positionID), token, m.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("snapshots: acquire position mutex: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseScript.Run(context.Background(), m.rdb, []string{mutexKey(positionID)}, token)
	}
	return release, true, nil
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
