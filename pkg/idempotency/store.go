package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type State int

const (
	// StateNew means the caller now holds the lease and must Complete or Forget.
	StateNew State = iota
	// StatePending means another worker holds an unexpired lease.
	StatePending
	// StateDone means the work finished; the stored result comes back with it.
	StateDone
)

const (
	pendingValue = "pending"
	donePrefix   = "done:"
)

// Store keeps a short in-progress lease per key and, once the work
// completes, a done marker carrying its result for ttl.
type Store struct {
	rdb   *redis.Client
	ttl   time.Duration
	lease time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, lease: 2 * time.Minute}
}

// WithLease sets how long an unfinished claim blocks other workers.
func (s *Store) WithLease(d time.Duration) *Store {
	s.lease = d
	return s
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

func (s *Store) EventKey(eventID string) string {
	return "idem:event:" + eventID
}

// Begin takes the lease on key, or reports who already has it.
func (s *Store) Begin(ctx context.Context, key string) (State, []byte, error) {
	ok, err := s.rdb.SetNX(ctx, key, pendingValue, s.lease).Result()
	if err != nil {
		return StateNew, nil, err
	}
	if ok {
		return StateNew, nil, nil
	}
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// lease expired between the two calls; the caller may try again
		return StatePending, nil, nil
	}
	if err != nil {
		return StateNew, nil, err
	}
	if rest, found := strings.CutPrefix(v, donePrefix); found {
		return StateDone, []byte(rest), nil
	}
	return StatePending, nil, nil
}

// Complete replaces the lease with a done marker holding result.
func (s *Store) Complete(ctx context.Context, key string, result []byte) error {
	return s.rdb.Set(ctx, key, donePrefix+string(result), s.ttl).Err()
}

// Forget releases a lease so the work can be retried.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
