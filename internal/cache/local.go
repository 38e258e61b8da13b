package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Local is an in-process L1 cache in front of Redis for small, hot, process-wide values.
type Local[V any] struct {
	c *ristretto.Cache[string, V]
}

// NewLocal creates a ristretto-backed cache bounded by maxCost.
func NewLocal[V any](maxCost int64) (*Local[V], error) {
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	counters := maxCost / 100 * 10
	if counters < 100 {
		counters = 100
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Local[V]{c: c}, nil
}

func (l *Local[V]) Get(key string) (V, bool) {
	return l.c.Get(key)
}

// Set stores value and waits for the write buffer so a following Get observes it.
func (l *Local[V]) Set(key string, value V, cost int64, ttl time.Duration) bool {
	ok := l.c.SetWithTTL(key, value, cost, ttl)
	l.c.Wait()
	return ok
}

func (l *Local[V]) Delete(key string) {
	l.c.Del(key)
}

func (l *Local[V]) Close() {
	l.c.Close()
}
