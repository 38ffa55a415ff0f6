// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key with a fixed pool of channel-based
// locks. Acquisition respects context cancellation, so a caller waiting on
// a busy key can bail out when its request is abandoned. Distinct keys may
// share a shard; that only coarsens serialization, never weakens it.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates a keyed mutex with all locks free.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock acquires the lock for key, returning the unlock function. The caller
// must call it exactly once. If ctx is cancelled while waiting, Lock returns
// the context error and nothing is held.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIdx(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % shardCount
}
