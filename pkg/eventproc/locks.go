package eventproc

import "sync"

// keyedLocks serializes event processing per enrollment so concurrent
// webhook deliveries for one enrollment cannot interleave their state
// updates. Locks are sharded; unrelated enrollments rarely collide.
type keyedLocks struct {
	shards [64]sync.Mutex
}

func (l *keyedLocks) lock(key string) *sync.Mutex {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	m := &l.shards[h%uint32(len(l.shards))]
	m.Lock()
	return m
}
