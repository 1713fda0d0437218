package service

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// stripedMutex serializes work per conversation without a lock per key.
type stripedMutex struct {
	stripes [lockStripes]sync.Mutex
}

func (m *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &m.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
