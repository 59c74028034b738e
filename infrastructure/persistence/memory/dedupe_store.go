package memory

import (
	"context"
	"sync"
	"time"

	"github.com/XXueTu/graph_automation/domain/trigger"
)

// dedupeStore 内存触发去重键
type dedupeStore struct {
	keys  map[string]time.Time
	mutex sync.Mutex
}

// NewDedupeStore 创建内存去重存储
func NewDedupeStore() trigger.DedupeStore {
	return &dedupeStore{keys: make(map[string]time.Time)}
}

func (s *dedupeStore) Reserve(ctx context.Context, key string, at time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = at
	return true, nil
}

func (s *dedupeStore) Release(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.keys, key)
	return nil
}
