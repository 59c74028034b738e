package memory

import (
	"context"
	"sync"
	"time"

	"github.com/XXueTu/graph_automation/domain/record"
)

// recordStore 内存执行日志，只追加
type recordStore struct {
	records map[string]record.NodeExecutionRecord
	byRun   map[string][]string
	mutex   sync.RWMutex
}

// NewRecordStore 创建内存执行日志存储
func NewRecordStore() record.Store {
	return &recordStore{
		records: make(map[string]record.NodeExecutionRecord),
		byRun:   make(map[string][]string),
	}
}

func (s *recordStore) Append(ctx context.Context, rec *record.NodeExecutionRecord) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := rec.Key()
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = *rec
	s.byRun[rec.RunID] = append(s.byRun[rec.RunID], key)
	return true, nil
}

func (s *recordStore) Get(ctx context.Context, runID, nodeID string, attempt int) (*record.NodeExecutionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, exists := s.records[record.Key(runID, nodeID, attempt)]
	if !exists {
		return nil, WrapRepositoryError(record.ErrRecordNotFound, "record %s", record.Key(runID, nodeID, attempt))
	}
	return &rec, nil
}

func (s *recordStore) ListForRun(ctx context.Context, runID string) ([]*record.NodeExecutionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := s.byRun[runID]
	out := make([]*record.NodeExecutionRecord, 0, len(keys))
	for _, key := range keys {
		rec := s.records[key]
		out = append(out, &rec)
	}
	record.Sort(out)
	return out, nil
}

func (s *recordStore) DeleteBefore(ctx context.Context, before time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	deleted := 0
	for runID, keys := range s.byRun {
		kept := keys[:0]
		for _, key := range keys {
			if s.records[key].FinishedAt.Before(before) {
				delete(s.records, key)
				deleted++
				continue
			}
			kept = append(kept, key)
		}
		if len(kept) == 0 {
			delete(s.byRun, runID)
		} else {
			s.byRun[runID] = kept
		}
	}
	return deleted, nil
}
