package rowstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/XXueTu/graph_automation/domain/trigger"
)

// MemoryStore 内存行存储，用于测试与本地运行
type MemoryStore struct {
	tables map[string]map[string]map[string]interface{}
	mutex  sync.RWMutex
}

// NewMemoryStore 创建内存行存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]map[string]interface{})}
}

// PutRow 写入整行
func (s *MemoryStore) PutRow(tableID, rowID string, fields map[string]interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	table, exists := s.tables[tableID]
	if !exists {
		table = make(map[string]map[string]interface{})
		s.tables[tableID] = table
	}
	table[rowID] = copyFields(fields)
}

func (s *MemoryStore) GetRow(ctx context.Context, tableID, rowID string) (map[string]interface{}, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, exists := s.tables[tableID][rowID]
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrRowNotFound, tableID, rowID)
	}
	return copyFields(row), nil
}

func (s *MemoryStore) ListRows(ctx context.Context, tableID string) ([]trigger.Row, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	table := s.tables[tableID]
	rows := make([]trigger.Row, 0, len(table))
	for id, fields := range table {
		rows = append(rows, trigger.Row{ID: id, Fields: copyFields(fields)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (s *MemoryStore) UpdateRow(ctx context.Context, tableID, rowID string, fields map[string]interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	row, exists := s.tables[tableID][rowID]
	if !exists {
		return fmt.Errorf("%w: %s/%s", ErrRowNotFound, tableID, rowID)
	}
	for key, value := range fields {
		row[key] = value
	}
	return nil
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}
