package guard

import (
	"sort"
	"sync"

	"github.com/shaiso/Armada/internal/domain"
)

// RecordStore хранит ReconciliationRecord всех узлов.
// Пишет в запись только guard её узла; остальные читают копии.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.ReconciliationRecord
}

// NewRecordStore создаёт пустое хранилище.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]domain.ReconciliationRecord)}
}

// Get возвращает запись узла.
func (s *RecordStore) Get(nodeID string) (domain.ReconciliationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[nodeID]
	return rec, ok
}

// Put сохраняет запись узла.
func (s *RecordStore) Put(rec domain.ReconciliationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.NodeID] = rec
}

// Snapshot возвращает все записи, отсортированные по NodeID.
func (s *RecordStore) Snapshot() []domain.ReconciliationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReconciliationRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Alerting возвращает true, если guard узла в состоянии алерта.
func (s *RecordStore) Alerting(nodeID string) bool {
	rec, ok := s.Get(nodeID)
	return ok && rec.Alerting
}
