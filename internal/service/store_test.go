package service

import (
	"context"
	"sync"

	"github.com/524D/compareMS2/internal/models"
)

// memStore is an in-memory SessionStore.
type memStore struct {
	mu         sync.Mutex
	records    map[string]models.SessionRecord
	incomplete []models.SessionRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]models.SessionRecord)}
}

func (m *memStore) CreateSession(_ context.Context, rec models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := rec.SessionID()
	if err != nil {
		return err
	}
	m.records[id] = rec
	return nil
}

func (m *memStore) update(id string, fn func(*models.SessionRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	fn(&rec)
	m.records[id] = rec
	return nil
}

func (m *memStore) UpdateSessionProgress(_ context.Context, id string, progress, total int) error {
	return m.update(id, func(r *models.SessionRecord) {
		r.Progress = progress
		r.Total = total
	})
}

func (m *memStore) UpdateSessionStatus(_ context.Context, id, status string) error {
	return m.update(id, func(r *models.SessionRecord) { r.Status = status })
}

func (m *memStore) UpdateSessionSamples(_ context.Context, id string, samples []string) error {
	return m.update(id, func(r *models.SessionRecord) { r.Samples = samples })
}

func (m *memStore) CompleteSession(_ context.Context, id, newick string) error {
	return m.update(id, func(r *models.SessionRecord) {
		r.Status = string(SessionCompleted)
		r.Newick = &newick
	})
}

func (m *memStore) FailSession(_ context.Context, id, errMsg string) error {
	return m.update(id, func(r *models.SessionRecord) {
		r.Status = string(SessionFailed)
		r.Error = &errMsg
	})
}

func (m *memStore) GetIncompleteSessions(_ context.Context) ([]models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incomplete, nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) get(id string) models.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}
