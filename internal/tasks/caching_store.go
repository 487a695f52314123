package tasks

import (
	"slices"
	"sync"
)

// CachingStore is a write-through cache around another Store.
// Reads of individual tasks and their granule statuses are served from
// memory after the first access; ListTasks always hits the underlying store.
// It is safe for concurrent use.
type CachingStore struct {
	underlying Store
	mu         sync.RWMutex
	tasks      map[string]Task
	statuses   map[string][]GranuleStatus
}

func NewCachingStore(underlying Store) *CachingStore {
	return &CachingStore{
		underlying: underlying,
		tasks:      make(map[string]Task),
		statuses:   make(map[string][]GranuleStatus),
	}
}

func (s *CachingStore) CreateTask(task Task) error {
	if err := s.underlying.CreateTask(task); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	s.statuses[task.ID] = []GranuleStatus{}
	return nil
}

func (s *CachingStore) GetTask(taskID string) (*Task, error) {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if ok {
		return &task, nil
	}
	t, err := s.underlying.GetTask(taskID)
	if err != nil || t == nil {
		return t, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = *t
	return t, nil
}

func (s *CachingStore) ListTasks() ([]Task, error) {
	return s.underlying.ListTasks()
}

func (s *CachingStore) CompleteTask(taskID string) error {
	if err := s.underlying.CompleteTask(taskID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[taskID]; ok {
		task.Status = StatusComplete
		s.tasks[taskID] = task
	}
	return nil
}

func (s *CachingStore) SetGranuleStatus(taskID string, status GranuleStatus) error {
	if err := s.underlying.SetGranuleStatus(taskID, status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.statuses[taskID]
	if !ok {
		// Not cached yet, the next read will load the full list.
		return nil
	}
	for i, gs := range cached {
		if gs.GranuleUR == status.GranuleUR {
			cached[i] = status
			return nil
		}
	}
	s.statuses[taskID] = append(cached, status)
	return nil
}

func (s *CachingStore) GranuleStatuses(taskID string) ([]GranuleStatus, error) {
	s.mu.RLock()
	cached, ok := s.statuses[taskID]
	s.mu.RUnlock()
	if ok {
		return slices.Clone(cached), nil
	}
	statuses, err := s.underlying.GranuleStatuses(taskID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[taskID] = slices.Clone(statuses)
	return statuses, nil
}
