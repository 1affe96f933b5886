package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"taskboard/domain"
)

// Memory is a process-local Backend used for local runs and tests.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	newID func() string
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.Task), newID: uuid.NewString}
}

func (m *Memory) List(ctx context.Context, owner string) ([]domain.Task, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := []domain.Task{}
	for _, t := range m.tasks {
		if t.Owner == owner {
			tasks = append(tasks, t)
		}
	}
	domain.SortTasks(tasks, true)
	return tasks, nil
}

func (m *Memory) Get(ctx context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) Insert(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.Owner == "" {
		return domain.Task{}, ErrMissingOwner
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = m.newID()
	m.tasks[task.ID] = task
	return task, nil
}

// Delete removes id when it belongs to owner.
func (m *Memory) Delete(ctx context.Context, owner, id string) error {
	if owner == "" {
		return ErrMissingOwner
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && t.Owner == owner {
		delete(m.tasks, id)
	}
	return nil
}
