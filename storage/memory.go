package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"taskmaster/domain"
)

// Memory keeps tasks in process. It backs local runs and tests; data is lost
// on restart.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[int64]domain.Task
	nextID int64
	now    func() time.Time
}

// NewMemory creates a Memory store seeded with tasks.
func NewMemory(tasks []domain.Task) *Memory {
	m := &Memory{tasks: make(map[int64]domain.Task, len(tasks)), now: time.Now}
	for _, t := range tasks {
		m.tasks[t.ID] = t.Clone()
		m.nextID = max(m.nextID, t.ID)
	}
	return m
}

func (m *Memory) ListTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) CreateTask(ctx context.Context, createdBy int64, in domain.TaskCreate) (domain.Task, error) {
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := domain.NewTask(m.nextID, in, createdBy, m.now().UTC())
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

// UpdateTask applies fn to a copy of the stored task and keeps the result
// only when fn succeeds.
func (m *Memory) UpdateTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return domain.Task{}, err
	}
	m.tasks[id] = next
	return next.Clone(), nil
}
