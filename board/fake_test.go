package board

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskmaster/domain"
)

var (
	t0          = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	serverStamp = t0.Add(time.Hour)
)

// fakeServer is an in-memory collaborator. Calls for a held task block until
// the test releases them.
type fakeServer struct {
	mu       sync.Mutex
	tasks    []domain.Task
	fetches  int
	updates  map[int64][]domain.TaskUpdate
	fetchErr error
	failures map[int64]error
	holds    map[int64]chan struct{}
	started  chan int64
	// fetchGate, when set, holds FetchAll after it has read the tasks. The
	// read is announced on fetched.
	fetchGate chan struct{}
	fetched   chan struct{}
}

func newFakeServer(tasks ...domain.Task) *fakeServer {
	return &fakeServer{
		tasks:    tasks,
		updates:  make(map[int64][]domain.TaskUpdate),
		failures: make(map[int64]error),
		holds:    make(map[int64]chan struct{}),
		started:  make(chan int64, 16),
	}
}

// hold makes mutating calls for id block until the returned func is called.
func (s *fakeServer) hold(id int64) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[id] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *fakeServer) fail(id int64, err error) {
	s.mu.Lock()
	s.failures[id] = err
	s.mu.Unlock()
}

// setStatus changes the server copy behind the board's back.
func (s *fakeServer) setStatus(id int64, status domain.Status) {
	s.change(id, func(t *domain.Task) { t.Status = status })
}

func (s *fakeServer) change(id int64, fn func(*domain.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			fn(&s.tasks[i])
		}
	}
}

func (s *fakeServer) record(id int64) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return domain.Task{}, false
}

func (s *fakeServer) sentUpdates(id int64) []domain.TaskUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TaskUpdate(nil), s.updates[id]...)
}

func (s *fakeServer) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// gateFetches makes every following FetchAll wait, after reading the tasks,
// until the returned func is called.
func (s *fakeServer) gateFetches() func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.fetchGate = gate
	s.fetched = make(chan struct{}, 4)
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *fakeServer) FetchAll(ctx context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	s.fetches++
	if s.fetchErr != nil {
		s.mu.Unlock()
		return nil, s.fetchErr
	}
	out := make([]domain.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	gate, fetched := s.fetchGate, s.fetched
	s.mu.Unlock()

	if gate != nil {
		fetched <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (s *fakeServer) wait(ctx context.Context, id int64) error {
	select {
	case s.started <- id:
	default:
	}
	s.mu.Lock()
	ch := s.holds[id]
	s.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

func (s *fakeServer) mutate(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	if err := s.wait(ctx, id); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID != id {
			continue
		}
		if err := fn(&s.tasks[i]); err != nil {
			return domain.Task{}, err
		}
		s.tasks[i].UpdatedAt = serverStamp
		return s.tasks[i].Clone(), nil
	}
	return domain.Task{}, errors.New("not found")
}

func (s *fakeServer) Update(ctx context.Context, id int64, u domain.TaskUpdate) (domain.Task, error) {
	s.mu.Lock()
	s.updates[id] = append(s.updates[id], u)
	s.mu.Unlock()
	return s.mutate(ctx, id, func(t *domain.Task) error { return t.Apply(u, serverStamp) })
}

func (s *fakeServer) Create(ctx context.Context, c domain.TaskCreate) (domain.Task, error) {
	if err := s.wait(ctx, 0); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	for _, t := range s.tasks {
		id = max(id, t.ID)
	}
	t := domain.NewTask(id+1, c, 7, serverStamp)
	s.tasks = append(s.tasks, t)
	return t.Clone(), nil
}

func (s *fakeServer) Cancel(ctx context.Context, id int64, reason string) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) error {
		t.Cancel(reason, serverStamp)
		return nil
	})
}

func (s *fakeServer) Assign(ctx context.Context, id, userID int64) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) error {
		t.Assign(userID, "Server Name", serverStamp)
		return nil
	})
}

func (s *fakeServer) Unassign(ctx context.Context, id, userID int64) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) error {
		t.Unassign(userID, serverStamp)
		return nil
	})
}

func (s *fakeServer) AddChecklistItem(ctx context.Context, id int64, item domain.ChecklistItem) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) error {
		t.AddChecklistItem(item, serverStamp)
		return nil
	})
}

func (s *fakeServer) UpdateChecklistItem(ctx context.Context, id int64, index int, text *string, completed *bool) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) error {
		return t.UpdateChecklistItem(index, text, completed, serverStamp)
	})
}

func (s *fakeServer) RemoveChecklistItem(ctx context.Context, id int64, index int) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) error {
		return t.RemoveChecklistItem(index, serverStamp)
	})
}

type notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notifications) Notify(x Notification) {
	n.mu.Lock()
	n.list = append(n.list, x)
	n.mu.Unlock()
}

func (n *notifications) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.list...)
}

func quietLogger() *log.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func task(id int64, status domain.Status, priority domain.Priority) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "task",
		Status:    status,
		Priority:  priority,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func i64(v int64) *int64 { return &v }

func at(t time.Time) *time.Time { return &t }
