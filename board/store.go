package board

import (
	"sync"

	"taskmaster/domain"
)

type entry struct {
	task domain.Task
	rev  uint64
}

// Store is the Task Entity Store: the board's owned in-memory copy of the
// task set. Tasks are kept in a map for lookup and a slice for the order the
// collaborator returned them in. Readers always receive deep copies.
//
// Writes happen through Replace (fetch and refetch) and through the
// coordinator's unexported writer path. Every write stamps the touched entry
// with a fresh revision so a rollback can tell whether someone else wrote the
// task after the optimistic change.
type Store struct {
	mu    sync.RWMutex
	tasks map[int64]*entry
	order []int64
	rev   uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tasks: make(map[int64]*entry)}
}

// Replace swaps the whole task set for tasks, keeping their order.
func (s *Store) Replace(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[int64]*entry, len(tasks))
	s.order = make([]int64, 0, len(tasks))
	s.rev++
	for _, t := range tasks {
		if _, dup := s.tasks[t.ID]; !dup {
			s.order = append(s.order, t.ID)
		}
		s.tasks[t.ID] = &entry{task: t.Clone(), rev: s.rev}
	}
}

// merge replaces the task set with tasks, a list read from the collaborator
// when the store was at revision since. An entry written after since, or
// whose id is in keep, is newer than the list and retains its current record
// and revision. Such entries missing from the list are kept at the end.
func (s *Store) merge(tasks []domain.Task, keep map[int64]bool, since uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.tasks
	fresh := func(id int64) (*entry, bool) {
		e, ok := old[id]
		if !ok || (!keep[id] && e.rev <= since) {
			return nil, false
		}
		return e, true
	}
	prevOrder := s.order
	s.tasks = make(map[int64]*entry, len(tasks))
	s.order = make([]int64, 0, len(tasks))
	s.rev++
	for _, t := range tasks {
		if _, dup := s.tasks[t.ID]; dup {
			continue
		}
		s.order = append(s.order, t.ID)
		if e, ok := fresh(t.ID); ok {
			s.tasks[t.ID] = e
			continue
		}
		s.tasks[t.ID] = &entry{task: t.Clone(), rev: s.rev}
	}
	for _, id := range prevOrder {
		if _, listed := s.tasks[id]; listed {
			continue
		}
		if e, ok := old[id]; ok && e.rev > since {
			s.tasks[id] = e
			s.order = append(s.order, id)
		}
	}
}

// Snapshot returns copies of all tasks in store order.
func (s *Store) Snapshot() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].task.Clone())
	}
	return out
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id int64) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return e.task.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Revision increases on every write. Views can compare it to decide whether
// to re-derive their projections.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// put inserts t or overwrites the existing record with the same id.
func (s *Store) put(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	if e, ok := s.tasks[t.ID]; ok {
		e.task = t.Clone()
		e.rev = s.rev
		return
	}
	s.tasks[t.ID] = &entry{task: t.Clone(), rev: s.rev}
	s.order = append(s.order, t.ID)
}

// mutate applies fn to the stored task. It returns the task as it was before
// the change and the revision stamped on the changed entry. When fn fails the
// store is left untouched.
func (s *Store) mutate(id int64, fn func(*domain.Task) error) (domain.Task, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, 0, ErrUnknownTask
	}
	prev := e.task.Clone()
	next := e.task.Clone()
	if err := fn(&next); err != nil {
		return domain.Task{}, 0, err
	}
	s.rev++
	e.task = next
	e.rev = s.rev
	return prev, s.rev, nil
}

// restore puts prev back if the entry still carries rev, i.e. nothing wrote
// the task since the optimistic change. It reports whether it did.
func (s *Store) restore(prev domain.Task, rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[prev.ID]
	if !ok || e.rev != rev {
		return false
	}
	s.rev++
	e.task = prev
	e.rev = s.rev
	return true
}
