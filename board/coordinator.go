package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// ErrNoChange is returned for an update that carries no field.
var ErrNoChange = errors.New("update has no fields")

// Collaborator is the external Task API the board synchronizes with. Every
// mutating call returns the authoritative record.
type Collaborator interface {
	FetchAll(ctx context.Context) ([]domain.Task, error)
	Update(ctx context.Context, id int64, u domain.TaskUpdate) (domain.Task, error)
	Create(ctx context.Context, c domain.TaskCreate) (domain.Task, error)
	Cancel(ctx context.Context, id int64, reason string) (domain.Task, error)
	Assign(ctx context.Context, id, userID int64) (domain.Task, error)
	Unassign(ctx context.Context, id, userID int64) (domain.Task, error)
	AddChecklistItem(ctx context.Context, id int64, item domain.ChecklistItem) (domain.Task, error)
	UpdateChecklistItem(ctx context.Context, id int64, index int, text *string, completed *bool) (domain.Task, error)
	RemoveChecklistItem(ctx context.Context, id int64, index int) (domain.Task, error)
}

// Result is the reconciled outcome of one mutation.
type Result struct {
	// Task is the record the store holds for the task after reconciliation.
	Task domain.Task
	// Err is nil when the collaborator accepted the change.
	Err error
	// Reverted is set when the optimistic change was discarded and the task
	// set was refetched.
	Reverted bool
}

// Pending tracks a mutation until its response has been reconciled.
type Pending struct {
	// TaskID is the task being changed. It is zero for a create; the new id
	// is in the Result.
	TaskID int64

	done chan struct{}
	res  Result
}

func newPending(id int64) *Pending {
	return &Pending{TaskID: id, done: make(chan struct{})}
}

// Done is closed once the mutation has been reconciled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the mutation has been reconciled.
func (p *Pending) Wait() Result {
	<-p.done
	return p.res
}

func (p *Pending) finish(r Result) {
	p.res = r
	close(p.done)
}

// CoordinatorOptions configures a Coordinator. Zero values pick defaults.
type CoordinatorOptions struct {
	Notifier Notifier
	Logger   *log.Logger
	// Timeout bounds each collaborator call. Zero disables the bound.
	Timeout time.Duration
	Now     func() time.Time
}

// Coordinator is the single writer of the Store after the initial load. It
// applies a mutation locally, sends it to the collaborator in the background
// and reconciles with the response: the server record on success, a rollback
// plus one full refetch on failure. There are no retries.
type Coordinator struct {
	store   *Store
	api     Collaborator
	notify  Notifier
	logger  *log.Logger
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inflight map[int64]int
	// stale holds busy tasks that changed on the server meanwhile. They are
	// refetched once released.
	stale  map[int64]bool
	closed bool
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator writing to store.
func NewCoordinator(store *Store, api Collaborator, opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		store:    store,
		api:      api,
		notify:   opts.Notifier,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		now:      opts.Now,
		inflight: make(map[int64]int),
		stale:    make(map[int64]bool),
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	if c.notify == nil {
		c.notify = LogNotifier{Logger: c.logger}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Refresh replaces the store with the collaborator's full task set. Tasks
// with a mutation still in flight keep their local copy so an unrelated
// refetch does not undo their optimistic change. So do tasks written while
// the fetch was running: the fetched list predates those writes.
func (c *Coordinator) Refresh(ctx context.Context) error {
	since := c.store.Revision()
	tasks, err := c.api.FetchAll(ctx)
	if err != nil {
		return &FetchError{Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	keep := make(map[int64]bool, len(c.inflight))
	for id := range c.inflight {
		keep[id] = true
	}
	c.store.merge(tasks, keep, since)
	return nil
}

// ChangeStatus applies a drag intent. The request carries only the new status
// and the task's priority.
func (c *Coordinator) ChangeStatus(ctx context.Context, in Intent) (*Pending, error) {
	if !in.To.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	var update domain.TaskUpdate
	return c.optimistic(ctx, in.TaskID, "update status",
		func(t *domain.Task) error {
			update = domain.StatusChange(in.To, t.Priority)
			t.Status = in.To
			t.UpdatedAt = c.now()
			return nil
		},
		func(ctx context.Context) (domain.Task, error) {
			return c.api.Update(ctx, in.TaskID, update)
		})
}

// ChangePriority sets the priority of a task.
func (c *Coordinator) ChangePriority(ctx context.Context, id int64, p domain.Priority) (*Pending, error) {
	return c.Edit(ctx, id, domain.TaskUpdate{Priority: &p})
}

// Edit applies a partial field update (title, description, deadline, ...).
func (c *Coordinator) Edit(ctx context.Context, id int64, u domain.TaskUpdate) (*Pending, error) {
	if u.Empty() {
		return nil, ErrNoChange
	}
	return c.optimistic(ctx, id, "update task",
		func(t *domain.Task) error { return t.Apply(u, c.now()) },
		func(ctx context.Context) (domain.Task, error) { return c.api.Update(ctx, id, u) })
}

// Cancel soft-deletes a task: it moves to cancelled and keeps the reason,
// which must not be blank.
func (c *Coordinator) Cancel(ctx context.Context, id int64, reason string) (*Pending, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}
	return c.optimistic(ctx, id, "cancel task",
		func(t *domain.Task) error {
			t.Cancel(reason, c.now())
			return nil
		},
		func(ctx context.Context) (domain.Task, error) { return c.api.Cancel(ctx, id, reason) })
}

func (c *Coordinator) AddChecklistItem(ctx context.Context, id int64, text string) (*Pending, error) {
	item := domain.ChecklistItem{Text: text}
	return c.optimistic(ctx, id, "add checklist item",
		func(t *domain.Task) error {
			t.AddChecklistItem(item, c.now())
			return nil
		},
		func(ctx context.Context) (domain.Task, error) { return c.api.AddChecklistItem(ctx, id, item) })
}

func (c *Coordinator) ToggleChecklistItem(ctx context.Context, id int64, index int, completed bool) (*Pending, error) {
	return c.optimistic(ctx, id, "update checklist item",
		func(t *domain.Task) error { return t.UpdateChecklistItem(index, nil, &completed, c.now()) },
		func(ctx context.Context) (domain.Task, error) {
			return c.api.UpdateChecklistItem(ctx, id, index, nil, &completed)
		})
}

func (c *Coordinator) RemoveChecklistItem(ctx context.Context, id int64, index int) (*Pending, error) {
	return c.optimistic(ctx, id, "remove checklist item",
		func(t *domain.Task) error { return t.RemoveChecklistItem(index, c.now()) },
		func(ctx context.Context) (domain.Task, error) { return c.api.RemoveChecklistItem(ctx, id, index) })
}

// Assign adds a user to the task's assignees. name is shown until the
// collaborator's record arrives.
func (c *Coordinator) Assign(ctx context.Context, id, userID int64, name string) (*Pending, error) {
	return c.optimistic(ctx, id, "assign user",
		func(t *domain.Task) error {
			t.Assign(userID, name, c.now())
			return nil
		},
		func(ctx context.Context) (domain.Task, error) { return c.api.Assign(ctx, id, userID) })
}

func (c *Coordinator) Unassign(ctx context.Context, id, userID int64) (*Pending, error) {
	return c.optimistic(ctx, id, "unassign user",
		func(t *domain.Task) error {
			t.Unassign(userID, c.now())
			return nil
		},
		func(ctx context.Context) (domain.Task, error) { return c.api.Unassign(ctx, id, userID) })
}

// Create asks the collaborator for a new task. Creation is not optimistic:
// the task only appears once the collaborator has assigned its id.
func (c *Coordinator) Create(ctx context.Context, in domain.TaskCreate) (*Pending, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	p := newPending(0)
	go func() {
		defer c.wg.Done()
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		task, err := c.api.Create(callCtx, in)
		if c.isClosed() {
			p.finish(Result{Task: task, Err: err})
			return
		}
		if err != nil {
			uerr := &UpdateError{Op: "create task", Err: err}
			c.logger.WithError(err).Warn("task creation rejected")
			c.notify.Notify(Notification{Level: LevelError, Message: "Failed to create task", Err: uerr, Time: c.now()})
			p.finish(Result{Err: uerr})
			return
		}
		c.store.put(task)
		c.notify.Notify(Notification{Level: LevelInfo, Message: "Task created", TaskID: task.ID, Time: c.now()})
		p.finish(Result{Task: task})
	}()
	return p, nil
}

// Busy reports whether task id has a mutation in flight.
func (c *Coordinator) Busy(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[id] > 0
}

// InFlight returns the number of tasks with a mutation in flight.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close detaches the coordinator from the store. Calls already sent are not
// cancelled, but their responses are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Wait blocks until every background call has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) optimistic(
	ctx context.Context,
	id int64,
	op string,
	local func(*domain.Task) error,
	remote func(context.Context) (domain.Task, error),
) (*Pending, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prev, rev, err := c.store.mutate(id, local)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.inflight[id]++
	c.wg.Add(1)
	c.mu.Unlock()

	p := newPending(id)
	go func() {
		defer c.wg.Done()
		callCtx, cancel := c.callContext(ctx)
		task, err := remote(callCtx)
		cancel()
		p.finish(c.reconcile(ctx, op, prev, rev, task, err))
	}()
	return p, nil
}

func (c *Coordinator) reconcile(ctx context.Context, op string, prev domain.Task, rev uint64, task domain.Task, err error) Result {
	id := prev.ID
	if c.isClosed() {
		c.release(id)
		c.logger.WithFields(log.Fields{"task_id": id, "op": op}).Debug("ignoring response after close")
		return Result{Task: task, Err: err}
	}
	if err == nil {
		c.store.put(task)
		if !c.release(id) {
			return Result{Task: task}
		}
		c.refetch(ctx, id, "refetch after foreign change failed")
		cur, _ := c.store.Get(id)
		return Result{Task: cur}
	}

	uerr := &UpdateError{TaskID: id, Op: op, Err: err}
	restored := c.store.restore(prev, rev)
	c.release(id)
	c.logger.WithFields(log.Fields{"task_id": id, "op": op, "restored": restored}).WithError(err).Warn("optimistic update rejected")
	c.notify.Notify(Notification{Level: LevelError, Message: "Failed to " + op, TaskID: id, Err: uerr, Time: c.now()})

	c.refetch(ctx, id, "refetch after rejected update failed")
	cur, _ := c.store.Get(id)
	return Result{Task: cur, Err: uerr, Reverted: true}
}

func (c *Coordinator) refetch(ctx context.Context, id int64, msg string) {
	fetchCtx, cancel := c.callContext(ctx)
	defer cancel()
	if err := c.Refresh(fetchCtx); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.WithField("task_id", id).WithError(err).Error(msg)
		c.notify.Notify(Notification{Level: LevelError, Message: "Failed to reload tasks", TaskID: id, Err: err, Time: c.now()})
	}
}

// release ends one mutation of id. It reports whether the task was marked
// stale while busy and has now been released.
func (c *Coordinator) release(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[id] > 1 {
		c.inflight[id]--
		return false
	}
	delete(c.inflight, id)
	stale := c.stale[id]
	delete(c.stale, id)
	return stale
}

// RefetchWhenReleased asks for a refetch once task id has no mutation in
// flight. It reports false when the task is idle; the caller should refetch
// itself.
func (c *Coordinator) RefetchWhenReleased(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[id] == 0 {
		return false
	}
	c.stale[id] = true
	return true
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if c.timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, c.timeout)
}
