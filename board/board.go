package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// ChangeFeed delivers change events from the collaborator. The channel is
// closed when ctx is done or the feed is lost.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// Config configures a Board.
type Config struct {
	// CurrentUserID drives the "mine" filter scope and lets Follow skip the
	// user's own change events.
	CurrentUserID int64
	Logger        *log.Logger
	Notifier      Notifier
	// RequestTimeout bounds every collaborator call. Zero disables the bound.
	RequestTimeout time.Duration
	// ActivationDistance overrides DefaultActivationDistance when positive.
	ActivationDistance float64
	// OnOpen is called with the task when a press ends without a drag.
	OnOpen func(domain.Task)
	Now    func() time.Time
}

// Board ties the store, the drag controller, the coordinator and the current
// filter together for one board view.
type Board struct {
	cfg    Config
	logger *log.Logger
	notify Notifier

	store *Store
	drag  *DragController
	coord *Coordinator

	mu     sync.RWMutex
	filter Filter
}

// New creates an empty board backed by api. Call Load to fill it.
func New(api Collaborator, cfg Config) *Board {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	store := NewStore()
	coord := NewCoordinator(store, api, CoordinatorOptions{
		Notifier: cfg.Notifier,
		Logger:   cfg.Logger,
		Timeout:  cfg.RequestTimeout,
		Now:      cfg.Now,
	})
	opts := []DragOption{WithBusy(coord.Busy)}
	if cfg.ActivationDistance > 0 {
		opts = append(opts, WithActivationDistance(cfg.ActivationDistance))
	}
	return &Board{
		cfg:    cfg,
		logger: cfg.Logger,
		notify: cfg.Notifier,
		store:  store,
		drag:   NewDragController(store, opts...),
		coord:  coord,
	}
}

func (b *Board) Store() *Store             { return b.store }
func (b *Board) Coordinator() *Coordinator { return b.coord }
func (b *Board) Drag() *DragController     { return b.drag }

// Load fetches the full task set. On failure the board keeps what it had,
// which is nothing on first load, and the user is notified.
func (b *Board) Load(ctx context.Context) error {
	if err := b.coord.Refresh(ctx); err != nil {
		b.logger.WithError(err).Error("load tasks")
		b.notify.Notify(Notification{Level: LevelError, Message: "Failed to load tasks", Err: err, Time: b.cfg.Now()})
		return err
	}
	b.logger.WithField("tasks", b.store.Len()).Debug("board loaded")
	return nil
}

func (b *Board) Filter() Filter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter
}

// SetFilter changes the view filter. The store is not touched.
func (b *Board) SetFilter(f Filter) {
	b.mu.Lock()
	b.filter = f
	b.mu.Unlock()
}

// Visible returns the tasks retained by the current filter, in store order.
func (b *Board) Visible() []domain.Task {
	return b.Filter().Apply(b.store.Snapshot(), b.cfg.CurrentUserID)
}

// Columns projects the visible tasks onto the board columns.
func (b *Board) Columns() []ColumnTasks {
	return Project(b.Visible())
}

// Calendar buckets the visible tasks by deadline for month.
func (b *Board) Calendar(month time.Time) []CalendarDay {
	return Month(b.Visible(), month)
}

// Summary computes the dashboard overview of the visible tasks.
func (b *Board) Summary(now time.Time) Summary {
	return Summarize(b.Visible(), now)
}

// PointerDown picks up task id. Tasks hidden by the current filter cannot be
// picked up.
func (b *Board) PointerDown(id int64, at Point) bool {
	t, ok := b.store.Get(id)
	if !ok || len(b.Filter().Apply([]domain.Task{t}, b.cfg.CurrentUserID)) == 0 {
		return false
	}
	return b.drag.PointerDown(id, at)
}

func (b *Board) PointerMove(at Point, over Target) {
	b.drag.PointerMove(at, over)
}

// PointerUp ends the gesture. A click opens the task; a resolved intent is
// handed to the coordinator and its pending handle returned.
func (b *Board) PointerUp(ctx context.Context, at Point, over Target) (Release, *Pending, error) {
	r := b.drag.PointerUp(at, over)
	switch r.Outcome {
	case OutcomeClick:
		if b.cfg.OnOpen != nil {
			if t, ok := b.store.Get(r.TaskID); ok {
				b.cfg.OnOpen(t)
			}
		}
	case OutcomeIntent:
		p, err := b.coord.ChangeStatus(ctx, r.Intent)
		if err != nil {
			b.logger.WithFields(log.Fields{"task_id": r.TaskID, "to": r.Intent.To}).WithError(err).Warn("drop discarded")
			return r, nil, err
		}
		return r, p, nil
	}
	return r, nil, nil
}

// CancelDrag abandons the live gesture, if any.
func (b *Board) CancelDrag() Release {
	return b.drag.Cancel()
}

// Follow refetches the task set whenever the collaborator reports a change
// made by someone else. For a task with an update in flight the refetch is
// deferred until its response has been reconciled. It returns when ctx is
// done or the feed closes.
func (b *Board) Follow(ctx context.Context, feed ChangeFeed) error {
	events, err := feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.UserID != 0 && ev.UserID == b.cfg.CurrentUserID {
				continue
			}
			if b.coord.RefetchWhenReleased(ev.TaskID) {
				continue
			}
			if err := b.coord.Refresh(ctx); err != nil {
				b.logger.WithFields(log.Fields{"task_id": ev.TaskID, "type": ev.Type}).WithError(err).Warn("refetch after change event")
			}
		}
	}
}

// Close tears the board down. Responses still in flight are ignored.
func (b *Board) Close() {
	b.drag.Cancel()
	b.coord.Close()
}
