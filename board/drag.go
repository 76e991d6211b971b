package board

import (
	"math"
	"sync"

	"taskmaster/domain"
)

// DefaultActivationDistance is how far the pointer must travel after
// pointer-down before a press turns into a drag.
const DefaultActivationDistance = 5.0

// Phase is the state of the drag session controller.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseDragging
	PhaseResolving
)

func (p Phase) String() string {
	switch p {
	case PhaseArmed:
		return "armed"
	case PhaseDragging:
		return "dragging"
	case PhaseResolving:
		return "resolving"
	default:
		return "idle"
	}
}

// Point is a pointer position in board coordinates.
type Point struct {
	X, Y float64
}

func (p Point) distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// TargetKind tells what kind of droppable surface is under the pointer.
type TargetKind uint8

const (
	TargetNone TargetKind = iota
	TargetColumn
	TargetTask
)

// Target is a droppable surface: a column body or another task card.
type Target struct {
	Kind   TargetKind
	Column domain.Status
	TaskID int64
}

// NoTarget is used when the pointer is outside every droppable surface.
var NoTarget = Target{}

// ColumnTarget addresses the body of the column for status.
func ColumnTarget(status domain.Status) Target {
	return Target{Kind: TargetColumn, Column: status}
}

// TaskTarget addresses the card of task id.
func TaskTarget(id int64) Target {
	return Target{Kind: TargetTask, TaskID: id}
}

// Intent is the single status change produced by a resolved drag.
type Intent struct {
	TaskID int64
	From   domain.Status
	To     domain.Status
}

// Outcome is how a pointer gesture ended.
type Outcome uint8

const (
	// OutcomeNone: nothing to do (no gesture, no-op drop).
	OutcomeNone Outcome = iota
	// OutcomeClick: the press never became a drag; open the task detail.
	OutcomeClick
	// OutcomeIntent: the drop resolved to a new status.
	OutcomeIntent
	// OutcomeCancelled: released outside any surface or cancelled explicitly.
	OutcomeCancelled
)

// Release is the result of ending a gesture.
type Release struct {
	Outcome Outcome
	TaskID  int64
	Intent  Intent
}

type taskReader interface {
	Get(id int64) (domain.Task, bool)
}

// DragController tracks at most one pointer driven drag gesture. Moves are
// visual only; the only output is the Release returned when the gesture ends.
type DragController struct {
	mu        sync.Mutex
	tasks     taskReader
	busy      func(id int64) bool
	threshold float64

	phase  Phase
	source int64
	origin Point
	hover  Target
}

// DragOption configures a DragController.
type DragOption func(*DragController)

// WithActivationDistance overrides DefaultActivationDistance.
func WithActivationDistance(d float64) DragOption {
	return func(c *DragController) {
		if d >= 0 {
			c.threshold = d
		}
	}
}

// WithBusy installs a check that keeps tasks with an update in flight from
// being picked up.
func WithBusy(busy func(id int64) bool) DragOption {
	return func(c *DragController) { c.busy = busy }
}

// NewDragController creates an idle controller reading task state from tasks.
func NewDragController(tasks taskReader, opts ...DragOption) *DragController {
	c := &DragController{tasks: tasks, threshold: DefaultActivationDistance}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Phase returns the current phase.
func (c *DragController) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Active returns the dragged task and the current hover target while a drag
// is in progress.
func (c *DragController) Active() (int64, Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseDragging {
		return 0, NoTarget, false
	}
	return c.source, c.hover, true
}

// PointerDown arms the controller on task id. It is ignored, returning false,
// while another gesture is live or when the task is unknown, not on a column,
// or has an update in flight.
func (c *DragController) PointerDown(id int64, at Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return false
	}
	t, ok := c.tasks.Get(id)
	if !ok {
		return false
	}
	if _, ok := Classify(t); !ok {
		return false
	}
	if c.busy != nil && c.busy(id) {
		return false
	}
	c.phase = PhaseArmed
	c.source = id
	c.origin = at
	c.hover = NoTarget
	return true
}

// PointerMove feeds a pointer position and the surface under it.
func (c *DragController) PointerMove(at Point, over Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseArmed:
		if at.distance(c.origin) > c.threshold {
			c.phase = PhaseDragging
			c.hover = over
		}
	case PhaseDragging:
		c.hover = over
	}
}

// PointerUp ends the gesture. The controller is idle again when it returns.
func (c *DragController) PointerUp(at Point, over Target) Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.reset()

	switch c.phase {
	case PhaseArmed:
		return Release{Outcome: OutcomeClick, TaskID: c.source}
	case PhaseDragging:
		c.phase = PhaseResolving
		c.hover = over
		return c.resolve()
	default:
		return Release{}
	}
}

// Cancel abandons a live gesture without producing an intent. Nothing was
// written to the store while dragging, so there is nothing to roll back.
func (c *DragController) Cancel() Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseIdle {
		return Release{}
	}
	id := c.source
	c.reset()
	return Release{Outcome: OutcomeCancelled, TaskID: id}
}

func (c *DragController) resolve() Release {
	src, ok := c.tasks.Get(c.source)
	if !ok {
		return Release{Outcome: OutcomeCancelled, TaskID: c.source}
	}
	var to domain.Status
	switch c.hover.Kind {
	case TargetColumn:
		col, ok := ClassifyStatus(c.hover.Column)
		if !ok {
			return Release{Outcome: OutcomeCancelled, TaskID: c.source}
		}
		to = col.Status
	case TargetTask:
		sibling, ok := c.tasks.Get(c.hover.TaskID)
		if !ok {
			return Release{Outcome: OutcomeCancelled, TaskID: c.source}
		}
		col, ok := Classify(sibling)
		if !ok {
			return Release{Outcome: OutcomeCancelled, TaskID: c.source}
		}
		to = col.Status
	default:
		return Release{Outcome: OutcomeCancelled, TaskID: c.source}
	}
	if to == src.Status {
		return Release{Outcome: OutcomeNone, TaskID: c.source}
	}
	return Release{
		Outcome: OutcomeIntent,
		TaskID:  c.source,
		Intent:  Intent{TaskID: c.source, From: src.Status, To: to},
	}
}

func (c *DragController) reset() {
	c.phase = PhaseIdle
	c.source = 0
	c.origin = Point{}
	c.hover = NoTarget
}
