package board

import (
	"testing"

	"taskmaster/domain"
)

func newDragFixture(busy map[int64]bool) *DragController {
	s := NewStore()
	s.Replace([]domain.Task{
		task(1, domain.StatusAssigned, domain.PriorityMedium),
		task(2, domain.StatusInProgress, domain.PriorityLow),
		task(3, domain.StatusCancelled, domain.PriorityLow),
	})
	return NewDragController(s, WithBusy(func(id int64) bool { return busy[id] }))
}

func TestDragActivatesPastThreshold(t *testing.T) {
	c := newDragFixture(nil)
	if !c.PointerDown(1, Point{X: 10, Y: 10}) {
		t.Fatalf("pointer down ignored")
	}
	c.PointerMove(Point{X: 13, Y: 14}, ColumnTarget(domain.StatusInProgress))
	if c.Phase() != PhaseArmed {
		t.Fatalf("moved exactly the threshold, expected armed, got %s", c.Phase())
	}
	c.PointerMove(Point{X: 16, Y: 10}, ColumnTarget(domain.StatusInProgress))
	if c.Phase() != PhaseDragging {
		t.Fatalf("expected dragging, got %s", c.Phase())
	}
	id, over, ok := c.Active()
	if !ok || id != 1 || over != ColumnTarget(domain.StatusInProgress) {
		t.Fatalf("unexpected active drag %d %+v %v", id, over, ok)
	}
	r := c.PointerUp(Point{X: 16, Y: 10}, ColumnTarget(domain.StatusInProgress))
	want := Intent{TaskID: 1, From: domain.StatusAssigned, To: domain.StatusInProgress}
	if r.Outcome != OutcomeIntent || r.Intent != want {
		t.Fatalf("unexpected release %+v", r)
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("expected idle after release, got %s", c.Phase())
	}
}

func TestDragCustomActivationDistance(t *testing.T) {
	s := NewStore()
	s.Replace([]domain.Task{task(1, domain.StatusAssigned, domain.PriorityMedium)})
	c := NewDragController(s, WithActivationDistance(0))
	c.PointerDown(1, Point{})
	c.PointerMove(Point{X: 1}, NoTarget)
	if c.Phase() != PhaseDragging {
		t.Fatalf("expected dragging, got %s", c.Phase())
	}
}

func TestDragReleaseOutsideCancels(t *testing.T) {
	c := newDragFixture(nil)
	c.PointerDown(1, Point{})
	c.PointerMove(Point{X: 50}, ColumnTarget(domain.StatusOnHold))
	r := c.PointerUp(Point{X: 90}, NoTarget)
	if r.Outcome != OutcomeCancelled || r.TaskID != 1 {
		t.Fatalf("expected cancelled, got %+v", r)
	}
}

func TestDragOntoUnclassifiedSiblingCancels(t *testing.T) {
	c := newDragFixture(nil)
	c.PointerDown(1, Point{})
	c.PointerMove(Point{X: 50}, TaskTarget(3))
	if r := c.PointerUp(Point{X: 50}, TaskTarget(3)); r.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %+v", r)
	}
}

func TestDragEscapeCancels(t *testing.T) {
	c := newDragFixture(nil)
	c.PointerDown(2, Point{})
	c.PointerMove(Point{X: 50}, ColumnTarget(domain.StatusCompleted))
	if r := c.Cancel(); r.Outcome != OutcomeCancelled || r.TaskID != 2 {
		t.Fatalf("unexpected cancel %+v", r)
	}
	if r := c.PointerUp(Point{X: 50}, ColumnTarget(domain.StatusCompleted)); r.Outcome != OutcomeNone {
		t.Fatalf("release after cancel produced %+v", r)
	}
	if r := c.Cancel(); r.Outcome != OutcomeNone {
		t.Fatalf("cancel while idle produced %+v", r)
	}
}

func TestDragIgnoresSecondPointerDown(t *testing.T) {
	c := newDragFixture(nil)
	if !c.PointerDown(1, Point{}) {
		t.Fatalf("first pointer down ignored")
	}
	if c.PointerDown(2, Point{}) {
		t.Fatalf("second pointer down accepted")
	}
	c.PointerMove(Point{X: 50}, ColumnTarget(domain.StatusCompleted))
	r := c.PointerUp(Point{X: 50}, ColumnTarget(domain.StatusCompleted))
	if r.Intent.TaskID != 1 {
		t.Fatalf("expected drag of task 1, got %+v", r)
	}
}

func TestDragRejectsUnknownAndBusyTasks(t *testing.T) {
	c := newDragFixture(map[int64]bool{2: true})
	if c.PointerDown(42, Point{}) {
		t.Fatalf("pointer down on unknown task accepted")
	}
	if c.PointerDown(3, Point{}) {
		t.Fatalf("pointer down on cancelled task accepted")
	}
	if c.PointerDown(2, Point{}) {
		t.Fatalf("pointer down on busy task accepted")
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", c.Phase())
	}
}

func TestPointerUpWhileIdleDoesNothing(t *testing.T) {
	c := newDragFixture(nil)
	c.PointerMove(Point{X: 50}, ColumnTarget(domain.StatusCompleted))
	if r := c.PointerUp(Point{}, ColumnTarget(domain.StatusCompleted)); r.Outcome != OutcomeNone {
		t.Fatalf("unexpected release %+v", r)
	}
}
