package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskmaster/domain"
)

func TestMemoryCreateAllocatesAfterSeed(t *testing.T) {
	m := NewMemory([]domain.Task{{ID: 4, Title: "seed"}, {ID: 2, Title: "seed"}})
	m.now = func() time.Time { return cachedAt }

	created, err := m.CreateTask(context.Background(), 7, domain.TaskCreate{Title: "  New  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 5 || created.Title != "New" || created.Status != domain.StatusAssigned {
		t.Fatalf("unexpected task %+v", created)
	}
	if created.CreatedBy == nil || *created.CreatedBy != 7 || !created.CreatedAt.Equal(cachedAt) {
		t.Fatalf("unexpected creator fields %+v", created)
	}

	tasks, _ := m.ListTasks(context.Background())
	if len(tasks) != 3 || tasks[0].ID != 2 || tasks[2].ID != 5 {
		t.Fatalf("expected tasks ordered by id, got %+v", tasks)
	}
}

func TestMemoryCreateValidates(t *testing.T) {
	m := NewMemory(nil)
	if _, err := m.CreateTask(context.Background(), 1, domain.TaskCreate{Title: " "}); !errors.Is(err, domain.ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
}

func TestMemoryUpdateIsAtomic(t *testing.T) {
	m := NewMemory([]domain.Task{{ID: 1, Title: "a", Status: domain.StatusAssigned}})
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := m.UpdateTask(ctx, 1, func(t *domain.Task) error {
		t.Title = "changed"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := m.GetTask(ctx, 1)
	if got.Title != "a" {
		t.Fatalf("failed update leaked: %+v", got)
	}

	got, err = m.UpdateTask(ctx, 1, func(t *domain.Task) error {
		t.Status = domain.StatusCompleted
		return nil
	})
	if err != nil || got.Status != domain.StatusCompleted {
		t.Fatalf("update: %+v %v", got, err)
	}
}

func TestMemoryMissingTask(t *testing.T) {
	m := NewMemory(nil)
	if _, err := m.GetTask(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.UpdateTask(context.Background(), 3, func(*domain.Task) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory([]domain.Task{{ID: 1, Checklist: []domain.ChecklistItem{{Text: "x"}}}})
	got, _ := m.GetTask(context.Background(), 1)
	got.Checklist[0].Text = "mutated"
	again, _ := m.GetTask(context.Background(), 1)
	if again.Checklist[0].Text != "x" {
		t.Fatal("store leaked internal slice")
	}
}
