package api

import (
	"context"

	"taskmaster/domain"
)

// Storage abstracts task persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, createdBy int64, in domain.TaskCreate) (domain.Task, error)
	// UpdateTask applies fn to the stored task and persists the result only
	// when fn returns nil.
	UpdateTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error)
}

// Directory resolves user ids for assignment.
type Directory interface {
	User(id int64) (domain.User, bool)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (int64, error)
}

// Deduper makes task creation idempotent per user and key.
type Deduper interface {
	// Reserve claims the key. When the key was already used it returns the id
	// of the task created for it, or zero while that request is in progress.
	Reserve(ctx context.Context, userID int64, key string) (taskID int64, fresh bool, err error)
	// Complete records the task created for a reserved key.
	Complete(ctx context.Context, userID int64, key string, taskID int64) error
	// Remove releases a reserved key, used when creation fails.
	Remove(ctx context.Context, userID int64, key string) error
}

// Publisher delivers change events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev domain.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }
