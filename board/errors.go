package board

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTask is returned when an operation addresses a task that is
	// not in the store.
	ErrUnknownTask = errors.New("task not on board")
	// ErrClosed is returned once the board has been torn down.
	ErrClosed = errors.New("board closed")
)

// FetchError reports a failed load or refetch of the task set.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch tasks: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UpdateError reports a rejected mutation. Op names the collaborator call.
type UpdateError struct {
	TaskID int64
	Op     string
	Err    error
}

func (e *UpdateError) Error() string {
	if e.TaskID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (task %d): %v", e.Op, e.TaskID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
