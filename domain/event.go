package domain

// Event types published when the collaborator changes a task.
const (
	TaskCreated   = "task-created"
	TaskUpdated   = "task-updated"
	TaskCancelled = "task-cancelled"
)

// Event describes a change applied to a task by the collaborator.
type Event struct {
	ID     string `json:"id"`
	TaskID int64  `json:"taskId"`
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
	Time   int64  `json:"time"`
}
