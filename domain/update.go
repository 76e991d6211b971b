package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

var (
	// ErrTitleRequired is returned when a task is created without a title.
	ErrTitleRequired = errors.New("task title is required")
	// ErrReasonRequired is returned when a task is cancelled without a reason.
	ErrReasonRequired = errors.New("cancellation reason is required")
)

// TaskUpdate is a partial update. Nil fields are left untouched; ClearDeadline
// removes the deadline and is sent as an explicit JSON null.
type TaskUpdate struct {
	Title               *string
	Description         *string
	Status              *Status
	Priority            *Priority
	Deadline            *time.Time
	ClearDeadline       bool
	EndDatetime         *time.Time
	ProgressDescription *string
	ProgressPercentage  *int
	AssignedTo          *int64
}

type taskUpdateWire struct {
	Title               *string         `json:"title,omitempty"`
	Description         *string         `json:"description,omitempty"`
	Status              *Status         `json:"status,omitempty"`
	Priority            *Priority       `json:"priority,omitempty"`
	Deadline            json.RawMessage `json:"deadline,omitempty"`
	EndDatetime         *time.Time      `json:"end_datetime,omitempty"`
	ProgressDescription *string         `json:"progress_description,omitempty"`
	ProgressPercentage  *int            `json:"progress_percentage,omitempty"`
	AssignedTo          *int64          `json:"assigned_to,omitempty"`
}

var jsonNull = []byte("null")

func (u TaskUpdate) MarshalJSON() ([]byte, error) {
	w := taskUpdateWire{
		Title:               u.Title,
		Description:         u.Description,
		Status:              u.Status,
		Priority:            u.Priority,
		EndDatetime:         u.EndDatetime,
		ProgressDescription: u.ProgressDescription,
		ProgressPercentage:  u.ProgressPercentage,
		AssignedTo:          u.AssignedTo,
	}
	switch {
	case u.ClearDeadline:
		w.Deadline = jsonNull
	case u.Deadline != nil:
		raw, err := sonic.Marshal(u.Deadline.UTC())
		if err != nil {
			return nil, err
		}
		w.Deadline = raw
	}
	return sonic.Marshal(w)
}

func (u *TaskUpdate) UnmarshalJSON(b []byte) error {
	var w taskUpdateWire
	if err := sonic.Unmarshal(b, &w); err != nil {
		return err
	}
	*u = TaskUpdate{
		Title:               w.Title,
		Description:         w.Description,
		Status:              w.Status,
		Priority:            w.Priority,
		EndDatetime:         w.EndDatetime,
		ProgressDescription: w.ProgressDescription,
		ProgressPercentage:  w.ProgressPercentage,
		AssignedTo:          w.AssignedTo,
	}
	if len(w.Deadline) == 0 {
		return nil
	}
	if string(w.Deadline) == string(jsonNull) {
		u.ClearDeadline = true
		return nil
	}
	var d time.Time
	if err := sonic.Unmarshal(w.Deadline, &d); err != nil {
		return err
	}
	u.Deadline = &d
	return nil
}

// Empty reports whether the update carries no change.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil && u.Priority == nil &&
		u.Deadline == nil && !u.ClearDeadline && u.EndDatetime == nil && u.ProgressDescription == nil &&
		u.ProgressPercentage == nil && u.AssignedTo == nil
}

// StatusChange is the minimal diff sent when a task moves between board
// columns. The current priority rides along with the new status.
func StatusChange(status Status, priority Priority) TaskUpdate {
	u := TaskUpdate{Status: &status}
	if priority.Valid() {
		u.Priority = &priority
	}
	return u
}

// TaskCreate carries the fields accepted when creating a task.
type TaskCreate struct {
	ClientID    *int64          `json:"client_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    Priority        `json:"priority,omitempty"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	AssignedTo  *int64          `json:"assigned_to,omitempty"`
}

// Validate checks the creation payload.
func (c TaskCreate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return ErrTitleRequired
	}
	if c.Priority != 0 && !c.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// NewTask builds the record for a newly created task. New tasks always start
// in the assigned state with no progress; priority defaults to medium.
func NewTask(id int64, c TaskCreate, createdBy int64, now time.Time) Task {
	t := Task{
		ID:          id,
		ClientID:    cloneInt(c.ClientID),
		Title:       strings.TrimSpace(c.Title),
		Description: c.Description,
		Status:      StatusAssigned,
		Priority:    c.Priority,
		Deadline:    cloneTime(c.Deadline),
		Checklist:   append([]ChecklistItem(nil), c.Checklist...),
		AssignedTo:  cloneInt(c.AssignedTo),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityMedium
	}
	if createdBy != 0 {
		t.CreatedBy = &createdBy
	}
	return t
}
