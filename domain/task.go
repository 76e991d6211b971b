package domain

import (
	"errors"
	"slices"
	"time"
)

// ErrChecklistIndex is returned by index based checklist operations when the
// index does not address an existing item.
var ErrChecklistIndex = errors.New("checklist index out of range")

// ChecklistItem is a single step of a task checklist.
type ChecklistItem struct {
	Text      string `json:"text" yaml:"text"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// Activity is an entry of the free-text update log of a task.
type Activity struct {
	ID        int64     `json:"id,omitempty" yaml:"id,omitempty"`
	UserID    int64     `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty" yaml:"user_name,omitempty"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Attachment is file metadata attached to a task.
type Attachment struct {
	ID         int64     `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string    `json:"name" yaml:"name"`
	URL        string    `json:"url" yaml:"url"`
	Type       string    `json:"type" yaml:"type"`
	Size       int64     `json:"size,omitempty" yaml:"size,omitempty"`
	UploadedAt time.Time `json:"uploaded_at" yaml:"uploaded_at"`
}

// VoiceNote is audio metadata attached to a task.
type VoiceNote struct {
	ID         int64     `json:"id,omitempty" yaml:"id,omitempty"`
	URL        string    `json:"url" yaml:"url"`
	Duration   int       `json:"duration,omitempty" yaml:"duration,omitempty"`
	UploadedAt time.Time `json:"uploaded_at" yaml:"uploaded_at"`
}

// Assignee links a user to a task. UserName is denormalized for display.
type Assignee struct {
	UserID     int64     `json:"user_id" yaml:"user_id"`
	UserName   string    `json:"user_name" yaml:"user_name"`
	AssignedAt time.Time `json:"assigned_at" yaml:"assigned_at"`
}

// Task is the unit of work tracked by the board.
type Task struct {
	ID                  int64           `json:"id"`
	ClientID            *int64          `json:"client_id,omitempty"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Status              Status          `json:"status"`
	Priority            Priority        `json:"priority"`
	Deadline            *time.Time      `json:"deadline,omitempty"`
	EndDatetime         *time.Time      `json:"end_datetime,omitempty"`
	Checklist           []ChecklistItem `json:"checklist,omitempty"`
	ProgressDescription string          `json:"progress_description,omitempty"`
	ProgressPercentage  int             `json:"progress_percentage"`
	CreatedBy           *int64          `json:"created_by,omitempty"`
	AssignedTo          *int64          `json:"assigned_to,omitempty"`
	CancellationReason  string          `json:"cancellation_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Updates             []Activity      `json:"updates,omitempty"`
	Attachments         []Attachment    `json:"attachments,omitempty"`
	VoiceNotes          []VoiceNote     `json:"voice_notes,omitempty"`
	Assignees           []Assignee      `json:"assignees,omitempty"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	out.ClientID = cloneInt(t.ClientID)
	out.CreatedBy = cloneInt(t.CreatedBy)
	out.AssignedTo = cloneInt(t.AssignedTo)
	out.Deadline = cloneTime(t.Deadline)
	out.EndDatetime = cloneTime(t.EndDatetime)
	out.Checklist = slices.Clone(t.Checklist)
	out.Updates = slices.Clone(t.Updates)
	out.Attachments = slices.Clone(t.Attachments)
	out.VoiceNotes = slices.Clone(t.VoiceNotes)
	out.Assignees = slices.Clone(t.Assignees)
	return out
}

// HasAssignee reports whether userID is the legacy single assignee or appears
// in the assignee list.
func (t *Task) HasAssignee(userID int64) bool {
	if t.AssignedTo != nil && *t.AssignedTo == userID {
		return true
	}
	return t.InAssignees(userID)
}

// InAssignees reports whether userID appears in the assignee list.
func (t *Task) InAssignees(userID int64) bool {
	return slices.ContainsFunc(t.Assignees, func(a Assignee) bool { return a.UserID == userID })
}

// Apply merges a partial update into t. Fields left nil are untouched.
func (t *Task) Apply(u TaskUpdate, now time.Time) error {
	if u.Status != nil {
		if !u.Status.Valid() {
			return ErrInvalidStatus
		}
		t.Status = *u.Status
	}
	if u.Priority != nil {
		if !u.Priority.Valid() {
			return ErrInvalidPriority
		}
		t.Priority = *u.Priority
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.ClearDeadline {
		t.Deadline = nil
	} else if u.Deadline != nil {
		t.Deadline = cloneTime(u.Deadline)
	}
	if u.EndDatetime != nil {
		t.EndDatetime = cloneTime(u.EndDatetime)
	}
	if u.ProgressDescription != nil {
		t.ProgressDescription = *u.ProgressDescription
	}
	if u.ProgressPercentage != nil {
		t.ProgressPercentage = *u.ProgressPercentage
	}
	if u.AssignedTo != nil {
		t.AssignedTo = cloneInt(u.AssignedTo)
	}
	t.UpdatedAt = now
	return nil
}

// Cancel moves t to the cancelled state. The record is kept.
func (t *Task) Cancel(reason string, now time.Time) {
	t.Status = StatusCancelled
	t.CancellationReason = reason
	t.UpdatedAt = now
}

func (t *Task) AddChecklistItem(item ChecklistItem, now time.Time) {
	t.Checklist = append(t.Checklist, item)
	t.UpdatedAt = now
}

// UpdateChecklistItem patches the item at index. Nil fields are untouched.
func (t *Task) UpdateChecklistItem(index int, text *string, completed *bool, now time.Time) error {
	if index < 0 || index >= len(t.Checklist) {
		return ErrChecklistIndex
	}
	if text != nil {
		t.Checklist[index].Text = *text
	}
	if completed != nil {
		t.Checklist[index].Completed = *completed
	}
	t.UpdatedAt = now
	return nil
}

func (t *Task) RemoveChecklistItem(index int, now time.Time) error {
	if index < 0 || index >= len(t.Checklist) {
		return ErrChecklistIndex
	}
	t.Checklist = slices.Delete(t.Checklist, index, index+1)
	t.UpdatedAt = now
	return nil
}

// Assign adds userID to the assignee list. Assigning an existing assignee is a no-op.
func (t *Task) Assign(userID int64, name string, now time.Time) {
	if t.InAssignees(userID) {
		return
	}
	t.Assignees = append(t.Assignees, Assignee{UserID: userID, UserName: name, AssignedAt: now})
	t.UpdatedAt = now
}

// Unassign removes userID from the assignee list and clears the legacy
// assignee field when it points at the same user.
func (t *Task) Unassign(userID int64, now time.Time) {
	t.Assignees = slices.DeleteFunc(t.Assignees, func(a Assignee) bool { return a.UserID == userID })
	if t.AssignedTo != nil && *t.AssignedTo == userID {
		t.AssignedTo = nil
	}
	t.UpdatedAt = now
}

// CompletedItems counts the checked checklist items.
func (t *Task) CompletedItems() int {
	n := 0
	for _, it := range t.Checklist {
		if it.Completed {
			n++
		}
	}
	return n
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
