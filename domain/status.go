package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus is returned when a status string is outside the fixed set.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrInvalidPriority is returned when a priority string is outside the fixed set.
	ErrInvalidPriority = errors.New("invalid task priority")
)

// Status is the lifecycle state of a task. The zero value means "unset" and is
// never produced by parsing.
type Status uint8

const (
	StatusAssigned Status = iota + 1
	StatusInProgress
	StatusOnHold
	StatusCompleted
	StatusCancelled
	StatusOverdue
)

var statusNames = [...]string{
	StatusAssigned:   "assigned",
	StatusInProgress: "in_progress",
	StatusOnHold:     "on_hold",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
	StatusOverdue:    "overdue",
}

// Statuses lists every valid status in declaration order.
func Statuses() []Status {
	return []Status{StatusAssigned, StatusInProgress, StatusOnHold, StatusCompleted, StatusCancelled, StatusOverdue}
}

// ParseStatus converts the wire form of a status.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if i > 0 && name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether s is one of the fixed statuses.
func (s Status) Valid() bool {
	return s >= StatusAssigned && s <= StatusOverdue
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Priority is the urgency of a task. The zero value means "unset".
type Priority uint8

const (
	PriorityHigh Priority = iota + 1
	PriorityMedium
	PriorityLow
)

var priorityNames = [...]string{
	PriorityHigh:   "high",
	PriorityMedium: "medium",
	PriorityLow:    "low",
}

// Priorities lists every valid priority, most urgent first.
func Priorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// ParsePriority converts the wire form of a priority.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if i > 0 && name == s {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, uint8(p))
	}
	return []byte(priorityNames[p]), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
