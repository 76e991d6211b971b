package board

import (
	"sort"
	"time"

	"taskmaster/domain"
)

const urgentLimit = 5

// Summary is the dashboard overview of a task set.
type Summary struct {
	Total      int                     `json:"total"`
	Completed  int                     `json:"completed"`
	InProgress int                     `json:"inProgress"`
	Overdue    int                     `json:"overdue"`
	ByStatus   map[domain.Status]int   `json:"byStatus"`
	ByPriority map[domain.Priority]int `json:"byPriority"`
	// ChecklistDone and ChecklistItems count checklist items across all
	// tasks, checked and total.
	ChecklistDone  int `json:"checklistDone"`
	ChecklistItems int `json:"checklistItems"`
	// Urgent lists up to five open high priority tasks, earliest deadline
	// first and tasks without a deadline last.
	Urgent []domain.Task `json:"urgent"`
}

// Summarize computes the dashboard overview at now. A task is overdue when it
// is not completed and its deadline has passed, whatever its stored status.
func Summarize(tasks []domain.Task, now time.Time) Summary {
	s := Summary{
		Total:      len(tasks),
		ByStatus:   make(map[domain.Status]int),
		ByPriority: make(map[domain.Priority]int),
		Urgent:     []domain.Task{},
	}
	for _, t := range tasks {
		s.ChecklistItems += len(t.Checklist)
		s.ChecklistDone += t.CompletedItems()
		if t.Status.Valid() {
			s.ByStatus[t.Status]++
		}
		if t.Priority.Valid() {
			s.ByPriority[t.Priority]++
		}
		switch t.Status {
		case domain.StatusCompleted:
			s.Completed++
			continue
		case domain.StatusInProgress:
			s.InProgress++
		}
		if t.Deadline != nil && t.Deadline.Before(now) {
			s.Overdue++
		}
		if t.Priority == domain.PriorityHigh {
			s.Urgent = append(s.Urgent, t)
		}
	}
	sort.SliceStable(s.Urgent, func(i, j int) bool {
		a, b := s.Urgent[i].Deadline, s.Urgent[j].Deadline
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	if len(s.Urgent) > urgentLimit {
		s.Urgent = s.Urgent[:urgentLimit]
	}
	return s
}
