package board

import (
	"fmt"
	"strconv"
	"strings"

	"taskmaster/domain"
)

// Scope selects between every task and the current user's tasks.
type Scope uint8

const (
	ScopeAll Scope = iota
	ScopeMine
)

func (s Scope) String() string {
	if s == ScopeMine {
		return "mine"
	}
	return "all"
}

// Filter is the view filter configuration. Zero values mean "all" and never
// exclude anything.
type Filter struct {
	Scope    Scope
	Status   domain.Status
	Priority domain.Priority
	Assignee int64
}

// ParseFilter builds a Filter from its string form. Every field accepts
// "all" or an empty string as the no-op value.
func ParseFilter(scope, status, priority, assignee string) (Filter, error) {
	var f Filter
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "", "all":
	case "mine", "my":
		f.Scope = ScopeMine
	default:
		return Filter{}, fmt.Errorf("invalid scope %q", scope)
	}
	if v := strings.TrimSpace(status); v != "" && v != "all" {
		s, err := domain.ParseStatus(v)
		if err != nil {
			return Filter{}, err
		}
		f.Status = s
	}
	if v := strings.TrimSpace(priority); v != "" && v != "all" {
		p, err := domain.ParsePriority(v)
		if err != nil {
			return Filter{}, err
		}
		f.Priority = p
	}
	if v := strings.TrimSpace(assignee); v != "" && v != "all" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return Filter{}, fmt.Errorf("invalid assignee %q", assignee)
		}
		f.Assignee = id
	}
	return f, nil
}

// Predicate retains a task when it returns true.
type Predicate func(t *domain.Task) bool

// Predicates returns one predicate per active filter option. An empty slice
// means the filter retains everything.
func (f Filter) Predicates(currentUser int64) []Predicate {
	var preds []Predicate
	if f.Scope == ScopeMine {
		preds = append(preds, func(t *domain.Task) bool { return t.HasAssignee(currentUser) })
	}
	if f.Status != 0 {
		status := f.Status
		preds = append(preds, func(t *domain.Task) bool { return t.Status == status })
	}
	if f.Priority != 0 {
		priority := f.Priority
		preds = append(preds, func(t *domain.Task) bool { return t.Priority == priority })
	}
	if f.Assignee != 0 {
		assignee := f.Assignee
		preds = append(preds, func(t *domain.Task) bool { return t.InAssignees(assignee) })
	}
	return preds
}

// Apply runs the filter over tasks for the given user.
func (f Filter) Apply(tasks []domain.Task, currentUser int64) []domain.Task {
	return Select(tasks, f.Predicates(currentUser)...)
}

// Select keeps the tasks accepted by every predicate, in input order.
func Select(tasks []domain.Task, preds ...Predicate) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
next:
	for i := range tasks {
		for _, p := range preds {
			if !p(&tasks[i]) {
				continue next
			}
		}
		out = append(out, tasks[i])
	}
	return out
}
