package storage

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taskmaster/domain"
)

//go:embed fixtures/demo.yaml
var demoFixtures []byte

// Fixtures is a seed data set: the user directory and the initial tasks.
type Fixtures struct {
	Users []domain.User `yaml:"users"`
	Tasks []fixtureTask `yaml:"tasks"`
}

type fixtureTask struct {
	ID                  int64                  `yaml:"id"`
	Title               string                 `yaml:"title"`
	Description         string                 `yaml:"description"`
	Status              string                 `yaml:"status"`
	Priority            string                 `yaml:"priority"`
	Deadline            *time.Time             `yaml:"deadline"`
	Checklist           []domain.ChecklistItem `yaml:"checklist"`
	ProgressDescription string                 `yaml:"progress_description"`
	ProgressPercentage  int                    `yaml:"progress_percentage"`
	CreatedBy           int64                  `yaml:"created_by"`
	AssignedTo          int64                  `yaml:"assigned_to"`
	Assignees           []int64                `yaml:"assignees"`
	CancellationReason  string                 `yaml:"cancellation_reason"`
}

// DemoFixtures returns the embedded demo data set.
func DemoFixtures() (Fixtures, error) {
	return ParseFixtures(demoFixtures)
}

// LoadFixtures reads a fixture file from disk.
func LoadFixtures(path string) (Fixtures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, err
	}
	return ParseFixtures(b)
}

func ParseFixtures(b []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return f, nil
}

// BuildTasks converts the fixture tasks to domain tasks stamped at now.
// Assignee names are resolved through the fixture users.
func (f Fixtures) BuildTasks(now time.Time) ([]domain.Task, error) {
	dir := NewDirectory(f.Users)
	out := make([]domain.Task, 0, len(f.Tasks))
	seen := make(map[int64]bool, len(f.Tasks))
	for _, ft := range f.Tasks {
		if ft.ID <= 0 || seen[ft.ID] {
			return nil, fmt.Errorf("fixture task %q: invalid or duplicate id %d", ft.Title, ft.ID)
		}
		seen[ft.ID] = true
		status, err := domain.ParseStatus(ft.Status)
		if err != nil {
			return nil, fmt.Errorf("fixture task %d: %w", ft.ID, err)
		}
		priority, err := domain.ParsePriority(ft.Priority)
		if err != nil {
			return nil, fmt.Errorf("fixture task %d: %w", ft.ID, err)
		}
		t := domain.Task{
			ID:                  ft.ID,
			Title:               ft.Title,
			Description:         ft.Description,
			Status:              status,
			Priority:            priority,
			Deadline:            ft.Deadline,
			Checklist:           ft.Checklist,
			ProgressDescription: ft.ProgressDescription,
			ProgressPercentage:  ft.ProgressPercentage,
			CancellationReason:  ft.CancellationReason,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if ft.CreatedBy != 0 {
			t.CreatedBy = &ft.CreatedBy
		}
		if ft.AssignedTo != 0 {
			t.AssignedTo = &ft.AssignedTo
		}
		for _, uid := range ft.Assignees {
			t.Assign(uid, dir.name(uid), now)
		}
		t.UpdatedAt = now
		out = append(out, t.Clone())
	}
	return out, nil
}

// Directory resolves user ids to display names.
type Directory struct {
	users map[int64]domain.User
}

func NewDirectory(users []domain.User) *Directory {
	d := &Directory{users: make(map[int64]domain.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// User returns the directory entry for id.
func (d *Directory) User(id int64) (domain.User, bool) {
	u, ok := d.users[id]
	return u, ok
}

func (d *Directory) name(id int64) string {
	if u, ok := d.users[id]; ok {
		return u.Name
	}
	return ""
}
