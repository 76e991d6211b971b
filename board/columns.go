package board

import "taskmaster/domain"

// Column is a board column definition. Columns are a view projection and are
// never persisted.
type Column struct {
	Status domain.Status `json:"id"`
	Title  string        `json:"title"`
}

var columns = [...]Column{
	{Status: domain.StatusAssigned, Title: "To Do"},
	{Status: domain.StatusInProgress, Title: "In Progress"},
	{Status: domain.StatusOnHold, Title: "On Hold"},
	{Status: domain.StatusCompleted, Title: "Done"},
}

// columnByStatus maps a status to its index in columns, -1 when the status
// has no board column.
var columnByStatus = func() [domain.StatusOverdue + 1]int {
	var idx [domain.StatusOverdue + 1]int
	for i := range idx {
		idx[i] = -1
	}
	for i, c := range columns {
		idx[c.Status] = i
	}
	return idx
}()

// Columns returns the fixed board columns in display order.
func Columns() []Column {
	return append([]Column(nil), columns[:]...)
}

// ClassifyStatus returns the column for status. Cancelled, overdue and any
// invalid status are unclassified.
func ClassifyStatus(status domain.Status) (Column, bool) {
	if int(status) >= len(columnByStatus) {
		return Column{}, false
	}
	i := columnByStatus[status]
	if i < 0 {
		return Column{}, false
	}
	return columns[i], true
}

// Classify returns the column a task is rendered in. Unclassified tasks are
// hidden from the board.
func Classify(t domain.Task) (Column, bool) {
	return ClassifyStatus(t.Status)
}

// ColumnTasks pairs a column with the tasks rendered in it.
type ColumnTasks struct {
	Column
	Tasks []domain.Task `json:"tasks"`
}

// Project groups tasks into the board columns. Every column is present, in
// display order, and keeps the relative order of the input.
func Project(tasks []domain.Task) []ColumnTasks {
	out := make([]ColumnTasks, len(columns))
	for i, c := range columns {
		out[i] = ColumnTasks{Column: c, Tasks: []domain.Task{}}
	}
	for _, t := range tasks {
		if int(t.Status) >= len(columnByStatus) {
			continue
		}
		if i := columnByStatus[t.Status]; i >= 0 {
			out[i].Tasks = append(out[i].Tasks, t)
		}
	}
	return out
}
