package board

import (
	"time"

	"taskmaster/domain"
)

// CalendarDay holds the tasks due on one day.
type CalendarDay struct {
	Date  time.Time     `json:"date"`
	Tasks []domain.Task `json:"tasks"`
}

// Month buckets tasks by deadline into one entry per day of month's calendar
// month, evaluated in month's location. Tasks without a deadline or due in
// another month are left out. Unlike the board columns, the calendar shows
// every status.
func Month(tasks []domain.Task, month time.Time) []CalendarDay {
	loc := month.Location()
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	n := first.AddDate(0, 1, -1).Day()

	out := make([]CalendarDay, n)
	for i := range out {
		out[i] = CalendarDay{Date: first.AddDate(0, 0, i), Tasks: []domain.Task{}}
	}
	for _, t := range tasks {
		if t.Deadline == nil {
			continue
		}
		d := t.Deadline.In(loc)
		if d.Year() != first.Year() || d.Month() != first.Month() {
			continue
		}
		out[d.Day()-1].Tasks = append(out[d.Day()-1].Tasks, t)
	}
	return out
}
