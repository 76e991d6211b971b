package board

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Level is the severity of a notification.
type Level uint8

const (
	LevelInfo Level = iota
	LevelError
)

// Notification is a transient, non-blocking message for the user.
type Notification struct {
	Level   Level
	Message string
	TaskID  int64
	Err     error
	Time    time.Time
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(Notification)
}

// LogNotifier writes notifications to a logrus logger. It is the default
// when no UI sink is wired.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithField("task_id", n.TaskID)
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	if n.Level == LevelError {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}
