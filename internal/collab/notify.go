package collab

import (
	"fmt"
	"time"
)

// Level classifies a Notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient, user-visible status message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (n Notification) String() string {
	return fmt.Sprintf("[%s] %s", n.Level, n.Message)
}

const defaultNotifyQueue = 32

// notifier is a bounded queue of notifications. When nobody drains it the
// oldest entry is dropped to make room; publishing never blocks.
type notifier struct {
	ch  chan Notification
	now func() time.Time
}

func newNotifier(size int) *notifier {
	if size <= 0 {
		size = defaultNotifyQueue
	}
	return &notifier{ch: make(chan Notification, size), now: time.Now}
}

func (n *notifier) push(level Level, format string, args ...any) {
	note := Notification{Level: level, Message: fmt.Sprintf(format, args...), At: n.now()}
	for {
		select {
		case n.ch <- note:
			return
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

func (n *notifier) info(format string, args ...any)    { n.push(LevelInfo, format, args...) }
func (n *notifier) success(format string, args ...any) { n.push(LevelSuccess, format, args...) }
func (n *notifier) fail(format string, args ...any)    { n.push(LevelError, format, args...) }
