// Package notify holds the process-wide list of transient user-facing
// messages and fans every change out to subscribed views.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// Type is the severity of a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeDanger  Type = "danger"
)

// Notification is a single user-facing message.
type Notification struct {
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Time    time.Time `json:"time"`
}

// DetailText renders Details for display. Errors use their message.
func (n Notification) DetailText() string {
	switch d := n.Details.(type) {
	case nil:
		return ""
	case error:
		return d.Error()
	case string:
		return d
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Listener receives the notification list after every mutation.
type Listener func([]Notification)

// Bus is an observable, insertion-ordered notification list.
type Bus struct {
	mu     sync.Mutex
	list   []Notification
	subs   map[int]Listener
	nextID int
	logger arbor.ILogger
	now    func() time.Time
}

// New returns an empty Bus. logger may be nil.
func New(logger arbor.ILogger) *Bus {
	return &Bus{
		list:   []Notification{},
		subs:   make(map[int]Listener),
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the timestamp source.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Info appends an informational notification.
func (b *Bus) Info(message string, details any) Notification {
	return b.add(TypeInfo, message, details)
}

// Success appends a success notification.
func (b *Bus) Success(message string, details any) Notification {
	return b.add(TypeSuccess, message, details)
}

// Warning appends a warning notification.
func (b *Bus) Warning(message string, details any) Notification {
	return b.add(TypeWarning, message, details)
}

// Error appends a danger notification.
func (b *Bus) Error(message string, details any) Notification {
	return b.add(TypeDanger, message, details)
}

// Remove deletes the notification at index. Out of range indexes are ignored.
func (b *Bus) Remove(index int) {
	b.mu.Lock()
	if index < 0 || index >= len(b.list) {
		b.mu.Unlock()
		return
	}
	next := make([]Notification, 0, len(b.list)-1)
	next = append(next, b.list[:index]...)
	next = append(next, b.list[index+1:]...)
	b.list = next
	snapshot, subs := b.snapshotLocked()
	b.mu.Unlock()

	publish(snapshot, subs)
}

// Clear removes every notification.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.list = []Notification{}
	snapshot, subs := b.snapshotLocked()
	b.mu.Unlock()

	publish(snapshot, subs)
}

// List returns a copy of the current notifications.
func (b *Bus) List() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notification, len(b.list))
	copy(out, b.list)
	return out
}

// Reset empties the list and drops all subscribers.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.list = []Notification{}
	b.subs = make(map[int]Listener)
	b.mu.Unlock()
}

func (b *Bus) add(t Type, message string, details any) Notification {
	b.mu.Lock()
	n := Notification{
		ID:      uuid.New().String(),
		Type:    t,
		Message: message,
		Details: details,
		Time:    b.now(),
	}
	next := make([]Notification, len(b.list), len(b.list)+1)
	copy(next, b.list)
	b.list = append(next, n)
	snapshot, subs := b.snapshotLocked()
	b.mu.Unlock()

	b.log(n)
	publish(snapshot, subs)
	return n
}

// snapshotLocked returns the list every subscriber will receive. The list is
// never mutated in place, so one slice is shared by all listeners.
func (b *Bus) snapshotLocked() ([]Notification, []Listener) {
	subs := make([]Listener, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	return b.list, subs
}

func publish(snapshot []Notification, subs []Listener) {
	for _, fn := range subs {
		fn(snapshot)
	}
}

func (b *Bus) log(n Notification) {
	if b.logger == nil {
		return
	}
	detail := n.DetailText()
	switch n.Type {
	case TypeDanger:
		b.logger.Error().Str("id", n.ID).Str("details", detail).Msg(n.Message)
	case TypeWarning:
		b.logger.Warn().Str("id", n.ID).Str("details", detail).Msg(n.Message)
	default:
		b.logger.Info().Str("id", n.ID).Str("type", string(n.Type)).Msg(n.Message)
	}
}
