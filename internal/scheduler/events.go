package scheduler

import "github.com/newsave/newsave/internal/domain"

// EventType identifies a queue state change pushed to subscribers.
type EventType string

const (
	EventQueued    EventType = "download:queued"
	EventStarted   EventType = "download:started"
	EventTitle     EventType = "download:title"
	EventProgress  EventType = "download:progress"
	EventCompleted EventType = "download:completed"
	EventFailed    EventType = "download:failed"
	EventCancelled EventType = "download:cancelled"
	EventRetrying  EventType = "download:retrying"
	EventRemoved   EventType = "download:removed"
)

// Event carries a queue item snapshot at the moment of a state change.
type Event struct {
	Type EventType        `json:"type"`
	Item domain.QueueItem `json:"item"`
}

// Notifier receives queue events. Publish must not block; slow consumers
// are the notifier's problem.
type Notifier interface {
	Publish(evt Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(Event) {}
