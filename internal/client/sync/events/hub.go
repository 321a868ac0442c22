// Package events is a fire-and-forget notification bus for UI and telemetry
// consumers. The sync core only publishes; nothing reads events back.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Name идентификатор типа события
type Name string

const (
	SyncStateChanged         Name = "syncStateChanged"
	SyncQueriesStarted       Name = "syncQueriesStarted"
	ModelSynced              Name = "modelSynced"
	SyncQueriesReady         Name = "syncQueriesReady"
	SubscriptionsEstablished Name = "subscriptionsEstablished"
	OutboxMutationEnqueued   Name = "outboxMutationEnqueued"
	OutboxMutationProcessed  Name = "outboxMutationProcessed"
	OutboxStatus             Name = "outboxStatus"
	NetworkStatus            Name = "networkStatus"
	SyncStarted              Name = "syncStarted"
	Ready                    Name = "ready"
	SyncTerminated           Name = "syncTerminated"
)

// Event одно уведомление шины
type Event struct {
	Time time.Time
	Data any
	Err  error
	Name Name
}

// StateChange is the payload of SyncStateChanged.
type StateChange struct {
	From string
	To   string
}

// ModelSyncedData is the payload of ModelSynced.
type ModelSyncedData struct {
	Model   string
	Created int
	Updated int
	Deleted int
}

// OutboxStatusData is the payload of OutboxStatus.
type OutboxStatusData struct {
	Pending int
	Empty   bool
}

// MutationData is the payload of outbox mutation events.
type MutationData struct {
	EventID   string
	ModelID   string
	ModelName string
	Type      string
}

// NetworkStatusData is the payload of NetworkStatus.
type NetworkStatusData struct {
	Online bool
}

// Hub рассылает события подписчикам без блокировки издателя.
type Hub struct {
	logger *slog.Logger
	subs   map[uint64]chan Event
	nextID uint64
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[uint64]chan Event),
	}
}

// Publish delivers ev to every subscriber. A subscriber whose buffer is full
// misses the event. A nil hub discards everything.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("Dropping event for slow subscriber",
				"event", ev.Name,
				"subscriber", id)
		}
	}
}

// Emit is shorthand for Publish(Event{Name: name, Data: data}).
func (h *Hub) Emit(name Name, data any) {
	h.Publish(Event{Name: name, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
