// Package changefeed будит long-poll запросы ленты изменений.
package changefeed

import "sync"

// Key пространство записей одного пользователя и одного типа
type Key struct {
	UserID    string
	ModelName string
}

// Notifier рассылает сигнал о новых изменениях всем ожидающим по ключу.
// Сигнал не несёт данных: получатель сам перечитывает ленту.
type Notifier struct {
	waiters map[Key]chan struct{}
	mu      sync.Mutex
}

// New creates an empty Notifier
func New() *Notifier {
	return &Notifier{waiters: make(map[Key]chan struct{})}
}

// Watch returns a channel closed on the next Notify for key.
// Call Watch before reading the feed so that a change committed in between
// is not missed.
func (n *Notifier) Watch(key Key) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.waiters[key]
	if !ok {
		ch = make(chan struct{})
		n.waiters[key] = ch
	}
	return ch
}

// Notify wakes every watcher of key
func (n *Notifier) Notify(key Key) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.waiters[key]; ok {
		close(ch)
		delete(n.waiters, key)
	}
}

// Waiting returns the number of keys with pending watchers
func (n *Notifier) Waiting() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}
