// Package crdt содержит логические часы, которыми клиент нумерует
// локальные изменения до того, как сервер назначит им версию.
package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// LamportClock выдаёт монотонно растущие локальные версии для MutationEvent.
// Счётчик упорядочивает события одного узла; серверная версия записи
// хранится отдельно в MutationSyncMetadata.
type LamportClock struct {
	nodeID  string     // идентификатор узла (клиента)
	counter int64      // последний выданный timestamp
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewLamportClock создает часы со случайным идентификатором узла (UUID).
func NewLamportClock() *LamportClock {
	return &LamportClock{nodeID: uuid.New().String()}
}

// NewLamportClockWithNodeID создает часы с заданным идентификатором узла.
// Используется для восстановления состояния и в тестах.
func NewLamportClockWithNodeID(nodeID string) *LamportClock {
	return &LamportClock{nodeID: nodeID}
}

// Tick увеличивает счетчик и возвращает новое значение.
// Вызывается при каждом новом локальном изменении.
func (c *LamportClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter++
	return c.counter
}

// Witness продвигает часы так, чтобы следующий Tick был больше observed.
// Возвращает текущее значение счетчика.
func (c *LamportClock) Witness(observed int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if observed > c.counter {
		c.counter = observed
	}
	return c.counter
}

// Now возвращает текущее значение счетчика без его изменения.
func (c *LamportClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counter
}

// NodeID возвращает идентификатор узла.
func (c *LamportClock) NodeID() string {
	return c.nodeID
}
