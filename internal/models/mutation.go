package models

import "time"

// MutationType тип локального изменения записи
type MutationType string

const (
	MutationTypeCreate MutationType = "create"
	MutationTypeUpdate MutationType = "update"
	MutationTypeDelete MutationType = "delete"
)

// Valid reports whether t is one of the known mutation types.
func (t MutationType) Valid() bool {
	switch t {
	case MutationTypeCreate, MutationTypeUpdate, MutationTypeDelete:
		return true
	default:
		return false
	}
}

// MutationEvent представляет локальное изменение, ещё не подтверждённое сервером.
// Создаётся при локальной записи, обрабатывается outgoing очередью,
// удаляется после подтверждения сервером или при замещении более поздним событием.
type MutationEvent struct {
	CreatedAt    time.Time    `json:"created_at"`    // CreatedAt время создания события
	ID           string       `json:"id"`            // ID уникальный идентификатор события (UUID)
	ModelID      string       `json:"model_id"`      // ModelID идентификатор изменяемой записи
	ModelName    string       `json:"model_name"`    // ModelName тип записи (например, "note", "task")
	MutationType MutationType `json:"mutation_type"` // MutationType create/update/delete
	Payload      []byte       `json:"payload"`       // Payload сериализованная (JSON) запись
	Version      int64        `json:"version"`       // Version локальный счётчик версии (Lamport)
	InProcess    bool         `json:"in_process"`    // InProcess событие отправляется на сервер
}

// Before reports whether e must be sent before other.
// Events are ordered by creation time, then by local version.
func (e *MutationEvent) Before(other *MutationEvent) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Version < other.Version
}

// Clone создает глубокую копию события
func (e *MutationEvent) Clone() *MutationEvent {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)

	return &MutationEvent{
		CreatedAt:    e.CreatedAt,
		ID:           e.ID,
		ModelID:      e.ModelID,
		ModelName:    e.ModelName,
		MutationType: e.MutationType,
		Payload:      payload,
		Version:      e.Version,
		InProcess:    e.InProcess,
	}
}
