package models

import "encoding/json"

// MutationSyncMetadata хранит версию записи, назначенную сервером.
// Одна строка на ID записи; версия никогда не уменьшается.
type MutationSyncMetadata struct {
	ID            string `json:"id"`              // ID идентификатор записи
	Version       int64  `json:"version"`         // Version монотонно растущая версия с сервера
	LastChangedAt int64  `json:"last_changed_at"` // LastChangedAt unix millis последнего изменения на сервере
	Deleted       bool   `json:"deleted"`         // Deleted флаг удаления на сервере
}

// Record is a single synced record as the application sees it.
type Record struct {
	ID        string          `json:"id"`
	ModelName string          `json:"model_name"`
	Payload   json.RawMessage `json:"payload"`
}

// RemoteModel is a record observed from the backend together with its sync metadata,
// received either from a live notification or from the initial bulk fetch.
type RemoteModel struct {
	Model        Record               `json:"model"`
	SyncMetadata MutationSyncMetadata `json:"sync_metadata"`
}

// ID returns the record id of the remote model.
func (m RemoteModel) ID() string {
	return m.Model.ID
}

// RemotePage одна страница полной выборки записей одного типа
type RemotePage struct {
	NextToken string        `json:"next_token"` // NextToken пустой, если страниц больше нет
	Items     []RemoteModel `json:"items"`
}

// RemoteChange одно уведомление об изменении на сервере вместе с курсором,
// с которого можно продолжить подписку. Уведомление без модели только
// сдвигает курсор.
type RemoteChange struct {
	Model  RemoteModel `json:"model"`
	Cursor int64       `json:"cursor"`
}

// Heartbeat reports whether the change carries no record.
func (c RemoteChange) Heartbeat() bool {
	return c.Model.ID() == ""
}
