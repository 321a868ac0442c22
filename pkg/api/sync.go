package api

import "encoding/json"

// Mutation types accepted by POST /api/v1/mutations
const (
	MutationCreate = "create"
	MutationUpdate = "update"
	MutationDelete = "delete"
)

// RemoteRecord запись на сервере вместе с метаданными синхронизации
type RemoteRecord struct {
	ID            string          `json:"id"`
	ModelName     string          `json:"model_name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Version       int64           `json:"version"`
	LastChangedAt int64           `json:"last_changed_at"` // unix millis
	Deleted       bool            `json:"deleted"`
}

// SyncMetadata версия записи, назначенная сервером
type SyncMetadata struct {
	ID            string `json:"id"`
	Version       int64  `json:"version"`
	LastChangedAt int64  `json:"last_changed_at"`
	Deleted       bool   `json:"deleted"`
}

// MutationRequest одно локальное изменение, отправляемое на сервер.
// ExpectedVersion должен совпадать с текущей версией записи на сервере
// (0 для новой записи), иначе сервер отвечает 409 Conflict.
type MutationRequest struct {
	EventID         string          `json:"event_id"`
	ModelID         string          `json:"model_id"`
	ModelName       string          `json:"model_name"`
	MutationType    string          `json:"mutation_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ExpectedVersion int64           `json:"expected_version"`
}

// MutationResponse ответ на принятую мутацию
type MutationResponse struct {
	SyncMetadata SyncMetadata `json:"sync_metadata"`
}

// ConflictResponse тело ответа 409 с авторитетной копией записи
type ConflictResponse struct {
	Error  string       `json:"error"`
	Record RemoteRecord `json:"record"`
}

// RecordsPage одна страница полной выборки
type RecordsPage struct {
	Items         []RemoteRecord `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// Change одно изменение в ленте изменений
type Change struct {
	Record RemoteRecord `json:"record"`
	Seq    int64        `json:"seq"`
}

// ChangesResponse ответ long-poll ленты изменений.
// Cursor нужно передать в следующий запрос.
type ChangesResponse struct {
	Changes []Change `json:"changes"`
	Cursor  int64    `json:"cursor"`
}
