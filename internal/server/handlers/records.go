package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iudanet/offlinesync/internal/models"
	"github.com/iudanet/offlinesync/internal/server/changefeed"
	"github.com/iudanet/offlinesync/internal/server/storage"
	"github.com/iudanet/offlinesync/internal/validation"
	"github.com/iudanet/offlinesync/pkg/api"
)

// RecordsConfig лимиты выборок и long-poll
type RecordsConfig struct {
	// DefaultPageSize размер страницы, если клиент не передал limit
	DefaultPageSize int
	// MaxPageSize верхняя граница limit
	MaxPageSize int
	// ChangesLimit максимум изменений в одном ответе ленты
	ChangesLimit int
	// MaxWait верхняя граница параметра wait
	MaxWait time.Duration
}

// DefaultRecordsConfig returns the limits used when none are configured
func DefaultRecordsConfig() RecordsConfig {
	return RecordsConfig{
		DefaultPageSize: 100,
		MaxPageSize:     1000,
		ChangesLimit:    500,
		MaxWait:         30 * time.Second,
	}
}

// RecordsHandler принимает мутации и отдаёт записи и ленту изменений
type RecordsHandler struct {
	logger   *slog.Logger
	store    storage.RecordStorage
	notifier *changefeed.Notifier
	cfg      RecordsConfig
}

// NewRecordsHandler создает handler записей
func NewRecordsHandler(
	logger *slog.Logger,
	store storage.RecordStorage,
	notifier *changefeed.Notifier,
	cfg RecordsConfig,
) *RecordsHandler {
	return &RecordsHandler{
		logger:   logger,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Submit обрабатывает POST /api/v1/mutations.
// Мутация применяется, только если expected_version совпадает с текущей
// версией записи, иначе 409 с авторитетной копией.
func (h *RecordsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		SendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.MutationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		SendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateMutation(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid mutation",
			slog.String("event_id", req.EventID),
			slog.Any("error", err))
		SendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	m := &storage.Mutation{
		UserID:          userID,
		ModelName:       req.ModelName,
		ModelID:         req.ModelID,
		Type:            models.MutationType(req.MutationType),
		ExpectedVersion: req.ExpectedVersion,
	}
	if m.Type != models.MutationTypeDelete {
		m.Payload = req.Payload
	}

	rec, err := h.store.ApplyMutation(ctx, m)
	if err != nil {
		var conflict *storage.ConflictError
		switch {
		case errors.As(err, &conflict):
			h.logger.InfoContext(ctx, "mutation rejected: version conflict",
				slog.String("event_id", req.EventID),
				slog.String("model", req.ModelName),
				slog.String("id", req.ModelID),
				slog.Int64("expected", req.ExpectedVersion),
				slog.Int64("current", conflict.Current.Version))
			SendJSON(w, h.logger, api.ConflictResponse{
				Error:  "version conflict",
				Record: toRemoteRecord(conflict.Current),
			}, http.StatusConflict)
		case errors.Is(err, storage.ErrRecordNotFound):
			SendError(w, h.logger, "record not found", http.StatusNotFound)
		default:
			h.logger.ErrorContext(ctx, "failed to apply mutation", slog.Any("error", err))
			SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.notifier.Notify(changefeed.Key{UserID: userID, ModelName: rec.ModelName})

	h.logger.DebugContext(ctx, "mutation applied",
		slog.String("event_id", req.EventID),
		slog.String("type", req.MutationType),
		slog.String("model", rec.ModelName),
		slog.String("id", rec.ID),
		slog.Int64("version", rec.Version))

	SendJSON(w, h.logger, api.MutationResponse{
		SyncMetadata: api.SyncMetadata{
			ID:            rec.ID,
			Version:       rec.Version,
			LastChangedAt: rec.LastChangedAt,
			Deleted:       rec.Deleted,
		},
	}, http.StatusOK)
}

// List обрабатывает GET /api/v1/models/{model}/records?page_token=&limit=
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		SendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	model := chi.URLParam(r, "model")
	if err := validation.ValidateModelName(model); err != nil {
		SendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	limit, err := h.pageSize(r.URL.Query().Get("limit"))
	if err != nil {
		SendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	afterID, err := decodePageToken(r.URL.Query().Get("page_token"))
	if err != nil {
		SendError(w, h.logger, "invalid page_token", http.StatusBadRequest)
		return
	}

	// одна лишняя запись показывает, есть ли следующая страница
	records, err := h.store.ListRecords(ctx, userID, model, afterID, limit+1)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list records", slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.RecordsPage{Items: make([]api.RemoteRecord, 0, len(records))}
	if len(records) > limit {
		records = records[:limit]
		resp.NextPageToken = encodePageToken(records[limit-1].ID)
	}
	for _, rec := range records {
		resp.Items = append(resp.Items, toRemoteRecord(rec))
	}

	SendJSON(w, h.logger, resp, http.StatusOK)
}

// Changes обрабатывает GET /api/v1/models/{model}/changes?cursor=&wait=.
// Отрицательный cursor возвращает текущую голову ленты без изменений.
// Если изменений нет и задан wait, запрос ждёт первого изменения.
func (h *RecordsHandler) Changes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		SendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	model := chi.URLParam(r, "model")
	if err := validation.ValidateModelName(model); err != nil {
		SendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	cursor := int64(-1)
	if raw := query.Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			SendError(w, h.logger, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	var wait time.Duration
	if raw := query.Get("wait"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			SendError(w, h.logger, "invalid wait", http.StatusBadRequest)
			return
		}
		wait = min(parsed, h.cfg.MaxWait)
	}

	if cursor < 0 {
		head, err := h.store.Head(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to read feed head", slog.Any("error", err))
			SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
			return
		}
		SendJSON(w, h.logger, api.ChangesResponse{Changes: []api.Change{}, Cursor: head}, http.StatusOK)
		return
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	key := changefeed.Key{UserID: userID, ModelName: model}
	for {
		woken := h.notifier.Watch(key)

		records, head, err := h.store.Changes(ctx, userID, model, cursor, h.cfg.ChangesLimit)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to read changes", slog.Any("error", err))
			SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
			return
		}

		if len(records) > 0 || timeout == nil {
			h.sendChanges(w, records, head, cursor)
			return
		}

		select {
		case <-woken:
		case <-timeout:
			h.sendChanges(w, nil, head, cursor)
			return
		case <-ctx.Done():
			// клиент ушёл или сервер останавливается
			SendError(w, h.logger, "long poll interrupted", http.StatusServiceUnavailable)
			return
		}
	}
}

func (h *RecordsHandler) sendChanges(w http.ResponseWriter, records []storage.Record, head, cursor int64) {
	resp := api.ChangesResponse{
		Changes: make([]api.Change, 0, len(records)),
		Cursor:  head,
	}
	for _, rec := range records {
		resp.Changes = append(resp.Changes, api.Change{Record: toRemoteRecord(rec), Seq: rec.Seq})
	}
	// неполная выборка: продолжаем с последнего отданного изменения
	if len(records) == h.cfg.ChangesLimit && len(records) > 0 {
		resp.Cursor = records[len(records)-1].Seq
	}
	resp.Cursor = max(resp.Cursor, cursor)

	SendJSON(w, h.logger, resp, http.StatusOK)
}

func (h *RecordsHandler) pageSize(raw string) (int, error) {
	if raw == "" {
		return h.cfg.DefaultPageSize, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(limit, h.cfg.MaxPageSize), nil
}

func validateMutation(req *api.MutationRequest) error {
	if err := validation.ValidateModelName(req.ModelName); err != nil {
		return err
	}
	if err := validation.ValidateRecordID(req.ModelID); err != nil {
		return err
	}
	if !models.MutationType(req.MutationType).Valid() {
		return fmt.Errorf("invalid mutation type %q", req.MutationType)
	}
	if req.ExpectedVersion < 0 {
		return fmt.Errorf("expected_version cannot be negative")
	}
	if req.MutationType != api.MutationDelete {
		if err := validation.ValidatePayload(req.Payload); err != nil {
			return err
		}
	}
	return nil
}

func toRemoteRecord(rec storage.Record) api.RemoteRecord {
	return api.RemoteRecord{
		ID:            rec.ID,
		ModelName:     rec.ModelName,
		Payload:       rec.Payload,
		Version:       rec.Version,
		LastChangedAt: rec.LastChangedAt,
		Deleted:       rec.Deleted,
	}
}

func encodePageToken(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}

func decodePageToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	if err := validation.ValidateRecordID(string(raw)); err != nil {
		return "", err
	}
	return string(raw), nil
}
