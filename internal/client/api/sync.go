package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iudanet/offlinesync/internal/models"
	"github.com/iudanet/offlinesync/pkg/api"
)

// SubmitMutation отправляет одно локальное изменение.
// Returns *syncerr.ConflictError when expectedVersion is not the current
// backend version.
func (c *Client) SubmitMutation(
	ctx context.Context,
	ev *models.MutationEvent,
	expectedVersion int64,
) (*models.MutationSyncMetadata, error) {
	req := api.MutationRequest{
		EventID:         ev.ID,
		ModelID:         ev.ModelID,
		ModelName:       ev.ModelName,
		MutationType:    string(ev.MutationType),
		ExpectedVersion: expectedVersion,
	}
	if ev.MutationType != models.MutationTypeDelete {
		req.Payload = json.RawMessage(ev.Payload)
	}

	var resp api.MutationResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/mutations", req, &resp); err != nil {
		return nil, fmt.Errorf("submit mutation %s: %w", ev.ID, err)
	}

	meta := fromSyncMetadata(resp.SyncMetadata)
	return &meta, nil
}

// FetchAll возвращает одну страницу всех записей типа modelName
func (c *Client) FetchAll(ctx context.Context, modelName, pageToken string, limit int) (*models.RemotePage, error) {
	q := url.Values{}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := fmt.Sprintf("/api/v1/models/%s/records", url.PathEscape(modelName))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.RecordsPage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s records: %w", modelName, err)
	}

	page := &models.RemotePage{
		NextToken: resp.NextPageToken,
		Items:     make([]models.RemoteModel, 0, len(resp.Items)),
	}
	for _, rr := range resp.Items {
		page.Items = append(page.Items, toRemoteModel(rr))
	}
	return page, nil
}

// Subscribe опрашивает ленту изменений modelName начиная с cursor и передаёт
// каждое изменение в handle. Отрицательный cursor означает "с текущего момента".
// Возвращает ошибку транспорта, ошибку handle или ctx.Err().
func (c *Client) Subscribe(
	ctx context.Context,
	modelName string,
	cursor int64,
	handle func(models.RemoteChange) error,
) error {
	for {
		resp, err := c.pollChanges(ctx, modelName, cursor)
		if err != nil {
			return err
		}

		for _, ch := range resp.Changes {
			change := models.RemoteChange{Model: toRemoteModel(ch.Record), Cursor: ch.Seq}
			if err := handle(change); err != nil {
				return err
			}
		}
		if len(resp.Changes) == 0 && resp.Cursor != cursor {
			// курсор сдвинулся без изменений: сообщаем, чтобы его можно было сохранить
			if err := handle(models.RemoteChange{Cursor: resp.Cursor}); err != nil {
				return err
			}
		}
		cursor = resp.Cursor

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *Client) pollChanges(ctx context.Context, modelName string, cursor int64) (*api.ChangesResponse, error) {
	q := url.Values{}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	if cursor >= 0 && c.pollWait > 0 {
		q.Set("wait", c.pollWait.String())
	}
	path := fmt.Sprintf("/api/v1/models/%s/changes?%s", url.PathEscape(modelName), q.Encode())

	var resp api.ChangesResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll %s changes: %w", modelName, err)
	}
	return &resp, nil
}

func toRemoteModel(rr api.RemoteRecord) models.RemoteModel {
	return models.RemoteModel{
		Model: models.Record{
			ID:        rr.ID,
			ModelName: rr.ModelName,
			Payload:   rr.Payload,
		},
		SyncMetadata: models.MutationSyncMetadata{
			ID:            rr.ID,
			Version:       rr.Version,
			LastChangedAt: rr.LastChangedAt,
			Deleted:       rr.Deleted,
		},
	}
}

func fromSyncMetadata(m api.SyncMetadata) models.MutationSyncMetadata {
	return models.MutationSyncMetadata{
		ID:            m.ID,
		Version:       m.Version,
		LastChangedAt: m.LastChangedAt,
		Deleted:       m.Deleted,
	}
}
