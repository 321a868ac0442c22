package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/offlinesync/internal/models"
	"github.com/iudanet/offlinesync/internal/server/storage"
)

const recordColumns = `user_id, model_name, id, payload, version, deleted, last_changed_at, seq`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ApplyMutation проверяет ожидаемую версию и сохраняет изменение в одной транзакции
func (s *Storage) ApplyMutation(ctx context.Context, m *storage.Mutation) (*storage.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := getRecord(ctx, tx, m.UserID, m.ModelName, m.ModelID)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, err
	}

	var version int64
	if exists {
		version = current.Version
		switch {
		case m.ExpectedVersion != version,
			// запись уже создана другим клиентом с тем же id
			m.Type == models.MutationTypeCreate && !current.Deleted:
			return nil, &storage.ConflictError{Current: *current, Expected: m.ExpectedVersion}
		case m.Type == models.MutationTypeDelete && current.Deleted:
			return current, nil
		}
	} else if m.Type != models.MutationTypeCreate || m.ExpectedVersion != 0 {
		return nil, storage.ErrRecordNotFound
	}

	var head int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM records`).Scan(&head); err != nil {
		return nil, fmt.Errorf("failed to read feed head: %w", err)
	}

	rec := &storage.Record{
		UserID:        m.UserID,
		ModelName:     m.ModelName,
		ID:            m.ModelID,
		Payload:       m.Payload,
		Version:       version + 1,
		LastChangedAt: time.Now().UnixMilli(),
		Seq:           head + 1,
	}
	if m.Type == models.MutationTypeDelete {
		rec.Payload = nil
		rec.Deleted = true
	}

	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, model_name, id) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			deleted = excluded.deleted,
			last_changed_at = excluded.last_changed_at,
			seq = excluded.seq
	`
	if _, err := tx.ExecContext(ctx, query,
		rec.UserID,
		rec.ModelName,
		rec.ID,
		nullPayload(rec.Payload),
		rec.Version,
		rec.Deleted,
		rec.LastChangedAt,
		rec.Seq,
	); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, nil
}

// GetRecord returns a single record including deleted ones
func (s *Storage) GetRecord(ctx context.Context, userID, modelName, id string) (*storage.Record, error) {
	return getRecord(ctx, s.db, userID, modelName, id)
}

// ListRecords returns one page of records ordered by id
func (s *Storage) ListRecords(ctx context.Context, userID, modelName, afterID string, limit int) ([]storage.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE user_id = ? AND model_name = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, modelName, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return collectRecords(rows)
}

// Changes читает ленту и голову ленты в одной транзакции, чтобы курсор
// не обогнал непрочитанные изменения
func (s *Storage) Changes(ctx context.Context, userID, modelName string, cursor int64, limit int) ([]storage.Record, int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var head int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM records`).Scan(&head); err != nil {
		return nil, 0, fmt.Errorf("failed to read feed head: %w", err)
	}

	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE user_id = ? AND model_name = ? AND seq > ? AND seq <= ?
		ORDER BY seq
		LIMIT ?
	`
	rows, err := tx.QueryContext(ctx, query, userID, modelName, cursor, head, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query changes: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, head, nil
}

// Head returns the seq of the latest change
func (s *Storage) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM records`).Scan(&head); err != nil {
		return 0, fmt.Errorf("failed to read feed head: %w", err)
	}
	return head, nil
}

func getRecord(ctx context.Context, q queryer, userID, modelName, id string) (*storage.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE user_id = ? AND model_name = ? AND id = ?
	`
	rec, err := scanRecord(q.QueryRowContext(ctx, query, userID, modelName, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]storage.Record, error) {
	defer func() {
		_ = rows.Close()
	}()

	records := make([]storage.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	rec := &storage.Record{}
	var payload []byte

	if err := row.Scan(
		&rec.UserID,
		&rec.ModelName,
		&rec.ID,
		&payload,
		&rec.Version,
		&rec.Deleted,
		&rec.LastChangedAt,
		&rec.Seq,
	); err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		rec.Payload = payload
	}
	return rec, nil
}

func nullPayload(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return p
}
