package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/sqlinline"
)

// HistoryRepositoryPG implements domain.HistoryStore on Postgres.
type HistoryRepositoryPG struct {
	db infra.SQLExecutor
}

// NewHistoryRepository creates a history store backed by the given executor.
func NewHistoryRepository(db infra.SQLExecutor) *HistoryRepositoryPG {
	return &HistoryRepositoryPG{db: db}
}

// Create inserts a record and returns its generated id.
func (r *HistoryRepositoryPG) Create(ctx context.Context, record *domain.HistoryRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("%w: history record is required", domain.ErrInvalidInput)
	}
	meta, err := marshalMetadata(record.Metadata)
	if err != nil {
		return "", err
	}
	var id string
	err = r.db.QueryRow(ctx, sqlinline.QInsertHistory,
		record.AccountID,
		record.BatchID,
		record.JobID,
		record.Model,
		string(record.Resolution),
		record.Credits,
		string(record.Status),
		meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

// Update moves a record to its terminal status.
func (r *HistoryRepositoryPG) Update(ctx context.Context, id string, update domain.HistoryUpdate) error {
	tag, err := r.db.Exec(ctx, sqlinline.QUpdateHistoryStatus, id, string(update.Status), update.ResultRef, update.ErrorRef)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get fetches one record.
func (r *HistoryRepositoryPG) Get(ctx context.Context, id string) (*domain.HistoryRecord, error) {
	record, err := scanHistory(r.db.QueryRow(ctx, sqlinline.QSelectHistoryByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select history: %w", err)
	}
	return record, nil
}

// ListByAccount returns the newest records of an account first.
func (r *HistoryRepositoryPG) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, sqlinline.QListHistoryByAccount, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		record, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

func scanHistory(row pgx.Row) (*domain.HistoryRecord, error) {
	var (
		rec        domain.HistoryRecord
		resolution string
		status     string
		meta       []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.BatchID,
		&rec.JobID,
		&rec.Model,
		&resolution,
		&rec.Credits,
		&status,
		&rec.ResultRef,
		&rec.ErrorRef,
		&meta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Resolution = domain.Resolution(resolution)
	rec.Status = domain.JobStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode history metadata: %w", err)
		}
	}
	return &rec, nil
}

func marshalMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode history metadata: %w", err)
	}
	return string(raw), nil
}

var _ domain.HistoryStore = (*HistoryRepositoryPG)(nil)
