package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// HistoryStore implements domain.HistoryStore on an embedded SQLite file for
// single-node deployments without Postgres.
type HistoryStore struct {
	db *sqlx.DB
}

type historyRow struct {
	ID         string `db:"id"`
	AccountID  string `db:"account_id"`
	BatchID    string `db:"batch_id"`
	JobID      string `db:"job_id"`
	Model      string `db:"model"`
	Resolution string `db:"resolution"`
	Credits    int64  `db:"credits"`
	Status     string `db:"status"`
	ResultRef  string `db:"result_ref"`
	ErrorRef   string `db:"error_ref"`
	Metadata   string `db:"metadata_json"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

const historyColumns = `id, account_id, batch_id, job_id, model, resolution, credits, status, result_ref, error_ref, metadata_json, created_at, updated_at`

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*HistoryStore, error) {
	// Busy timeout keeps concurrent workers from failing on SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection queues workers in-process.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

func migrate(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS enhancement_history (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		model TEXT NOT NULL,
		resolution TEXT NOT NULL,
		credits INTEGER NOT NULL,
		status TEXT NOT NULL,
		result_ref TEXT NOT NULL DEFAULT '',
		error_ref TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS enhancement_history_account_idx ON enhancement_history(account_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) Create(ctx context.Context, record *domain.HistoryRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("%w: history record is required", domain.ErrInvalidInput)
	}
	meta := "{}"
	if len(record.Metadata) > 0 {
		b, err := json.Marshal(record.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enhancement_history (`+historyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, ?)`,
		id, record.AccountID, record.BatchID, record.JobID, record.Model, string(record.Resolution),
		record.Credits, string(record.Status), meta, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

func (s *HistoryStore) Update(ctx context.Context, id string, update domain.HistoryUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enhancement_history
		 SET status = ?, result_ref = ?, error_ref = ?, updated_at = ?
		 WHERE id = ?`,
		string(update.Status), update.ResultRef, update.ErrorRef, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, id string) (*domain.HistoryRecord, error) {
	var row historyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+historyColumns+` FROM enhancement_history WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get history %s: %w", id, err)
	}
	return row.toDomain()
}

func (s *HistoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+historyColumns+` FROM enhancement_history
		 WHERE account_id = ?
		 ORDER BY created_at DESC, id
		 LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]domain.HistoryRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r historyRow) toDomain() (*domain.HistoryRecord, error) {
	rec := &domain.HistoryRecord{
		ID:         r.ID,
		AccountID:  r.AccountID,
		BatchID:    r.BatchID,
		JobID:      r.JobID,
		Model:      r.Model,
		Resolution: domain.Resolution(r.Resolution),
		Credits:    r.Credits,
		Status:     domain.JobStatus(r.Status),
		ResultRef:  r.ResultRef,
		ErrorRef:   r.ErrorRef,
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

var _ domain.HistoryStore = (*HistoryStore)(nil)
