package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// Entry describes the job a history record is opened for.
type Entry struct {
	AccountID  string
	BatchID    string
	JobID      string
	Model      string
	Resolution domain.Resolution
	Credits    int64
	Metadata   map[string]any
}

// Recorder keeps one history record per job: it is opened pending and closed
// exactly once with a terminal status.
type Recorder struct {
	store  domain.HistoryStore
	logger zerolog.Logger
}

// NewRecorder wraps a history store.
func NewRecorder(store domain.HistoryStore, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Open creates the pending record and returns its id.
func (r *Recorder) Open(ctx context.Context, e Entry) (string, error) {
	id, err := r.store.Create(ctx, &domain.HistoryRecord{
		AccountID:  e.AccountID,
		BatchID:    e.BatchID,
		JobID:      e.JobID,
		Model:      e.Model,
		Resolution: e.Resolution,
		Credits:    e.Credits,
		Status:     domain.JobStatusPending,
		Metadata:   e.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create: %w", domain.ErrHistoryFailure, err)
	}
	return id, nil
}

// Succeed closes the record with the result reference.
func (r *Recorder) Succeed(ctx context.Context, id, resultRef string) error {
	return r.close(ctx, id, domain.HistoryUpdate{Status: domain.JobStatusSuccess, ResultRef: resultRef})
}

// Fail closes the record with the failure reason.
func (r *Recorder) Fail(ctx context.Context, id string, jobErr *domain.JobError) error {
	return r.close(ctx, id, domain.HistoryUpdate{Status: domain.JobStatusFailed, ErrorRef: ErrorRef(jobErr)})
}

// Recent lists the newest records of an account.
func (r *Recorder) Recent(ctx context.Context, accountID string, limit int) ([]domain.HistoryRecord, error) {
	records, err := r.store.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", domain.ErrHistoryFailure, err)
	}
	return records, nil
}

func (r *Recorder) close(ctx context.Context, id string, update domain.HistoryUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: record was never opened", domain.ErrHistoryFailure)
	}
	if err := r.store.Update(ctx, id, update); err != nil {
		r.logger.Error().Err(err).Str("history_id", id).Str("status", string(update.Status)).Msg("history: update failed")
		return fmt.Errorf("%w: update: %w", domain.ErrHistoryFailure, err)
	}
	return nil
}

// ErrorRef renders a job error as "code: message" for the audit trail.
func ErrorRef(jobErr *domain.JobError) string {
	if jobErr == nil {
		return ""
	}
	msg := strings.TrimSpace(jobErr.Message)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if msg == "" {
		return jobErr.Code
	}
	return jobErr.Code + ": " + msg
}
