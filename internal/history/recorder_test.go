package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

type stubStore struct {
	created   []*domain.HistoryRecord
	updates   map[string]domain.HistoryUpdate
	createErr error
	updateErr error
}

func (s *stubStore) Create(_ context.Context, rec *domain.HistoryRecord) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, rec)
	return "h-" + rec.JobID, nil
}

func (s *stubStore) Update(_ context.Context, id string, u domain.HistoryUpdate) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.updates == nil {
		s.updates = map[string]domain.HistoryUpdate{}
	}
	s.updates[id] = u
	return nil
}

func (s *stubStore) Get(context.Context, string) (*domain.HistoryRecord, error) {
	return nil, domain.ErrNotFound
}

func (s *stubStore) ListByAccount(context.Context, string, int) ([]domain.HistoryRecord, error) {
	return nil, nil
}

func TestRecorderOpenAndSucceed(t *testing.T) {
	store := &stubStore{}
	rec := NewRecorder(store, zerolog.Nop())

	id, err := rec.Open(context.Background(), Entry{AccountID: "a", JobID: "j1", Credits: 24, Resolution: domain.Resolution2K})
	if err != nil || id != "h-j1" {
		t.Fatalf("Open = %q, %v", id, err)
	}
	if store.created[0].Status != domain.JobStatusPending || store.created[0].Credits != 24 {
		t.Fatalf("unexpected record %+v", store.created[0])
	}
	if err := rec.Succeed(context.Background(), id, "https://cdn/x.jpg"); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if got := store.updates[id]; got.Status != domain.JobStatusSuccess || got.ResultRef != "https://cdn/x.jpg" {
		t.Fatalf("unexpected update %+v", got)
	}
}

func TestRecorderFailRecordsReason(t *testing.T) {
	store := &stubStore{}
	rec := NewRecorder(store, zerolog.Nop())
	err := rec.Fail(context.Background(), "h-1", &domain.JobError{Code: domain.CodeRemoteRejected, Message: "content policy"})
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got := store.updates["h-1"]; got.Status != domain.JobStatusFailed || got.ErrorRef != "remote_rejected: content policy" {
		t.Fatalf("unexpected update %+v", got)
	}
}

func TestRecorderWrapsStoreErrors(t *testing.T) {
	rec := NewRecorder(&stubStore{createErr: errors.New("db down"), updateErr: errors.New("db down")}, zerolog.Nop())
	if _, err := rec.Open(context.Background(), Entry{}); !errors.Is(err, domain.ErrHistoryFailure) {
		t.Fatalf("expected ErrHistoryFailure, got %v", err)
	}
	if err := rec.Succeed(context.Background(), "h", "u"); !errors.Is(err, domain.ErrHistoryFailure) {
		t.Fatalf("expected ErrHistoryFailure, got %v", err)
	}
	if err := rec.Fail(context.Background(), "", nil); !errors.Is(err, domain.ErrHistoryFailure) {
		t.Fatalf("expected ErrHistoryFailure for unopened record, got %v", err)
	}
}

func TestErrorRef(t *testing.T) {
	if got := ErrorRef(nil); got != "" {
		t.Fatalf("ErrorRef(nil) = %q", got)
	}
	if got := ErrorRef(&domain.JobError{Code: "cancelled"}); got != "cancelled" {
		t.Fatalf("ErrorRef = %q", got)
	}
	long := ErrorRef(&domain.JobError{Code: "internal", Message: strings.Repeat("x", 900)})
	if len(long) != len("internal: ")+500 {
		t.Fatalf("message not truncated: %d", len(long))
	}
}
