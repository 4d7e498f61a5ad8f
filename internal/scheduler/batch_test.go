package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

func newTestBatch(n int, rep Reporter) *batch {
	ctx, cancel := context.WithCancel(context.Background())
	jobs := make([]domain.Job, n)
	for i := range jobs {
		jobs[i] = domain.Job{ID: string(rune('a' + i)), Index: i, Status: domain.JobStatusPending, CreditsQuoted: 12}
	}
	return &batch{
		id:       "batch",
		reporter: rep,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     jobs,
		summary:  domain.Summary{Pending: n},
	}
}

func TestTransitionRefusesIllegalMoves(t *testing.T) {
	b := newTestBatch(1, nopReporter{})
	now := time.Now()
	if err := b.transition(0, domain.JobStatusSuccess, nil, nil, now); err == nil {
		t.Fatalf("pending -> success must be refused")
	}
	if err := b.transition(0, domain.JobStatusProcessing, nil, nil, now); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if err := b.transition(0, domain.JobStatusSuccess, &domain.ResultAsset{URL: "u"}, nil, now); err != nil {
		t.Fatalf("processing -> success: %v", err)
	}
	if err := b.transition(0, domain.JobStatusFailed, nil, &domain.JobError{Code: "x"}, now); err == nil {
		t.Fatalf("terminal job must not move")
	}
	snap := b.snapshot()
	if snap.Jobs[0].Status != domain.JobStatusSuccess || snap.Jobs[0].Error != nil {
		t.Fatalf("terminal job changed: %+v", snap.Jobs[0])
	}
	if snap.Summary.Success != 1 || snap.Summary.Total() != 1 || snap.Summary.CreditsCharged != 12 {
		t.Fatalf("unexpected summary %+v", snap.Summary)
	}
}

func TestStopFirstReasonWins(t *testing.T) {
	b := newTestBatch(2, nopReporter{})
	if b.stopped() != nil {
		t.Fatalf("fresh batch reports stopped")
	}
	if !b.stop(&domain.InsufficientCreditsError{Needed: 12}) {
		t.Fatalf("first stop ignored")
	}
	if b.stop(domain.ErrCancelled) {
		t.Fatalf("second stop accepted")
	}
	snap := b.snapshot()
	if !snap.Halted || snap.Cancelled {
		t.Fatalf("unexpected flags %+v", snap)
	}
	var shortfall *domain.InsufficientCreditsError
	if !errors.As(b.stopped(), &shortfall) {
		t.Fatalf("unexpected stop reason %v", b.stopped())
	}
}

func TestStopAfterCompletionIsNoop(t *testing.T) {
	b := newTestBatch(1, nopReporter{})
	now := time.Now()
	_ = b.transition(0, domain.JobStatusFailed, nil, &domain.JobError{Code: domain.CodeCancelled}, now)
	if b.stop(domain.ErrCancelled) {
		t.Fatalf("completed batch accepted stop")
	}
	if b.snapshot().Cancelled {
		t.Fatalf("completed batch flagged cancelled")
	}
	if b.stopped() != nil {
		t.Fatalf("completed batch reports a stop reason")
	}
}

func TestSortSnapshotsNewestFirst(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	snaps := []Snapshot{
		{BatchID: "old", CreatedAt: base},
		{BatchID: "new", CreatedAt: base.Add(time.Minute)},
		{BatchID: "b", CreatedAt: base.Add(time.Second)},
		{BatchID: "a", CreatedAt: base.Add(time.Second)},
	}
	sortSnapshots(snaps)
	want := []string{"new", "a", "b", "old"}
	for i, id := range want {
		if snaps[i].BatchID != id {
			t.Fatalf("position %d: got %s, want %s", i, snaps[i].BatchID, id)
		}
	}
}
