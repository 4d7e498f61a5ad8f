package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// JobView is the read-only projection of a job handed to callers.
type JobView struct {
	ID            string              `json:"id"`
	SourceID      string              `json:"source_id,omitempty"`
	Index         int                 `json:"index"`
	Filename      string              `json:"filename,omitempty"`
	PreviewHandle string              `json:"preview_handle,omitempty"`
	Status        domain.JobStatus    `json:"status"`
	Credits       int64               `json:"credits"`
	Result        *domain.ResultAsset `json:"result,omitempty"`
	Error         *domain.JobError    `json:"error,omitempty"`
	HistoryID     string              `json:"history_id,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// Snapshot is a consistent copy of a batch at one instant.
type Snapshot struct {
	BatchID          string            `json:"id"`
	AccountID        string            `json:"account_id"`
	Model            string            `json:"model"`
	Resolution       domain.Resolution `json:"resolution"`
	AspectRatio      string            `json:"aspect_ratio"`
	ConcurrencyLimit int               `json:"concurrency_limit"`
	TotalCredits     int64             `json:"total_credits"`
	Jobs             []JobView         `json:"jobs"`
	Summary          domain.Summary    `json:"summary"`
	Cancelled        bool              `json:"cancelled"`
	Halted           bool              `json:"halted"`
	Done             bool              `json:"done"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	// Changed is the index of the job whose transition produced this
	// snapshot, or -1.
	Changed int `json:"-"`
}

// batch owns the job list of one submission. Jobs are mutated one index at a
// time under mu; reportMu serializes reporter calls so they observe
// transitions in order.
type batch struct {
	id               string
	accountID        string
	model            string
	resolution       domain.Resolution
	aspectRatio      string
	concurrencyLimit int
	totalCredits     int64
	metadata         map[string]any
	createdAt        time.Time
	reporter         Reporter

	// ctx is cancelled when the batch stops admitting jobs or completes.
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
	stopReason error

	mu          sync.Mutex
	jobs        []domain.Job
	summary     domain.Summary
	cancelled   bool
	halted      bool
	completedAt *time.Time

	reportMu       sync.Mutex
	completionSent bool
}

// stop ends admission. The first reason wins: ErrCancelled for Cancel, an
// *InsufficientCreditsError when the ledger rejected a debit.
func (b *batch) stop(reason error) bool {
	stopped := false
	b.stopOnce.Do(func() {
		b.mu.Lock()
		if b.summary.Done() {
			b.mu.Unlock()
			return
		}
		b.stopReason = reason
		var insufficient *domain.InsufficientCreditsError
		if errors.As(reason, &insufficient) {
			b.halted = true
		} else {
			b.cancelled = true
		}
		b.mu.Unlock()
		b.cancel()
		stopped = true
	})
	return stopped
}

// stopped returns the stop reason, or nil while the batch still admits jobs.
func (b *batch) stopped() error {
	select {
	case <-b.ctx.Done():
	default:
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopReason
}

// job returns a copy of the job at idx.
func (b *batch) job(idx int) domain.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobs[idx]
}

func (b *batch) setHistoryID(idx int, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.jobs[idx].HistoryID == "" {
		b.jobs[idx].HistoryID = id
	}
}

// transition moves job idx to next and reports it. Illegal transitions are
// refused and leave the job untouched.
func (b *batch) transition(idx int, next domain.JobStatus, result *domain.ResultAsset, jobErr *domain.JobError, now time.Time) error {
	b.reportMu.Lock()
	defer b.reportMu.Unlock()

	b.mu.Lock()
	job := &b.jobs[idx]
	if !job.Status.CanTransition(next) {
		prev := job.Status
		b.mu.Unlock()
		return fmt.Errorf("job %s: illegal transition %s -> %s", job.ID, prev, next)
	}
	b.count(job.Status, -1)
	b.count(next, 1)
	job.Status = next
	switch next {
	case domain.JobStatusProcessing:
		job.StartedAt = &now
	case domain.JobStatusSuccess:
		job.Result = result
		job.CompletedAt = &now
		job.Source.Data = nil
		b.summary.CreditsCharged += job.CreditsQuoted
	case domain.JobStatusFailed:
		job.Error = jobErr
		job.CompletedAt = &now
		job.Source.Data = nil
	}
	done := b.summary.Done()
	if done && b.completedAt == nil {
		b.completedAt = &now
	}
	snap := b.snapshotLocked(idx)
	b.mu.Unlock()

	b.reporter.OnProgress(snap)
	if done {
		b.completeLocked(snap)
	}
	return nil
}

// completeIfEmpty finishes a batch that never had jobs.
func (b *batch) completeIfEmpty(now time.Time) {
	b.reportMu.Lock()
	defer b.reportMu.Unlock()
	b.mu.Lock()
	if len(b.jobs) > 0 {
		b.mu.Unlock()
		return
	}
	b.completedAt = &now
	snap := b.snapshotLocked(-1)
	b.mu.Unlock()
	b.completeLocked(snap)
}

// completeLocked fires OnComplete once. Callers hold reportMu.
func (b *batch) completeLocked(snap Snapshot) {
	if b.completionSent {
		return
	}
	b.completionSent = true
	snap.Changed = -1
	b.reporter.OnComplete(snap)
	// Releases the submit-context watcher; stopped() keeps reporting nil.
	b.cancel()
}

func (b *batch) count(status domain.JobStatus, delta int) {
	switch status {
	case domain.JobStatusPending:
		b.summary.Pending += delta
	case domain.JobStatusProcessing:
		b.summary.Processing += delta
	case domain.JobStatusSuccess:
		b.summary.Success += delta
	case domain.JobStatusFailed:
		b.summary.Failed += delta
	}
}

func (b *batch) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(-1)
}

func (b *batch) done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary.Done()
}

func (b *batch) snapshotLocked(changed int) Snapshot {
	views := make([]JobView, len(b.jobs))
	for i, j := range b.jobs {
		views[i] = JobView{
			ID:            j.ID,
			SourceID:      j.SourceID,
			Index:         j.Index,
			Filename:      j.Source.Filename,
			PreviewHandle: j.PreviewHandle,
			Status:        j.Status,
			Credits:       j.CreditsQuoted,
			HistoryID:     j.HistoryID,
			StartedAt:     j.StartedAt,
			CompletedAt:   j.CompletedAt,
		}
		if j.Result != nil {
			r := *j.Result
			views[i].Result = &r
		}
		if j.Error != nil {
			e := *j.Error
			views[i].Error = &e
		}
	}
	return Snapshot{
		BatchID:          b.id,
		AccountID:        b.accountID,
		Model:            b.model,
		Resolution:       b.resolution,
		AspectRatio:      b.aspectRatio,
		ConcurrencyLimit: b.concurrencyLimit,
		TotalCredits:     b.totalCredits,
		Jobs:             views,
		Summary:          b.summary,
		Cancelled:        b.cancelled,
		Halted:           b.halted,
		Done:             b.summary.Done(),
		CreatedAt:        b.createdAt,
		CompletedAt:      b.completedAt,
		Changed:          changed,
	}
}

// sortSnapshots orders newest first.
func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].BatchID < snaps[j].BatchID
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
}
