package scheduler

import (
	"errors"
	"fmt"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/credits"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/history"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/providers/enhance"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/storage"
)

func (s *Scheduler) worker(n int) {
	defer s.workers.Done()
	for t := range s.work {
		s.runTask(t)
	}
	s.logger.Debug().Int("worker", n).Msg("scheduler: worker stopped")
}

// runTask holds the account slot taken by the dispatcher for the whole job,
// so every failure below is recorded and reported before it is released.
func (s *Scheduler) runTask(t task) {
	defer t.release()
	b, idx := t.batch, t.index
	if reason := b.stopped(); reason != nil {
		s.failUnstarted(b, idx, reason)
		return
	}
	s.process(b, idx)
}

// jobRun carries what one job accumulates on its way through the pipeline.
type jobRun struct {
	batch     *batch
	job       domain.Job
	historyID string
	reserved  bool
}

func (s *Scheduler) process(b *batch, idx int) {
	ctx := s.runCtx
	job := b.job(idx)
	if err := b.transition(idx, domain.JobStatusProcessing, nil, nil, s.opts.Now()); err != nil {
		s.logger.Error().Err(err).Str("batch_id", b.id).Msg("scheduler: refused transition")
		return
	}
	run := &jobRun{batch: b, job: job}
	log := s.logger.With().Str("batch_id", b.id).Str("job_id", job.ID).Int("index", idx).Logger()
	log.Debug().Msg("scheduler: job started")

	historyID, err := s.deps.History.Open(ctx, s.historyEntry(b, job))
	if err != nil {
		s.fail(run, err)
		return
	}
	run.historyID = historyID
	b.setHistoryID(idx, historyID)

	if s.opts.ChargePolicy == ChargeReserveUpfront {
		if _, err := s.deps.Gate.Reserve(ctx, b.accountID, job.CreditsQuoted, credits.Description("reserve", b.id, job.ID)); err != nil {
			s.fail(run, err)
			return
		}
		run.reserved = true
	}

	source, err := s.deps.Preprocessor.Compress(job.Source, s.opts.PreprocessMaxBytes)
	if err != nil {
		s.fail(run, fmt.Errorf("preprocess: %w", err))
		return
	}

	enhanced, err := s.deps.Enhancer.Enhance(ctx, enhance.Request{
		Asset:       source,
		Model:       b.model,
		Resolution:  b.resolution,
		AspectRatio: b.aspectRatio,
		RequestID:   job.ID,
	})
	if err != nil {
		s.fail(run, err)
		return
	}

	key := storage.ResultKey(b.accountID, b.id, job.ID) + storage.ExtensionFor(enhanced.MIME)
	url, err := s.deps.Storage.Upload(ctx, key, enhanced.Data, enhanced.MIME)
	if err != nil {
		if !errors.Is(err, domain.ErrStorageFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
		}
		s.fail(run, err)
		return
	}

	if !run.reserved {
		if _, err := s.deps.Gate.Debit(ctx, b.accountID, job.CreditsQuoted, credits.Description("consume", b.id, job.ID)); err != nil {
			s.fail(run, err)
			return
		}
	}

	if err := s.deps.History.Succeed(ctx, historyID, url); err != nil {
		// The credits are spent and the result exists; the job stands.
		log.Error().Err(err).Str("history_id", historyID).Msg("scheduler: history update after charge failed")
	}

	result := &domain.ResultAsset{
		URL:        url,
		StorageKey: key,
		MIME:       enhanced.MIME,
		Width:      enhanced.Width,
		Height:     enhanced.Height,
		Bytes:      int64(len(enhanced.Data)),
	}
	if err := b.transition(idx, domain.JobStatusSuccess, result, nil, s.opts.Now()); err != nil {
		log.Error().Err(err).Msg("scheduler: refused transition")
		return
	}
	log.Info().Int64("credits", job.CreditsQuoted).Str("url", url).Msg("scheduler: job succeeded")
}

// fail finishes a started job: the reservation is returned, the original is
// optionally archived, history is closed and the failure reported.
func (s *Scheduler) fail(run *jobRun, cause error) {
	ctx := s.runCtx
	b, job := run.batch, run.job
	jobErr := domain.NewJobError(cause)
	log := s.logger.With().Str("batch_id", b.id).Str("job_id", job.ID).Int("index", job.Index).Logger()

	if run.reserved {
		if ok, err := s.deps.Gate.Refund(ctx, b.accountID, job.CreditsQuoted, credits.Description("refund", b.id, job.ID)); err != nil || !ok {
			log.Error().Err(err).Int64("credits", job.CreditsQuoted).Msg("scheduler: refund of reservation failed")
		}
	}

	if s.opts.ArchiveFailedOriginals && len(job.Source.Data) > 0 {
		key := storage.OriginalKey(b.accountID, b.id, job.ID)
		if _, err := s.deps.Storage.Upload(ctx, key, job.Source.Data, job.Source.MIME); err != nil {
			log.Warn().Err(err).Msg("scheduler: archiving original failed")
		}
	}

	if run.historyID != "" {
		if err := s.deps.History.Fail(ctx, run.historyID, jobErr); err != nil {
			log.Error().Err(err).Msg("scheduler: history update failed")
		}
	}

	if errors.Is(cause, domain.ErrLedgerDebitRace) && s.opts.HaltOnInsufficient {
		var shortfall *domain.InsufficientCreditsError
		reason := error(&domain.InsufficientCreditsError{Needed: job.CreditsQuoted})
		if errors.As(cause, &shortfall) {
			reason = &domain.InsufficientCreditsError{Needed: shortfall.Needed, Balance: shortfall.Balance}
		}
		if b.stop(reason) {
			log.Warn().Msg("scheduler: batch halted after ledger rejected a debit")
		}
	}

	if err := b.transition(job.Index, domain.JobStatusFailed, nil, jobErr, s.opts.Now()); err != nil {
		log.Error().Err(err).Msg("scheduler: refused transition")
		return
	}
	log.Warn().Str("code", jobErr.Code).Err(cause).Msg("scheduler: job failed")
}

// failUnstarted fails a job that never reached processing. It still gets a
// full history record so the audit trail covers every submitted image.
func (s *Scheduler) failUnstarted(b *batch, idx int, reason error) {
	if reason == nil {
		reason = domain.ErrCancelled
	}
	ctx := s.runCtx
	job := b.job(idx)
	jobErr := domain.NewJobError(reason)
	log := s.logger.With().Str("batch_id", b.id).Str("job_id", job.ID).Int("index", idx).Logger()

	historyID, err := s.deps.History.Open(ctx, s.historyEntry(b, job))
	if err != nil {
		log.Error().Err(err).Msg("scheduler: history create for unstarted job failed")
	} else {
		b.setHistoryID(idx, historyID)
		if err := s.deps.History.Fail(ctx, historyID, jobErr); err != nil {
			log.Error().Err(err).Msg("scheduler: history update for unstarted job failed")
		}
	}

	if err := b.transition(idx, domain.JobStatusFailed, nil, jobErr, s.opts.Now()); err != nil {
		log.Error().Err(err).Msg("scheduler: refused transition")
		return
	}
	log.Info().Str("code", jobErr.Code).Msg("scheduler: job not started")
}

func (s *Scheduler) historyEntry(b *batch, job domain.Job) history.Entry {
	meta := make(map[string]any, len(b.metadata)+2)
	for k, v := range b.metadata {
		meta[k] = v
	}
	if job.Source.Filename != "" {
		meta["filename"] = job.Source.Filename
	}
	if job.SourceID != "" {
		meta["source_id"] = job.SourceID
	}
	return history.Entry{
		AccountID:  b.accountID,
		BatchID:    b.id,
		JobID:      job.ID,
		Model:      b.model,
		Resolution: b.resolution,
		Credits:    job.CreditsQuoted,
		Metadata:   meta,
	}
}
