package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/credits"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain/jsoncfg"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/history"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/pricing"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/providers/enhance"
)

// ErrClosed is returned by Submit after Shutdown started.
var ErrClosed = errors.New("scheduler: shut down")

// ChargePolicy decides when a job's credits leave the account.
type ChargePolicy string

const (
	// ChargeOnSuccess debits after the result is stored; failures cost nothing.
	ChargeOnSuccess ChargePolicy = "on-success"
	// ChargeReserveUpfront reserves when the job starts and refunds on failure.
	ChargeReserveUpfront ChargePolicy = "reserve-upfront"
)

// Preprocessor shrinks a source image below a byte budget.
type Preprocessor interface {
	Compress(asset domain.SourceAsset, maxBytes int) (domain.SourceAsset, error)
}

// Deps are the collaborators every job runs through.
type Deps struct {
	Gate         *credits.Gate
	Pricing      *pricing.Table
	Preprocessor Preprocessor
	Enhancer     enhance.Client
	Storage      domain.ObjectStorage
	History      *history.Recorder
	Limiter      Limiter
}

// Options tunes the scheduler. Zero values pick defaults.
type Options struct {
	// ConcurrencyLimit is the number of jobs one account may have processing.
	ConcurrencyLimit int
	// WorkerPoolSize is the number of workers shared by every account;
	// it defaults to four times ConcurrencyLimit and is never below it.
	WorkerPoolSize         int
	ChargePolicy           ChargePolicy
	HaltOnInsufficient     bool
	PreprocessMaxBytes     int
	ArchiveFailedOriginals bool
	DefaultModel           string
	Logger                 zerolog.Logger
	Now                    func() time.Time
}

// Image is one uploaded picture of a submission.
type Image struct {
	ID            string
	Filename      string
	MIME          string
	Data          []byte
	PreviewHandle string
}

// Submission is a batch request.
type Submission struct {
	AccountID string
	Images    []Image
	Options   jsoncfg.EnhanceOptions
	// Reporter receives progress; nil discards it.
	Reporter Reporter
	// Context, when set, cancels the batch once done, as Cancel does.
	Context context.Context
	// Metadata is copied into every history record (client country, request id).
	Metadata map[string]any
}

// task is a job whose account slot is already held; release returns it.
type task struct {
	batch   *batch
	index   int
	release func()
}

// Scheduler runs enhancement batches on a fixed pool of workers shared by
// every batch. Account slots are taken by the batch dispatcher before a job
// reaches the pool, so a saturated account waits in its own dispatchers and
// never parks a shared worker.
type Scheduler struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	work chan task

	// runCtx bounds in-flight jobs; it is only cancelled when Shutdown
	// gives up waiting.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu          sync.Mutex
	closed      bool
	batches     map[string]*batch
	dispatchers sync.WaitGroup
	workers     sync.WaitGroup
}

// New validates deps and starts the worker pool.
func New(deps Deps, opts Options) (*Scheduler, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("scheduler: credit gate is required")
	case deps.Preprocessor == nil:
		return nil, errors.New("scheduler: preprocessor is required")
	case deps.Enhancer == nil:
		return nil, errors.New("scheduler: enhancement client is required")
	case deps.Storage == nil:
		return nil, errors.New("scheduler: object storage is required")
	case deps.History == nil:
		return nil, errors.New("scheduler: history recorder is required")
	}
	if deps.Pricing == nil {
		deps.Pricing = pricing.Default()
	}
	if opts.ConcurrencyLimit < 1 {
		opts.ConcurrencyLimit = 4
	}
	if opts.WorkerPoolSize < 1 {
		opts.WorkerPoolSize = 4 * opts.ConcurrencyLimit
	}
	if opts.WorkerPoolSize < opts.ConcurrencyLimit {
		opts.WorkerPoolSize = opts.ConcurrencyLimit
	}
	if deps.Limiter == nil {
		deps.Limiter = NewLocalLimiter(opts.ConcurrencyLimit)
	}
	switch opts.ChargePolicy {
	case "":
		opts.ChargePolicy = ChargeOnSuccess
	case ChargeOnSuccess, ChargeReserveUpfront:
	default:
		return nil, fmt.Errorf("scheduler: unknown charge policy %q", opts.ChargePolicy)
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = jsoncfg.DefaultModel
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		deps:      deps,
		opts:      opts,
		logger:    opts.Logger,
		work:      make(chan task),
		runCtx:    runCtx,
		cancelRun: cancel,
		batches:   make(map[string]*batch),
	}
	for i := 0; i < opts.WorkerPoolSize; i++ {
		s.workers.Add(1)
		go s.worker(i)
	}
	return s, nil
}

// Quote prices a batch of jobs at the resolution without submitting it.
func (s *Scheduler) Quote(res domain.Resolution, jobs int) (int64, error) {
	if jobs < 0 {
		return 0, &domain.ValidationError{Field: "images", Message: "must not be negative"}
	}
	per, err := s.deps.Pricing.Quote(res)
	if err != nil {
		return 0, err
	}
	return per * int64(jobs), nil
}

// Submit prices, admits and starts a batch. When the balance cannot cover the
// whole batch nothing is registered or charged and the returned error is a
// *domain.InsufficientCreditsError carrying the shortfall.
func (s *Scheduler) Submit(ctx context.Context, sub Submission) (Snapshot, error) {
	accountID := strings.TrimSpace(sub.AccountID)
	if accountID == "" {
		return Snapshot{}, &domain.ValidationError{Field: "account_id", Message: "is required"}
	}
	opts := sub.Options
	if opts.Model == "" {
		opts.Model = s.opts.DefaultModel
	}
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return Snapshot{}, err
	}
	perJob, err := s.deps.Pricing.Quote(opts.Resolution)
	if err != nil {
		return Snapshot{}, err
	}

	jobs := make([]domain.Job, len(sub.Images))
	var total int64
	for i, img := range sub.Images {
		if len(img.Data) == 0 {
			return Snapshot{}, &domain.ValidationError{Field: fmt.Sprintf("images[%d].data", i), Message: "is empty"}
		}
		jobs[i] = domain.Job{
			ID:       uuid.NewString(),
			SourceID: img.ID,
			Index:    i,
			Source: domain.SourceAsset{
				Filename: img.Filename,
				MIME:     img.MIME,
				Data:     img.Data,
			},
			PreviewHandle: img.PreviewHandle,
			Status:        domain.JobStatusPending,
			CreditsQuoted: perJob,
		}
		total += perJob
	}

	if err := s.deps.Gate.Require(ctx, accountID, total); err != nil {
		return Snapshot{}, err
	}

	reporter := sub.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	bctx, cancel := context.WithCancel(context.Background())
	b := &batch{
		id:               uuid.NewString(),
		accountID:        accountID,
		model:            opts.Model,
		resolution:       opts.Resolution,
		aspectRatio:      opts.AspectRatio,
		concurrencyLimit: s.opts.ConcurrencyLimit,
		totalCredits:     total,
		metadata:         copyMetadata(sub.Metadata),
		createdAt:        s.opts.Now(),
		reporter:         reporter,
		ctx:              bctx,
		cancel:           cancel,
		jobs:             jobs,
		summary:          domain.Summary{Pending: len(jobs)},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return Snapshot{}, ErrClosed
	}
	s.batches[b.id] = b
	s.dispatchers.Add(1)
	s.mu.Unlock()

	s.logger.Info().
		Str("batch_id", b.id).
		Str("account_id", accountID).
		Int("jobs", len(jobs)).
		Int64("credits", total).
		Str("resolution", string(opts.Resolution)).
		Msg("scheduler: batch admitted")

	if sub.Context != nil {
		stopWatch := context.AfterFunc(sub.Context, func() { b.stop(domain.ErrCancelled) })
		go func() {
			<-bctx.Done()
			stopWatch()
		}()
	}

	if len(jobs) == 0 {
		s.dispatchers.Done()
		b.completeIfEmpty(s.opts.Now())
		return b.snapshot(), nil
	}
	snap := b.snapshot()
	go s.dispatch(b)
	return snap, nil
}

// dispatch feeds the batch's jobs into the shared pool in submission order,
// taking the account slot for each job first. Once the batch stops, jobs not
// yet handed out fail without running.
func (s *Scheduler) dispatch(b *batch) {
	defer s.dispatchers.Done()
	for i := range b.jobs {
		if reason := b.stopped(); reason != nil {
			s.failRemaining(b, i, reason)
			return
		}
		release, err := s.deps.Limiter.Acquire(b.ctx, b.accountID)
		if err != nil {
			if reason := b.stopped(); reason != nil {
				err = reason
			} else {
				s.logger.Error().Err(err).Str("batch_id", b.id).Msg("scheduler: account slot unavailable")
			}
			s.failRemaining(b, i, err)
			return
		}
		if reason := b.stopped(); reason != nil {
			release()
			s.failRemaining(b, i, reason)
			return
		}
		select {
		case s.work <- task{batch: b, index: i, release: release}:
		case <-b.ctx.Done():
			release()
			s.failRemaining(b, i, b.stopped())
			return
		}
	}
}

func (s *Scheduler) failRemaining(b *batch, from int, reason error) {
	for i := from; i < len(b.jobs); i++ {
		s.failUnstarted(b, i, reason)
	}
}

// Get returns a snapshot of the batch.
func (s *Scheduler) Get(batchID string) (Snapshot, error) {
	b, err := s.lookup(batchID)
	if err != nil {
		return Snapshot{}, err
	}
	return b.snapshot(), nil
}

// List returns the account's batches, newest first.
func (s *Scheduler) List(accountID string) []Snapshot {
	s.mu.Lock()
	batches := make([]*batch, 0, len(s.batches))
	for _, b := range s.batches {
		if b.accountID == accountID {
			batches = append(batches, b)
		}
	}
	s.mu.Unlock()

	snaps := make([]Snapshot, 0, len(batches))
	for _, b := range batches {
		snaps = append(snaps, b.snapshot())
	}
	sortSnapshots(snaps)
	return snaps
}

// Cancel stops admitting the batch's jobs. Processing jobs finish; the rest
// fail with code "cancelled" and are not charged.
func (s *Scheduler) Cancel(batchID string) (Snapshot, error) {
	b, err := s.lookup(batchID)
	if err != nil {
		return Snapshot{}, err
	}
	if b.stop(domain.ErrCancelled) {
		s.logger.Info().Str("batch_id", batchID).Msg("scheduler: batch cancelled")
	}
	return b.snapshot(), nil
}

// Discard forgets a finished batch.
func (s *Scheduler) Discard(batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	if !b.done() {
		return domain.ErrBatchActive
	}
	b.cancel()
	delete(s.batches, batchID)
	return nil
}

// Balance is the account's current credit balance, for display.
func (s *Scheduler) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.deps.Gate.CurrentBalance(ctx, accountID)
}

// Shutdown stops admission, cancels every batch and waits for processing
// jobs. When ctx ends first, in-flight remote calls are aborted and their
// jobs fail; Shutdown still waits for them to be recorded.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	batches := make([]*batch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, b)
	}
	s.mu.Unlock()

	for _, b := range batches {
		b.stop(domain.ErrCancelled)
	}

	done := make(chan struct{})
	go func() {
		s.dispatchers.Wait()
		close(s.work)
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRun()
		return nil
	case <-ctx.Done():
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) lookup(batchID string) (*batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
