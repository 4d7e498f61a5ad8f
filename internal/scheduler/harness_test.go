package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/credits"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/history"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/providers/enhance"
)

// passthrough accepts anything except payloads starting with "bad".
type passthrough struct{}

func (passthrough) Compress(asset domain.SourceAsset, _ int) (domain.SourceAsset, error) {
	if bytes.HasPrefix(asset.Data, []byte("bad")) {
		return asset, domain.ErrInvalidImage
	}
	return asset, nil
}

// stubEnhancer records peak concurrency and fails images by filename.
type stubEnhancer struct {
	delay    time.Duration
	failures map[string]error
	gate     chan struct{}
	hook     func(req enhance.Request)

	mu      sync.Mutex
	calls   int
	current int
	peak    int
}

func (e *stubEnhancer) Enhance(ctx context.Context, req enhance.Request) (*enhance.EnhancedAsset, error) {
	e.mu.Lock()
	e.calls++
	e.current++
	if e.current > e.peak {
		e.peak = e.current
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.current--
		e.mu.Unlock()
	}()

	if e.hook != nil {
		e.hook(req)
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, enhance.Transient(0, "aborted", ctx.Err())
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if err := e.failures[req.Asset.Filename]; err != nil {
		return nil, err
	}
	return &enhance.EnhancedAsset{Data: []byte("enhanced:" + req.Asset.Filename), MIME: "image/jpeg", Width: 2048, Height: 1536}, nil
}

func (e *stubEnhancer) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *stubEnhancer) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (m *memStorage) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.fail {
		return "", errors.New("bucket unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (m *memStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// historyCalls counts store calls per job.
type historyCalls struct {
	mu        sync.Mutex
	byJob     map[string]int
	records   map[string]*domain.HistoryRecord
	failAfter bool
}

func newHistoryCalls() *historyCalls {
	return &historyCalls{byJob: map[string]int{}, records: map[string]*domain.HistoryRecord{}}
}

func (h *historyCalls) Create(_ context.Context, rec *domain.HistoryRecord) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := rec.JobID
	cp := *rec
	h.records[id] = &cp
	h.byJob[rec.JobID]++
	return id, nil
}

func (h *historyCalls) Update(_ context.Context, id string, u domain.HistoryUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byJob[id]++
	if h.failAfter && u.Status == domain.JobStatusSuccess {
		return errors.New("history db down")
	}
	rec := h.records[id]
	rec.Status = u.Status
	rec.ResultRef = u.ResultRef
	rec.ErrorRef = u.ErrorRef
	return nil
}

func (h *historyCalls) Get(_ context.Context, id string) (*domain.HistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (h *historyCalls) ListByAccount(context.Context, string, int) ([]domain.HistoryRecord, error) {
	return nil, nil
}

func (h *historyCalls) calls(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byJob[jobID]
}

func (h *historyCalls) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.byJob {
		n += c
	}
	return n
}

type fixture struct {
	sched    *Scheduler
	ledger   *credits.MemoryLedger
	enhancer *stubEnhancer
	storage  *memStorage
	history  *historyCalls
}

func newFixture(t *testing.T, seed int64, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   credits.NewMemoryLedger(seed),
		enhancer: &stubEnhancer{},
		storage:  &memStorage{},
		history:  newHistoryCalls(),
	}
	opts.Logger = zerolog.Nop()
	sched, err := New(Deps{
		Gate:         credits.NewGate(f.ledger, zerolog.Nop()),
		Preprocessor: passthrough{},
		Enhancer:     f.enhancer,
		Storage:      f.storage,
		History:      history.NewRecorder(f.history, zerolog.Nop()),
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sched = sched
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	return f
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

// recorder collects every report of one batch.
type recorder struct {
	mu        sync.Mutex
	progress  []Snapshot
	completes int32
	final     Snapshot
	done      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) OnProgress(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, s)
}

func (r *recorder) OnComplete(s Snapshot) {
	if atomic.AddInt32(&r.completes, 1) == 1 {
		r.mu.Lock()
		r.final = s
		r.mu.Unlock()
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) Snapshot {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("batch did not complete")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

func images(names ...string) []Image {
	out := make([]Image, len(names))
	for i, n := range names {
		out[i] = Image{ID: "upload-" + n, Filename: n, MIME: "image/png", Data: []byte("png:" + n)}
	}
	return out
}
