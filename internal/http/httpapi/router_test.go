package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/adapter/sqlitestore"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/credits"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/history"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/http/handlers"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/middleware"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/preprocess"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/providers/enhance"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/scheduler"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/storage"
)

const testSecret = "router-secret"

type server struct {
	handler http.Handler
	sched   *scheduler.Scheduler
}

func newServer(t *testing.T, seed int64) *server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	historyStore, err := sqlitestore.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = historyStore.Close() })

	logger := zerolog.Nop()
	recorder := history.NewRecorder(historyStore, logger)
	sched, err := scheduler.New(scheduler.Deps{
		Gate:         credits.NewGate(credits.NewMemoryLedger(seed), logger),
		Preprocessor: preprocess.NewCompressor(preprocess.Options{}),
		Enhancer:     enhance.NewSyntheticClient(0, nil),
		Storage:      storage.NewUploader(store, "http://test/static"),
		History:      recorder,
	}, scheduler.Options{ConcurrencyLimit: 2, Logger: logger})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	app := handlers.NewApp(handlers.App{
		Config:  &infra.Config{MaxBatchSize: 5, MaxUploadBytes: 1 << 20},
		Batches: sched,
		History: recorder,
		Results: store,
		Logger:  logger,
	})
	return &server{
		handler: NewRouter(app, Options{JWTSecret: testSecret, StoragePath: store.BasePath(), Logger: logger}),
		sched:   sched,
	}
}

func (s *server) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "198.51.100.7:5555"
	if account != "" {
		token, err := middleware.MintToken(testSecret, account, time.Hour)
		if err != nil {
			t.Fatalf("MintToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func waitDone(t *testing.T, s *server, batchID string) scheduler.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := s.sched.Get(batchID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if snap.Done {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not finish", batchID)
	return scheduler.Snapshot{}
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	s := newServer(t, 100)
	data := pngBase64(t)

	rec := s.do(t, http.MethodPost, "/v1/batches", "acct-1", map[string]any{
		"resolution": "2k",
		"images": []map[string]any{
			{"id": "u1", "filename": "one.png", "mime": "image/png", "data": data},
			{"id": "u2", "filename": "two.png", "mime": "image/png", "data": data},
			{"id": "u3", "filename": "three.png", "mime": "image/png", "data": data},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", rec.Code, rec.Body)
	}
	var submitted scheduler.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if submitted.TotalCredits != 72 || len(submitted.Jobs) != 3 {
		t.Fatalf("unexpected snapshot %+v", submitted)
	}

	final := waitDone(t, s, submitted.BatchID)
	if final.Summary.Success != 3 || final.Summary.CreditsCharged != 72 {
		t.Fatalf("unexpected summary %+v", final.Summary)
	}

	rec = s.do(t, http.MethodGet, "/v1/credits", "acct-1", nil)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &balance)
	if rec.Code != http.StatusOK || balance.Balance != 28 {
		t.Fatalf("credits = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/v1/batches/"+submitted.BatchID, "acct-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/v1/batches/"+submitted.BatchID, "acct-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign account saw batch: %d", rec.Code)
	}

	resultURL := final.Jobs[0].Result.URL
	staticPath := strings.TrimPrefix(resultURL, "http://test")
	rec = s.do(t, http.MethodGet, staticPath, "", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("static result %s: %d", staticPath, rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/static/results/", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("directory listing exposed: %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/v1/batches/"+submitted.BatchID+"/archive", "acct-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d", rec.Code)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil || len(zr.File) != 3 {
		t.Fatalf("archive has %v entries, err %v", zr, err)
	}
	if zr.File[0].Name != "001-one-enhanced.jpg" {
		t.Fatalf("unexpected archive entry %q", zr.File[0].Name)
	}

	rec = s.do(t, http.MethodGet, "/v1/history?limit=10", "acct-1", nil)
	var hist struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &hist)
	if rec.Code != http.StatusOK || len(hist.Items) != 3 {
		t.Fatalf("history = %d %s", rec.Code, rec.Body)
	}
	if hist.Items[0]["status"] != "success" {
		t.Fatalf("unexpected history item %+v", hist.Items[0])
	}

	rec = s.do(t, http.MethodDelete, "/v1/batches/"+submitted.BatchID, "acct-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/v1/batches", "acct-1", nil)
	var list struct {
		Items []scheduler.Snapshot `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Items) != 0 {
		t.Fatalf("discarded batch still listed")
	}
}

func TestInsufficientCreditsOverHTTP(t *testing.T) {
	s := newServer(t, 10)
	data := pngBase64(t)
	rec := s.do(t, http.MethodPost, "/v1/batches", "acct-1", map[string]any{
		"resolution": "2k",
		"images": []map[string]any{
			{"filename": "a.png", "data": data},
			{"filename": "b.png", "data": data},
			{"filename": "c.png", "data": data},
		},
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var body struct {
		Error struct {
			Code      string `json:"code"`
			Shortfall int64  `json:"shortfall"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "insufficient_credits" || body.Error.Shortfall != 62 {
		t.Fatalf("unexpected error body %s", rec.Body)
	}
	if got := s.sched.List("acct-1"); len(got) != 0 {
		t.Fatalf("rejected batch registered")
	}
}

func TestPublicAndProtectedRoutes(t *testing.T) {
	s := newServer(t, 0)
	if rec := s.do(t, http.MethodGet, "/v1/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/v1/pricing", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"credits":24`) {
		t.Fatalf("pricing = %d %s", rec.Code, rec.Body)
	}
	for _, path := range []string{"/v1/credits", "/v1/batches", "/v1/history"} {
		if rec := s.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token = %d", path, rec.Code)
		}
	}
}
