package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra/geoip"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/middleware"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/pricing"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/scheduler"
)

// BatchService is the scheduler surface the handlers use.
type BatchService interface {
	Submit(ctx context.Context, sub scheduler.Submission) (scheduler.Snapshot, error)
	Quote(res domain.Resolution, jobs int) (int64, error)
	Get(batchID string) (scheduler.Snapshot, error)
	List(accountID string) []scheduler.Snapshot
	Cancel(batchID string) (scheduler.Snapshot, error)
	Discard(batchID string) error
	Balance(ctx context.Context, accountID string) (int64, error)
}

// HistoryReader lists an account's audit trail.
type HistoryReader interface {
	Recent(ctx context.Context, accountID string, limit int) ([]domain.HistoryRecord, error)
}

// ResultReader loads stored result bytes by key.
type ResultReader interface {
	Read(key string) ([]byte, error)
}

// App carries the handler dependencies.
type App struct {
	Config    *infra.Config
	Batches   BatchService
	History   HistoryReader
	Pricing   *pricing.Table
	Results   ResultReader
	GeoIP     geoip.CountryResolver
	Validator *Validator
	Logger    zerolog.Logger
	// Ready reports backend health for /v1/healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewApp fills optional dependencies with defaults.
func NewApp(app App) *App {
	if app.Validator == nil {
		app.Validator = NewValidator()
	}
	if app.Pricing == nil {
		app.Pricing = pricing.Default()
	}
	if app.Config == nil {
		app.Config = &infra.Config{MaxBatchSize: 20, MaxUploadBytes: 64 << 20}
	}
	return &app
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
