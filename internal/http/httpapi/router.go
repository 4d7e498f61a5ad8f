package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/http/handlers"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/middleware"
)

// Options configures the router beyond the handler dependencies.
type Options struct {
	JWTSecret       string
	StoragePath     string
	CORSOrigins     []string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/pricing", app.GetPricing)

	if dir := strings.TrimSpace(opts.StoragePath); dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", noListing(http.FileServer(http.Dir(dir)))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Get("/v1/credits", app.GetCredits)
		r.Get("/v1/quote", app.QuoteBatch)
		r.Get("/v1/history", app.ListHistory)

		r.Route("/v1/batches", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.SubmitBatch)
			r.Get("/", app.ListBatches)
			r.Get("/{batch_id}", app.GetBatch)
			r.Post("/{batch_id}/cancel", app.CancelBatch)
			r.Get("/{batch_id}/archive", app.BatchArchive)
			r.Delete("/{batch_id}", app.DeleteBatch)
		})
	})

	return r
}

// noListing hides directory indexes; result URLs are only known to their owner.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
