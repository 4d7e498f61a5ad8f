package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

func (a *App) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Batches.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"account_id": userID, "balance": balance})
}

func (a *App) GetPricing(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Pricing.Entries()})
}

// QuoteBatch prices a prospective batch against the caller's balance, so
// clients can warn before uploading.
func (a *App) QuoteBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	q := r.URL.Query()
	res := domain.Resolution(strings.ToLower(strings.TrimSpace(q.Get("resolution"))))
	if res == "" {
		res = domain.Resolution2K
	}
	images, err := strconv.Atoi(q.Get("images"))
	if err != nil || images < 1 || images > a.Config.MaxBatchSize {
		a.fail(w, r, &domain.ValidationError{Field: "images", Message: fmt.Sprintf("must be between 1 and %d", a.Config.MaxBatchSize)})
		return
	}
	total, err := a.Batches.Quote(res, images)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	balance, err := a.Batches.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	shortfall := (&domain.InsufficientCreditsError{Needed: total, Balance: balance}).Shortfall()
	a.json(w, http.StatusOK, map[string]any{
		"resolution": res,
		"images":     images,
		"per_image":  total / int64(images),
		"total":      total,
		"balance":    balance,
		"sufficient": shortfall == 0,
		"shortfall":  shortfall,
	})
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func (a *App) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	records, err := a.History.Recent(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, map[string]any{
			"id":         rec.ID,
			"batch_id":   rec.BatchID,
			"job_id":     rec.JobID,
			"model":      rec.Model,
			"resolution": rec.Resolution,
			"credits":    rec.Credits,
			"status":     rec.Status,
			"result_ref": rec.ResultRef,
			"error_ref":  rec.ErrorRef,
			"metadata":   rec.Metadata,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
