package handlers

import (
	"errors"
	"net/http"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/scheduler"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Needed    *int64 `json:"needed,omitempty"`
	Balance   *int64 `json:"balance,omitempty"`
	Shortfall *int64 `json:"shortfall,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errorBody{Code: errCode, Message: message}})
}

// fail maps domain errors to HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var shortfall *domain.InsufficientCreditsError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &shortfall):
		needed, balance, missing := shortfall.Needed, shortfall.Balance, shortfall.Shortfall()
		a.json(w, http.StatusPaymentRequired, map[string]any{"error": errorBody{
			Code:      domain.CodeInsufficientCredits,
			Message:   err.Error(),
			Needed:    &needed,
			Balance:   &balance,
			Shortfall: &missing,
		}})
	case errors.As(err, &invalid):
		a.json(w, http.StatusBadRequest, map[string]any{"error": errorBody{
			Code:    "invalid_input",
			Message: invalid.Message,
			Field:   invalid.Field,
		}})
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrBatchActive):
		a.error(w, http.StatusConflict, "batch_active", "batch is still running")
	case errors.Is(err, scheduler.ErrClosed):
		a.error(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handlers: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
