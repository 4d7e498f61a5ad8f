package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain/jsoncfg"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra/geoip"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/middleware"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/scheduler"
	"github.com/irisblue-ghoti/iris-landscape-sub000/pkg/zip"
)

type imageUpload struct {
	ID            string `json:"id" validate:"max=128"`
	Filename      string `json:"filename" validate:"required,max=255"`
	MIME          string `json:"mime" validate:"max=100"`
	Data          string `json:"data" validate:"required,base64"`
	PreviewHandle string `json:"preview_handle" validate:"max=512"`
}

type submitBatchRequest struct {
	Resolution  string        `json:"resolution" validate:"omitempty,oneof=1k 2k 4k 1K 2K 4K"`
	Model       string        `json:"model" validate:"max=64"`
	AspectRatio string        `json:"aspect_ratio" validate:"max=16"`
	Images      []imageUpload `json:"images" validate:"dive"`
}

// SubmitBatch prices and admits a batch. The batch outlives the request:
// closing the connection does not cancel it.
func (a *App) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes)
	}
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit))
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validator.Validate(req); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.Images) > a.Config.MaxBatchSize {
		a.fail(w, r, &domain.ValidationError{Field: "images", Message: fmt.Sprintf("at most %d images per batch", a.Config.MaxBatchSize)})
		return
	}

	images := make([]scheduler.Image, 0, len(req.Images))
	for i, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil || len(data) == 0 {
			a.fail(w, r, &domain.ValidationError{Field: fmt.Sprintf("images[%d].data", i), Message: "must be non-empty base64"})
			return
		}
		mime := strings.TrimSpace(img.MIME)
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		images = append(images, scheduler.Image{
			ID:            img.ID,
			Filename:      img.Filename,
			MIME:          mime,
			Data:          data,
			PreviewHandle: img.PreviewHandle,
		})
	}

	snap, err := a.Batches.Submit(r.Context(), scheduler.Submission{
		AccountID: userID,
		Images:    images,
		Options: jsoncfg.EnhanceOptions{
			Model:       req.Model,
			Resolution:  domain.Resolution(req.Resolution),
			AspectRatio: req.AspectRatio,
		},
		Metadata: a.requestMetadata(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, snap)
}

func (a *App) requestMetadata(r *http.Request) map[string]any {
	meta := map[string]any{}
	if rid := middleware.RequestIDFromContext(r.Context()); rid != "" {
		meta["request_id"] = rid
	}
	if country := geoip.Country(a.GeoIP, clientIP(r)); country != "" {
		meta["client_country"] = country
	}
	return meta
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (a *App) ListBatches(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": a.Batches.List(userID)})
}

func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.ownedBatch(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, snap)
}

func (a *App) CancelBatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ownedBatch(w, r); !ok {
		return
	}
	snap, err := a.Batches.Cancel(chi.URLParam(r, "batch_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, snap)
}

func (a *App) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.ownedBatch(w, r); !ok {
		return
	}
	if err := a.Batches.Discard(chi.URLParam(r, "batch_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchArchive zips the results of a finished batch's successful jobs.
func (a *App) BatchArchive(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.ownedBatch(w, r)
	if !ok {
		return
	}
	if !snap.Done {
		a.fail(w, r, domain.ErrBatchActive)
		return
	}
	if a.Results == nil {
		a.error(w, http.StatusNotImplemented, "not_supported", "result archive unavailable")
		return
	}
	var assets []zip.Asset
	for _, job := range snap.Jobs {
		if job.Status != domain.JobStatusSuccess || job.Result == nil {
			continue
		}
		data, err := a.Results.Read(job.Result.StorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("batch_id", snap.BatchID).Str("job_id", job.ID).Msg("handlers: result missing from storage")
			continue
		}
		modified := time.Time{}
		if job.CompletedAt != nil {
			modified = *job.CompletedAt
		}
		assets = append(assets, zip.Asset{Filename: archiveName(job), Data: data, Modified: modified})
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch-%s.zip", snap.BatchID))
	w.WriteHeader(http.StatusOK)
	if err := zip.Write(w, assets); err != nil {
		a.Logger.Error().Err(err).Str("batch_id", snap.BatchID).Msg("handlers: write archive")
	}
}

func archiveName(job scheduler.JobView) string {
	base := strings.TrimSuffix(job.Filename, path.Ext(job.Filename))
	if base == "" {
		base = job.ID
	}
	ext := path.Ext(job.Result.StorageKey)
	return fmt.Sprintf("%03d-%s-enhanced%s", job.Index+1, base, ext)
}

// ownedBatch loads the batch named in the URL and answers 404 when it
// belongs to another account.
func (a *App) ownedBatch(w http.ResponseWriter, r *http.Request) (scheduler.Snapshot, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return scheduler.Snapshot{}, false
	}
	batchID := chi.URLParam(r, "batch_id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return scheduler.Snapshot{}, false
	}
	snap, err := a.Batches.Get(batchID)
	if err != nil {
		a.fail(w, r, err)
		return scheduler.Snapshot{}, false
	}
	if snap.AccountID != userID {
		a.fail(w, r, domain.ErrNotFound)
		return scheduler.Snapshot{}, false
	}
	return snap, true
}
