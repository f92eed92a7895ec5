package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"campaign-progress-engine/internal/aggregator"
	"campaign-progress-engine/internal/batch"
	"campaign-progress-engine/internal/progress"
	"campaign-progress-engine/internal/storage"
)

const defaultSweepMaxAge = 5 * time.Minute

type ProgressLister interface {
	ListForPerson(ctx context.Context, usuarioID int64, opts batch.Options) ([]batch.CampaignProgress, error)
	DetailForPerson(ctx context.Context, usuarioID int64, slug string, opts batch.Options) (batch.CampaignProgress, error)
}

type ProgressAdmin interface {
	Invalidate(ctx context.Context, campaignID string, usuarioID *int64) (int64, error)
	Summary(ctx context.Context, campaignID string) (progress.Summary, error)
	Sweep(ctx context.Context, maxAge time.Duration) (int64, error)
}

type ProgressHandler struct {
	Lister ProgressLister
	Admin  ProgressAdmin
}

func NewProgressHandler(lister ProgressLister, admin ProgressAdmin) *ProgressHandler {
	return &ProgressHandler{Lister: lister, Admin: admin}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors onto status codes.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var srcErr *aggregator.DataSourceError
	switch {
	case errors.Is(err, storage.ErrInvalidUsuarioID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, batch.ErrCampaignNotFound), errors.Is(err, batch.ErrCampaignInactive):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrCampaignNotVisible):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "evaluation timed out")
	case errors.As(err, &srcErr):
		log.Error().Err(err).Str("source", srcErr.Source).Str("path", r.URL.Path).Msg("metrics source failed")
		writeError(w, http.StatusBadGateway, "metrics source "+srcErr.Source+" unavailable")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func flag(q string) bool {
	switch strings.ToLower(strings.TrimSpace(q)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func usuarioParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "usuarioID"), 10, 64)
	return id, err == nil && id > 0
}

// options reads ttl (seconds), force, fingerprint and includeUpcoming.
func options(r *http.Request) (batch.Options, error) {
	q := r.URL.Query()
	opts := batch.Options{
		Options: progress.Options{
			Force:           flag(q.Get("force")),
			FingerprintHint: strings.TrimSpace(q.Get("fingerprint")),
		},
		IncludeUpcoming: flag(q.Get("includeUpcoming")),
	}
	if raw := q.Get("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("ttl must be an integer number of seconds")
		}
		// ttl=0 disables reuse; omitting ttl uses the service default.
		if secs <= 0 {
			opts.TTL = -1
		} else {
			opts.TTL = time.Duration(secs) * time.Second
		}
	}
	return opts, nil
}

func (h *ProgressHandler) List(w http.ResponseWriter, r *http.Request) {
	usuarioID, ok := usuarioParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid usuario id")
		return
	}
	opts, err := options(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.Lister.ListForPerson(r.Context(), usuarioID, opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usuarioId": usuarioID, "campaigns": rows})
}

func (h *ProgressHandler) Detail(w http.ResponseWriter, r *http.Request) {
	usuarioID, ok := usuarioParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid usuario id")
		return
	}
	opts, err := options(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := h.Lister.DetailForPerson(r.Context(), usuarioID, chi.URLParam(r, "slug"), opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *ProgressHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	var usuarioID *int64
	if raw := r.URL.Query().Get("usuarioId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid usuarioId")
			return
		}
		usuarioID = &id
	}
	n, err := h.Admin.Invalidate(r.Context(), campaignID, usuarioID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaignId": campaignID, "deleted": n})
}

func (h *ProgressHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Admin.Summary(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Sweep takes maxAge in minutes.
func (h *ProgressHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultSweepMaxAge
	if raw := r.URL.Query().Get("maxAge"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins < 0 {
			writeError(w, http.StatusBadRequest, "maxAge must be a non-negative number of minutes")
			return
		}
		maxAge = time.Duration(mins) * time.Minute
	}
	n, err := h.Admin.Sweep(r.Context(), maxAge)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "maxAgeMinutes": int(maxAge / time.Minute)})
}
