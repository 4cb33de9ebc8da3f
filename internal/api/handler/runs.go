package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/dnswatch/internal/api/response"
	"github.com/kiranshivaraju/dnswatch/internal/store"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// RunReader is the read side of the run history store.
type RunReader interface {
	GetReportRun(ctx context.Context, id uuid.UUID) (*models.ReportRun, error)
	ListReportRuns(ctx context.Context, filter store.RunFilter) ([]*models.ReportRun, int, error)
}

// NewListRunsHandler returns GET /api/v1/runs?page=&limit=.
// Results are scoped to profileID.
func NewListRunsHandler(runs RunReader, profileID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := queryInt(r, "page", 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := queryInt(r, "limit", defaultPageLimit)
		if err != nil || limit < 1 || limit > maxPageLimit {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100", nil)
			return
		}

		items, total, err := runs.ListReportRuns(r.Context(), store.RunFilter{
			ProfileID: profileID,
			Page:      page,
			Limit:     limit,
		})
		if err != nil {
			slog.Error("list report runs", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list report runs", nil)
			return
		}

		response.Collection(w, items, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetRunHandler returns GET /api/v1/runs/{runID}.
func NewGetRunHandler(runs RunReader, profileID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "runID must be a UUID", nil)
			return
		}

		run, err := runs.GetReportRun(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && run.ProfileID != profileID) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Report run not found", nil)
			return
		}
		if err != nil {
			slog.Error("get report run", "run_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load report run", nil)
			return
		}

		response.JSON(w, run)
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
