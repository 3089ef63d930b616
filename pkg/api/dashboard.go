package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	httperrors "github.com/husmancristian/qafastweb/errors"
	"github.com/husmancristian/qafastweb/pkg/storage"
)

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func (a *API) HandleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDashboardMetrics"))
	m, err := a.Dashboard.Metrics(r.Context())
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to compute metrics")
		return
	}
	respondJSON(w, logger, http.StatusOK, m)
}

func (a *API) HandleDashboardRecent(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDashboardRecent"))
	limit, err := queryInt(r, "limit")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	recent, err := a.Dashboard.Recent(r.Context(), int(limit))
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to list recent executions")
		return
	}
	respondJSON(w, logger, http.StatusOK, recent)
}

func (a *API) HandleDashboardTimeline(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDashboardTimeline"))
	days, err := queryInt(r, "days")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	points, err := a.Dashboard.Timeline(r.Context(), int(days))
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to build timeline")
		return
	}
	respondJSON(w, logger, http.StatusOK, points)
}

func (a *API) HandleDashboardTestStats(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDashboardTestStats"))
	stats, err := a.Dashboard.TestStats(r.Context())
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to compute test statistics")
		return
	}
	respondJSON(w, logger, http.StatusOK, stats)
}

func (a *API) HandleDashboardExecution(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDashboardExecution"))
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	details, err := a.Dashboard.ExecutionDetails(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httperrors.NotFound(w, logger, nil, "Execution not found")
		return
	}
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve execution")
		return
	}
	respondJSON(w, logger, http.StatusOK, details)
}

func (a *API) HandleDashboardPrompts(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDashboardPrompts"))
	limit, err := queryInt(r, "limit")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	caseID, err := queryInt(r, "test_case_id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	history, err := a.Dashboard.PromptHistory(r.Context(), int(limit), caseID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to list prompts")
		return
	}
	respondJSON(w, logger, http.StatusOK, history)
}
