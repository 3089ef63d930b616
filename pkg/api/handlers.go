package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	httperrors "github.com/husmancristian/qafastweb/errors" // Error helpers
	"github.com/husmancristian/qafastweb/pkg/config"
	"github.com/husmancristian/qafastweb/pkg/dashboard"
	"github.com/husmancristian/qafastweb/pkg/importer"
	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/pipeline"
	"github.com/husmancristian/qafastweb/pkg/queue"
	"github.com/husmancristian/qafastweb/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const (
	maxUploadMemory = 32 << 20 // 32 MB
	uploadFieldName = "file"
)

type API struct {
	Store        storage.Store
	Pipeline     pipeline.Executor
	Dashboard    *dashboard.Service
	QueueManager queue.Manager // nil when async execution is disabled
	Logger       *slog.Logger
	Config       *config.Config
	validate     *validator.Validate
}

func NewAPI(store storage.Store, exec pipeline.Executor, dash *dashboard.Service, qm queue.Manager, logger *slog.Logger, cfg *config.Config) *API {
	return &API{
		Store:        store,
		Pipeline:     exec,
		Dashboard:    dash,
		QueueManager: qm,
		Logger:       logger,
		Config:       cfg,
		validate:     validator.New(),
	}
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, chi.URLParam(r, name))
	}
	return id, nil
}

// --- Test cases ---

// HandleCreateCase stores a single, manually authored test case.
func (a *API) HandleCreateCase(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleCreateCase"))
	var req models.CreateTestCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()

	if err := a.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			httperrors.ValidationFailed(w, logger, "Invalid test case", fields)
			return
		}
		httperrors.BadRequest(w, logger, err, "Invalid request")
		return
	}

	tc := &models.TestCase{
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Steps:          req.Steps,
		ExpectedResult: req.ExpectedResult,
		URL:            req.URL,
	}
	if err := a.Store.CreateCase(r.Context(), tc); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to save test case")
		return
	}
	logger.Info("Created test case", slog.Int64("test_case_id", tc.ID))
	respondJSON(w, logger, http.StatusCreated, tc)
}

// HandleUploadCases imports every active case of an Excel workbook in one batch.
func (a *API) HandleUploadCases(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleUploadCases"))
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httperrors.BadRequest(w, logger, err, "Failed to parse multipart form")
		return
	}
	defer r.Body.Close()

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Missing file field")
		return
	}
	defer file.Close()
	logger = logger.With(slog.String("filename", header.Filename))

	if err := importer.CheckFilename(header.Filename); err != nil {
		httperrors.BadRequest(w, logger, nil, "The file must be an Excel workbook (.xlsx or .xls)")
		return
	}

	cases, err := importer.ReadCases(file)
	var detailed interface{ Details() []string }
	if errors.As(err, &detailed) {
		httperrors.ValidationFailed(w, logger, "The workbook cannot be imported", detailed.Details())
		return
	}
	if errors.Is(err, importer.ErrInvalidWorkbook) {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to process the file")
		return
	}

	saved, err := a.Store.CreateCases(r.Context(), cases)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to save test cases")
		return
	}
	logger.Info("Imported test cases", slog.Int("count", len(saved)))
	respondJSON(w, logger, http.StatusCreated, saved)
}

func (a *API) HandleListCases(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleListCases"))
	cases, err := a.Store.ListCases(r.Context())
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve test cases")
		return
	}
	if cases == nil {
		cases = []models.TestCase{}
	}
	respondJSON(w, logger, http.StatusOK, cases)
}

func (a *API) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetCase"))
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	tc, err := a.Store.GetCase(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httperrors.NotFound(w, logger, nil, "Test case not found")
		return
	}
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve test case")
		return
	}
	respondJSON(w, logger, http.StatusOK, tc)
}

// HandleDeleteCase removes a case with its prompts and results.
func (a *API) HandleDeleteCase(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDeleteCase"))
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	err = a.Store.DeleteCase(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httperrors.NotFound(w, logger, nil, "Test case not found")
		return
	}
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to delete test case")
		return
	}
	logger.Info("Deleted test case", slog.Int64("test_case_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetCaseResults lists every recorded attempt of a case, newest first.
func (a *API) HandleGetCaseResults(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetCaseResults"))
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	if _, err := a.Store.GetCase(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperrors.NotFound(w, logger, nil, "Test case not found")
			return
		}
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve test case")
		return
	}
	results, err := a.Store.ListResults(r.Context(), storage.ResultFilter{TestCaseID: id})
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve results")
		return
	}
	if results == nil {
		results = []models.TestResult{}
	}
	respondJSON(w, logger, http.StatusOK, results)
}

// --- Execution ---

// HandleExecute runs the whole pipeline within the request.
func (a *API) HandleExecute(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleExecute"))
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	logger = logger.With(slog.Int64("test_case_id", id))

	resp, err := a.Pipeline.Execute(r.Context(), id)
	if errors.Is(err, pipeline.ErrCaseNotFound) {
		httperrors.NotFound(w, logger, nil, "Test case not found")
		return
	}
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Execution failed unexpectedly")
		return
	}
	respondJSON(w, logger, http.StatusOK, resp)
}

// HandleExecuteAsync queues an execution for the background worker.
func (a *API) HandleExecuteAsync(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleExecuteAsync"))
	if a.QueueManager == nil {
		httperrors.StatusNotImplemented(w, logger, nil, "Asynchronous execution requires RABBITMQ_URL")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequest(w, logger, nil, err.Error())
		return
	}
	if _, err := a.Store.GetCase(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperrors.NotFound(w, logger, nil, "Test case not found")
			return
		}
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve test case")
		return
	}

	jobID, err := a.QueueManager.EnqueueExecution(r.Context(), id)
	if err != nil {
		httperrors.ServiceUnavailable(w, logger, err, "Failed to enqueue execution")
		return
	}
	respondJSON(w, logger, http.StatusAccepted, map[string]any{"job_id": jobID, "case_id": id})
}

func (a *API) HandleGetQueueSize(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetQueueSize"))
	if a.QueueManager == nil {
		httperrors.StatusNotImplemented(w, logger, nil, "Asynchronous execution requires RABBITMQ_URL")
		return
	}
	size, err := a.QueueManager.QueueSize(r.Context())
	if err != nil {
		httperrors.ServiceUnavailable(w, logger, err, "Failed to get queue size")
		return
	}
	respondJSON(w, logger, http.StatusOK, map[string]int{"size": size})
}
