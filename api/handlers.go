/*
handlers.go - HTTP API handlers for the forecast dashboard

PURPOSE:
  Exposes the loaded dataset and the forecaster over HTTP. Handles request
  parsing, session identity and JSON serialization, and delegates to the
  retail, forecast, chart and session packages.

ENDPOINTS:
  Page:
    GET    /                           Dashboard page
    GET    /healthz                    Liveness

  Stores:
    GET    /api/stores                 Store list and default store
    GET    /api/stores/{id}/history    Merged history of one store
    GET    /api/dataset                Cutoff and merge report

  Forecasts:
    POST   /api/forecasts              Fit and render a forecast
    GET    /api/runs                   Forecast run log
    GET    /ws                         Websocket channel (see ws.go)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Data: immutable retail.Dataset built at startup
  - Forecaster: fits a fresh model per trigger
  - Sequencer: per-session ordering of triggers
  - Runs: SQLite run log (metadata only)

REQUEST FLOW (forecast):
  1. Resolve the session from the session_id cookie (issue one if absent)
  2. Begin a ticket for the session
  3. Run the fit under the session's slot; stale tickets are dropped
  4. Record the run, build the figure, serialize

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid body or store id
  - 404: Unknown store
  - 409: Superseded by a newer trigger of the same session
  - 422: Not enough training history for the store
  - 504: Forecast deadline exceeded
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ws.go: Websocket channel
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/retail-forecast/chart"
	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/retail"
	"github.com/warp/retail-forecast/session"
	"github.com/warp/retail-forecast/store/sqlite"
)

// SessionCookie names the cookie that identifies a browser session.
const SessionCookie = "session_id"

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Data       *retail.Dataset
	Forecaster *forecast.Forecaster
	Sequencer  *session.Sequencer
	Runs       *sqlite.Store

	log zerolog.Logger

	// Open websocket connections; see CloseConnections.
	wsMu     sync.Mutex
	wsConns  map[*wsConn]struct{}
	wsWG     sync.WaitGroup
	wsClosed bool
}

// NewHandler creates a handler over an already loaded dataset.
func NewHandler(data *retail.Dataset, f *forecast.Forecaster, seq *session.Sequencer, runs *sqlite.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Data:       data,
		Forecaster: f,
		Sequencer:  seq,
		Runs:       runs,
		log:        log.With().Str("component", "api").Logger(),
		wsConns:    make(map[*wsConn]struct{}),
	}
}

// =============================================================================
// STORE HANDLERS
// =============================================================================

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stores": len(h.Data.Stores()),
	})
}

// ListStores returns every store with its row counts.
// GET /api/stores
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	summaries := h.Data.Summaries()
	dtos := make([]StoreDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toStoreDTO(s)
	}
	writeJSON(w, http.StatusOK, StoresResponse{
		Default: int(h.Data.DefaultStore()),
		Stores:  dtos,
	})
}

// GetHistory returns the merged observations of one store.
// GET /api/stores/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseStoreID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid store id", err)
		return
	}

	summary, err := h.Data.Summary(id)
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg, err)
		return
	}
	history, _ := h.Data.History(id)
	cutoff := h.Data.Cutoff()

	obs := make([]ObservationDTO, len(history))
	for i, o := range history {
		obs[i] = toObservationDTO(o, !o.Date.Before(cutoff))
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Store:        toStoreDTO(summary),
		Cutoff:       cutoff.Format(dateFormat),
		Observations: obs,
	})
}

// GetDataset describes the loaded data and the merge.
// GET /api/dataset
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	report := h.Data.Report()
	writeJSON(w, http.StatusOK, DatasetDTO{
		Cutoff:         h.Data.Cutoff().Format(dateFormat),
		Default:        int(h.Data.DefaultStore()),
		Report:         report,
		HolidayIsCount: report.FoldedKeys > 0,
	})
}

// =============================================================================
// FORECAST HANDLERS
// =============================================================================

// CreateForecast fits a model for the requested store and returns the figure.
// POST /api/forecasts
func (h *Handler) CreateForecast(w http.ResponseWriter, r *http.Request) {
	var req CreateForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Store == nil {
		writeError(w, http.StatusBadRequest, "Store is required", nil)
		return
	}

	sid := h.sessionID(w, r)
	ticket := h.Sequencer.Begin(sid)

	resp, err := h.forecast(r.Context(), ticket, retail.StoreID(*req.Store))
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg, err)
		return
	}
	resp.Seq = req.Seq
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns the forecast run log, newest first.
// GET /api/runs?store=20&limit=50
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	storeID := 0
	if s := q.Get("store"); s != "" {
		id, err := parseStoreID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid store id", err)
			return
		}
		storeID = int(id)
	}

	limit := defaultRunLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.Runs.ListRuns(r.Context(), storeID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// forecast runs one ticket through the sequencer, records the run and builds
// the figure. It is shared by the HTTP and websocket paths.
func (h *Handler) forecast(ctx context.Context, t session.Ticket, id retail.StoreID) (*ForecastResponse, error) {
	start := time.Now()
	res, err := session.Run(ctx, h.Sequencer, t, func(ctx context.Context) (*forecast.Result, error) {
		return h.Forecaster.Forecast(ctx, id)
	})
	elapsed := time.Since(start)

	run := h.recordRun(ctx, t, id, res, err, elapsed)
	if err != nil {
		return nil, err
	}

	history, err := h.Data.History(id)
	if err != nil {
		return nil, err
	}

	resp := &ForecastResponse{
		Store:          int(id),
		TrainRows:      res.TrainRows,
		ValidationRows: res.ValidationRows,
		ElapsedMS:      elapsed.Milliseconds(),
		Points:         toPointDTOs(res.Points),
		Figure:         chart.Build(history, res.Points),
	}
	if run != nil {
		resp.RunID = run.ID.String()
	}
	return resp, nil
}

// recordRun logs the outcome. Failing to write the run log never fails the
// forecast itself.
func (h *Handler) recordRun(ctx context.Context, t session.Ticket, id retail.StoreID, res *forecast.Result, err error, elapsed time.Duration) *sqlite.ForecastRun {
	run := sqlite.ForecastRun{
		SessionID:  t.Session,
		Seq:        t.Seq,
		StoreID:    int(id),
		Status:     sqlite.StatusCompleted,
		DurationMS: elapsed.Milliseconds(),
	}
	if res != nil {
		run.TrainRows = res.TrainRows
		run.ValidRows = res.ValidationRows
	}

	logEvent := h.log.Info()
	switch {
	case errors.Is(err, session.ErrSuperseded):
		run.Status = sqlite.StatusSuperseded
		logEvent = h.log.Debug()
	case err != nil:
		run.Status = sqlite.StatusFailed
		run.Error = err.Error()
		logEvent = h.log.Warn().Err(err)
	}
	logEvent.
		Str("session", t.Session).
		Uint64("seq", t.Seq).
		Int("store", int(id)).
		Str("status", string(run.Status)).
		Dur("elapsed", elapsed).
		Msg("forecast")

	saved, saveErr := h.Runs.SaveRun(context.WithoutCancel(ctx), run)
	if saveErr != nil {
		h.log.Error().Err(saveErr).Msg("failed to record forecast run")
		return nil
	}
	return &saved
}

// =============================================================================
// HELPERS
// =============================================================================

// sessionID returns the caller's session, issuing a cookie on first use.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func parseStoreID(s string) (retail.StoreID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return retail.StoreID(n), nil
}

// errorStatus maps domain errors to an HTTP status and a readable message.
func errorStatus(err error) (int, string) {
	switch {
	case retail.IsNotFound(err):
		return http.StatusNotFound, "Store not found"
	case errors.Is(err, forecast.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity, "Not enough sales history before the cutoff to forecast this store"
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict, "Superseded by a newer forecast request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Forecast timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Forecast cancelled"
	default:
		return http.StatusInternalServerError, "Failed to create forecast"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
