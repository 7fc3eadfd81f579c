// Package admin provides the administrator endpoints: reading ingest, manual
// watchdog sweeps, the system overview and the activity log.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/audit"
	"github.com/good-yellow-bee/wattmon/internal/ingest"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
	"github.com/good-yellow-bee/wattmon/internal/watchdog"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	jsonErrorDetails(w, status, code, message, nil)
}

func jsonErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message, Details: details}})
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg(msg)
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
}

// MaxBatchSize bounds the number of readings in one ingest request.
const MaxBatchSize = 1000

// Ingester stores device readings.
type Ingester interface {
	IngestBatch(ctx context.Context, inputs []ingest.ReadingInput) (ingest.BatchResult, error)
	IngestOne(ctx context.Context, sensor *models.Sensor, in ingest.ReadingInput) (*models.Reading, error)
}

// Sweeper runs one offline sweep on demand.
type Sweeper interface {
	TrySweep(ctx context.Context) (watchdog.SweepResult, error)
}

// Handler handles admin endpoints.
type Handler struct {
	storage  storage.Storage
	ingester Ingester
	sweeper  Sweeper
	audit    audit.Logger
	now      func() time.Time
}

// NewHandler creates an admin handler.
func NewHandler(store storage.Storage, ingester Ingester, sweeper Sweeper, auditor audit.Logger) *Handler {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Handler{
		storage:  store,
		ingester: ingester,
		sweeper:  sweeper,
		audit:    auditor,
		now:      time.Now,
	}
}

// IngestResponse reports a stored batch.
type IngestResponse struct {
	Status  string `json:"status"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
}

// IngestReadings stores a batch of device readings. The body is a JSON array
// of readings. Any invalid item rejects the whole batch.
func (h *Handler) IngestReadings(w http.ResponseWriter, r *http.Request) {
	var inputs []ingest.ReadingInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "request body must be a JSON array of readings")
		return
	}
	if len(inputs) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "at least one reading is required")
		return
	}
	if len(inputs) > MaxBatchSize {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, fmt.Sprintf("batch exceeds %d readings", MaxBatchSize))
		return
	}

	result, err := h.ingester.IngestBatch(r.Context(), inputs)
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		jsonErrorDetails(w, http.StatusBadRequest, errCodeValidationFailed, "invalid readings", verr.Fields)
		return
	}
	if err != nil {
		internalError(w, r, err, "ingest readings")
		return
	}

	h.record(r, models.ActionIngest, "reading", "", fmt.Sprintf("ingested %d readings, skipped %d", result.Stored, result.Skipped))
	jsonStatus(w, http.StatusCreated, &IngestResponse{Status: "ok", Stored: result.Stored, Skipped: result.Skipped})
}

// IngestSensorData stores one reading for the {id} sensor, stamped with the
// server time. {id} is the sensor id or its device external id.
func (h *Handler) IngestSensorData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sensor, err := h.storage.Sensors().GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		sensor, err = h.storage.Sensors().GetByExternalID(ctx, id)
	}
	if errors.Is(err, storage.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "sensor not found")
		return
	}
	if err != nil {
		internalError(w, r, err, "get sensor")
		return
	}

	var in ingest.ReadingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	reading, err := h.ingester.IngestOne(ctx, sensor, in)
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		jsonErrorDetails(w, http.StatusBadRequest, errCodeValidationFailed, "invalid reading", verr.Fields)
		return
	}
	if err != nil {
		internalError(w, r, err, "ingest sensor data")
		return
	}

	h.record(r, models.ActionIngest, "reading", strconv.FormatInt(reading.ID, 10), "ingested reading for sensor "+sensor.Name)
	jsonStatus(w, http.StatusCreated, reading)
}

// Sweep runs one watchdog sweep now.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.TrySweep(r.Context())
	if errors.Is(err, watchdog.ErrSweepInProgress) {
		jsonError(w, http.StatusConflict, errCodeConflict, "a sweep is already running")
		return
	}
	if err != nil {
		internalError(w, r, err, "watchdog sweep")
		return
	}

	h.record(r, models.ActionSweep, "sensor", "", fmt.Sprintf("sweep checked %d sensors, %d offline", result.Checked, result.Offline))
	jsonStatus(w, http.StatusOK, result)
}

// Overview holds system-wide totals.
type Overview struct {
	Users          int64 `json:"users"`
	Houses         int64 `json:"houses"`
	Sensors        int   `json:"sensors"`
	SensorsOnline  int   `json:"sensors_online"`
	SensorsOffline int   `json:"sensors_offline"`
	UnreadAlerts   int64 `json:"unread_alerts"`
	CriticalAlerts int64 `json:"critical_alerts"`
}

// Overview returns system totals. Critical alerts counts unresolved ones.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		o   Overview
		err error
	)

	if o.Users, err = h.storage.Users().Count(ctx); err != nil {
		internalError(w, r, err, "count users")
		return
	}
	if o.Houses, err = h.storage.Houses().Count(ctx); err != nil {
		internalError(w, r, err, "count houses")
		return
	}

	sensors, err := h.storage.Sensors().ListActive(ctx)
	if err != nil {
		internalError(w, r, err, "list active sensors")
		return
	}
	now := h.now()
	o.Sensors = len(sensors)
	for _, s := range sensors {
		latest, err := h.storage.Readings().Latest(ctx, s.ID, 1)
		if err != nil {
			internalError(w, r, err, "latest reading")
			return
		}
		if len(latest) > 0 && s.IsOnlineAt(latest[0].Timestamp, now) {
			o.SensorsOnline++
		} else {
			o.SensorsOffline++
		}
	}

	if o.UnreadAlerts, err = h.storage.Alerts().Count(ctx, storage.AlertFilter{Status: "unread"}); err != nil {
		internalError(w, r, err, "count unread alerts")
		return
	}
	critical := storage.AlertFilter{Severity: models.SeverityCritical, Status: "active"}
	if o.CriticalAlerts, err = h.storage.Alerts().Count(ctx, critical); err != nil {
		internalError(w, r, err, "count critical alerts")
		return
	}

	jsonStatus(w, http.StatusOK, &o)
}

// Pagination defaults for the activity log.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// ActivityResponse is a page of the activity log.
type ActivityResponse struct {
	Items   []*models.ActivityLog `json:"items"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

// Activity returns the activity log, newest first.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	entries, total, err := h.storage.Activity().List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		internalError(w, r, err, "list activity")
		return
	}
	if entries == nil {
		entries = []*models.ActivityLog{}
	}
	jsonStatus(w, http.StatusOK, &ActivityResponse{Items: entries, Total: total, Page: page, PerPage: perPage})
}

func (h *Handler) record(r *http.Request, action models.ActivityAction, model, id, desc string) {
	h.audit.Record(r.Context(), audit.Event{
		UserID:      middleware.GetUserID(r.Context()),
		Action:      action,
		Model:       model,
		ObjectID:    id,
		Description: desc,
		IP:          middleware.ClientIP(r),
	})
}
