// Package alerts provides the alert inbox endpoints.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/audit"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeForbidden        = "FORBIDDEN"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
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

func forbidden(w http.ResponseWriter) {
	jsonError(w, http.StatusForbidden, errCodeForbidden, "access denied")
}

// Pagination defaults.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// ListResponse is a page of alerts.
type ListResponse struct {
	Items   []*models.Alert `json:"items"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

// Notifier delivers manually created alerts.
type Notifier interface {
	Notify(ctx context.Context, house *models.House, alerts []*models.Alert)
}

// Handler handles alert endpoints.
type Handler struct {
	storage  storage.Storage
	notifier Notifier
	audit    audit.Logger
	now      func() time.Time
}

// NewHandler creates an alerts handler. notifier may be nil.
func NewHandler(store storage.Storage, notifier Notifier, auditor audit.Logger) *Handler {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Handler{storage: store, notifier: notifier, audit: auditor, now: time.Now}
}

// CreateRequest is the body of a manual alert.
type CreateRequest struct {
	HouseID   string   `json:"house_id"`
	SensorID  string   `json:"sensor_id"`
	Type      string   `json:"alert_type"`
	Severity  string   `json:"severity"`
	Message   string   `json:"message"`
	Value     *float64 `json:"value"`
	Threshold *float64 `json:"threshold"`
}

// List returns the caller's alerts, newest first. Admins see every alert.
// Supported query parameters: type, severity, status, house_id, sensor_id,
// page and per_page.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, page, perPage, err := parseFilter(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if !middleware.IsAdmin(ctx) {
		filter.OwnerID = middleware.GetUserID(ctx)
	}

	total, err := h.storage.Alerts().Count(ctx, filter)
	if err != nil {
		internalError(w, r, err, "count alerts")
		return
	}
	alerts, err := h.storage.Alerts().List(ctx, filter)
	if err != nil {
		internalError(w, r, err, "list alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}

	jsonStatus(w, http.StatusOK, &ListResponse{Items: alerts, Total: total, Page: page, PerPage: perPage})
}

func parseFilter(r *http.Request) (storage.AlertFilter, int, int, error) {
	q := r.URL.Query()
	var filter storage.AlertFilter

	if v := q.Get("type"); v != "" {
		t, err := ValidateType(v)
		if err != nil {
			return filter, 0, 0, err
		}
		filter.Type = t
	}
	if v := q.Get("severity"); v != "" {
		s, err := ValidateSeverity(v)
		if err != nil {
			return filter, 0, 0, err
		}
		filter.Severity = s
	}
	if v := q.Get("status"); v != "" {
		if err := ValidateStatus(v); err != nil {
			return filter, 0, 0, err
		}
		filter.Status = v
	}
	filter.HouseID = q.Get("house_id")
	filter.SensorID = q.Get("sensor_id")

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
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	return filter, page, perPage, nil
}

// Create raises a manual alert for an owned house. An identical unresolved
// alert answers 409.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.HouseID) == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "house_id is required")
		return
	}
	if err := ValidateMessage(req.Message); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	alertType := models.AlertTypeOther
	if req.Type != "" {
		t, err := ValidateType(req.Type)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		alertType = t
	}
	severity := models.SeverityInfo
	if req.Severity != "" {
		s, err := ValidateSeverity(req.Severity)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		severity = s
	}

	ctx := r.Context()
	house, err := h.storage.Houses().GetByID(ctx, req.HouseID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		internalError(w, r, err, "create alert: get house")
		return
	}
	if house == nil || !middleware.CanAccessHouse(ctx, house) {
		forbidden(w)
		return
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		HouseID:   house.ID,
		Type:      alertType,
		Severity:  severity,
		Message:   strings.TrimSpace(req.Message),
		Value:     req.Value,
		Threshold: req.Threshold,
		CreatedAt: h.now().UTC(),
	}
	if req.SensorID != "" {
		sensor, err := h.storage.Sensors().GetByID(ctx, req.SensorID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			internalError(w, r, err, "create alert: get sensor")
			return
		}
		if sensor == nil || sensor.HouseID != house.ID {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "sensor does not belong to house")
			return
		}
		alert.SensorID = &sensor.ID
	}

	err = h.storage.Alerts().CreateIfAbsent(ctx, alert, storage.DedupQuery{Unresolved: alertType.DedupsOnUnresolved()})
	if errors.Is(err, storage.ErrAlertExists) {
		jsonError(w, http.StatusConflict, errCodeConflict, "an unresolved alert of this type already exists")
		return
	}
	if err != nil {
		internalError(w, r, err, "create alert")
		return
	}

	h.record(r, models.ActionCreate, alert.ID, "created manual "+string(alert.Type)+" alert")
	if h.notifier != nil {
		h.notifier.Notify(ctx, house, []*models.Alert{alert})
	}

	jsonStatus(w, http.StatusCreated, alert)
}

// MarkRead marks an alert read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	alert := h.loadAlert(w, r)
	if alert == nil {
		return
	}
	if err := h.storage.Alerts().MarkRead(r.Context(), alert.ID); err != nil {
		internalError(w, r, err, "mark alert read")
		return
	}
	alert.IsRead = true
	h.record(r, models.ActionRead, alert.ID, "marked alert read")
	jsonStatus(w, http.StatusOK, alert)
}

// Resolve marks an alert resolved. Resolving twice keeps the first resolution time.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	alert := h.loadAlert(w, r)
	if alert == nil {
		return
	}
	ctx := r.Context()
	if err := h.storage.Alerts().Resolve(ctx, alert.ID, h.now(), false); err != nil {
		internalError(w, r, err, "resolve alert")
		return
	}
	updated, err := h.storage.Alerts().GetByID(ctx, alert.ID)
	if err != nil {
		internalError(w, r, err, "resolve alert: reload")
		return
	}
	h.record(r, models.ActionResolve, alert.ID, "resolved alert")
	jsonStatus(w, http.StatusOK, updated)
}

func (h *Handler) loadAlert(w http.ResponseWriter, r *http.Request) *models.Alert {
	ctx := r.Context()
	alert, err := h.storage.Alerts().GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		if middleware.IsAdmin(ctx) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		} else {
			forbidden(w)
		}
		return nil
	}
	if err != nil {
		internalError(w, r, err, "get alert")
		return nil
	}
	if middleware.IsAdmin(ctx) {
		return alert
	}

	house, err := h.storage.Houses().GetByID(ctx, alert.HouseID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		internalError(w, r, err, "get alert house")
		return nil
	}
	if !middleware.CanAccessHouse(ctx, house) {
		forbidden(w)
		return nil
	}
	return alert
}

func (h *Handler) record(r *http.Request, action models.ActivityAction, id, desc string) {
	h.audit.Record(r.Context(), audit.Event{
		UserID:      middleware.GetUserID(r.Context()),
		Action:      action,
		Model:       "alert",
		ObjectID:    id,
		Description: desc,
		IP:          middleware.ClientIP(r),
	})
}
