// Package houses provides the house, sensor and reading endpoints owners use
// to follow their consumption.
package houses

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/energy"
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
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeForbidden     = "FORBIDDEN"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg(msg)
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
}

// forbidden is used for missing and foreign resources alike so that non-admin
// callers cannot probe which ids exist.
func forbidden(w http.ResponseWriter) {
	jsonError(w, http.StatusForbidden, errCodeForbidden, "access denied")
}

// DefaultReadingsWindow is the readings range used when from is omitted.
const DefaultReadingsWindow = 24 * time.Hour

// Handler handles house and sensor endpoints.
type Handler struct {
	storage    storage.Storage
	calculator *energy.Calculator
	maxRange   time.Duration
}

// NewHandler creates a houses handler. maxRange caps the readings query window.
func NewHandler(store storage.Storage, calculator *energy.Calculator, maxRange time.Duration) *Handler {
	if maxRange <= 0 {
		maxRange = 31 * 24 * time.Hour
	}
	return &Handler{storage: store, calculator: calculator, maxRange: maxRange}
}

// loadHouse fetches the {id} house and checks access. It writes the error
// response and returns nil when the caller may not proceed.
func (h *Handler) loadHouse(w http.ResponseWriter, r *http.Request, id string) *models.House {
	ctx := r.Context()
	house, err := h.storage.Houses().GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		if middleware.IsAdmin(ctx) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "house not found")
		} else {
			forbidden(w)
		}
		return nil
	}
	if err != nil {
		internalError(w, r, err, "get house")
		return nil
	}
	if !middleware.CanAccessHouse(ctx, house) {
		forbidden(w)
		return nil
	}
	return house
}

// loadSensor fetches the {id} sensor with its house and checks access.
func (h *Handler) loadSensor(w http.ResponseWriter, r *http.Request) (*models.Sensor, *models.House) {
	ctx := r.Context()
	sensor, err := h.storage.Sensors().GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		if middleware.IsAdmin(ctx) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "sensor not found")
		} else {
			forbidden(w)
		}
		return nil, nil
	}
	if err != nil {
		internalError(w, r, err, "get sensor")
		return nil, nil
	}
	house := h.loadHouse(w, r, sensor.HouseID)
	if house == nil {
		return nil, nil
	}
	return sensor, house
}

// ListHouses returns the caller's houses, or every house for admins.
func (h *Handler) ListHouses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		houses []*models.House
		err    error
	)
	if middleware.IsAdmin(ctx) {
		houses, err = h.storage.Houses().List(ctx)
	} else {
		houses, err = h.storage.Houses().ListByOwner(ctx, middleware.GetUserID(ctx))
	}
	if err != nil {
		internalError(w, r, err, "list houses")
		return
	}
	if houses == nil {
		houses = []*models.House{}
	}
	jsonOK(w, houses)
}

// GetHouse returns one house.
func (h *Handler) GetHouse(w http.ResponseWriter, r *http.Request) {
	house := h.loadHouse(w, r, chi.URLParam(r, "id"))
	if house == nil {
		return
	}
	jsonOK(w, house)
}

// Statistics returns the day, week and month comparisons, the month
// prediction and the sensor ranking of a house.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	house := h.loadHouse(w, r, chi.URLParam(r, "id"))
	if house == nil {
		return
	}

	stats, err := h.calculator.Statistics(r.Context(), house)
	if err != nil {
		internalError(w, r, err, "house statistics")
		return
	}
	jsonOK(w, stats)
}

// Comparison returns the comparison for one period (day, week or month).
func (h *Handler) Comparison(w http.ResponseWriter, r *http.Request) {
	period, err := energy.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	house := h.loadHouse(w, r, chi.URLParam(r, "id"))
	if house == nil {
		return
	}

	cmp, err := h.calculator.Compare(r.Context(), house, period)
	if err != nil {
		internalError(w, r, err, "house comparison")
		return
	}
	jsonOK(w, cmp)
}
