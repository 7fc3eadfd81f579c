package houses

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/models"
)

// SensorResponse is a sensor with its connectivity state.
type SensorResponse struct {
	*models.Sensor
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ReadingsResponse is a time-windowed list of readings.
type ReadingsResponse struct {
	SensorID string            `json:"sensor_id"`
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Count    int               `json:"count"`
	Readings []*models.Reading `json:"readings"`
}

func (h *Handler) sensorResponse(ctx context.Context, sensor *models.Sensor) (*SensorResponse, error) {
	resp := &SensorResponse{Sensor: sensor}
	latest, err := h.storage.Readings().Latest(ctx, sensor.ID, 1)
	if err != nil {
		return nil, fmt.Errorf("latest reading of %s: %w", sensor.ID, err)
	}
	if len(latest) > 0 {
		ts := latest[0].Timestamp
		resp.LastSeen = &ts
		resp.IsOnline = sensor.IsOnlineAt(ts, h.calculator.Now())
	}
	return resp, nil
}

// ListSensors returns the caller's sensors, or every sensor for admins. The
// house_id query parameter narrows the list to one house.
func (h *Handler) ListSensors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		sensors []*models.Sensor
		err     error
	)
	switch houseID := r.URL.Query().Get("house_id"); {
	case houseID != "":
		if h.loadHouse(w, r, houseID) == nil {
			return
		}
		sensors, err = h.storage.Sensors().ListByHouse(ctx, houseID)
	case middleware.IsAdmin(ctx):
		sensors, err = h.storage.Sensors().List(ctx)
	default:
		sensors, err = h.storage.Sensors().ListByOwner(ctx, middleware.GetUserID(ctx))
	}
	if err != nil {
		internalError(w, r, err, "list sensors")
		return
	}

	resp := make([]*SensorResponse, 0, len(sensors))
	for _, s := range sensors {
		sr, err := h.sensorResponse(ctx, s)
		if err != nil {
			internalError(w, r, err, "list sensors")
			return
		}
		resp = append(resp, sr)
	}
	jsonOK(w, resp)
}

// GetSensor returns one sensor.
func (h *Handler) GetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, _ := h.loadSensor(w, r)
	if sensor == nil {
		return
	}
	resp, err := h.sensorResponse(r.Context(), sensor)
	if err != nil {
		internalError(w, r, err, "get sensor")
		return
	}
	jsonOK(w, resp)
}

// Readings returns the sensor's readings with from <= timestamp < to, oldest
// first. Both bounds are RFC 3339; to defaults to now and from to 24 hours
// before to.
func (h *Handler) Readings(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseWindow(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	sensor, _ := h.loadSensor(w, r)
	if sensor == nil {
		return
	}

	readings, err := h.storage.Readings().ListRange(r.Context(), sensor.ID, from, to)
	if err != nil {
		internalError(w, r, err, "list readings")
		return
	}
	if readings == nil {
		readings = []*models.Reading{}
	}
	jsonOK(w, &ReadingsResponse{
		SensorID: sensor.ID,
		From:     from,
		To:       to,
		Count:    len(readings),
		Readings: readings,
	})
}

func (h *Handler) parseWindow(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()

	to = h.calculator.Now()
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("invalid to: must be RFC 3339")
		}
	}
	from = to.Add(-DefaultReadingsWindow)
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, fmt.Errorf("invalid from: must be RFC 3339")
		}
	}

	if !to.After(from) {
		return from, to, fmt.Errorf("from must be before to")
	}
	if to.Sub(from) > h.maxRange {
		return from, to, fmt.Errorf("range exceeds maximum of %s", h.maxRange)
	}
	return from.UTC(), to.UTC(), nil
}

// Live returns the latest reading, connectivity and short-window usage of a sensor.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	sensor, house := h.loadSensor(w, r)
	if sensor == nil {
		return
	}

	snapshot, err := h.calculator.LiveSnapshot(r.Context(), sensor, house)
	if err != nil {
		internalError(w, r, err, "live snapshot")
		return
	}
	jsonOK(w, snapshot)
}
