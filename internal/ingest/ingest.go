// Package ingest validates device readings, stores them and hands each stored
// reading to the alert evaluator.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/metrics"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Transports label where a batch came from.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// ReadingInput is one reading as sent by a device.
type ReadingInput struct {
	SensorID  string   `json:"sensor_id"`
	Timestamp string   `json:"timestamp"`
	Voltage   *float64 `json:"voltage"`
	Current   *float64 `json:"current"`
	Power     *float64 `json:"power"`
	Energy    *float64 `json:"energy"`
	Frequency *float64 `json:"frequency"`
	PF        *float64 `json:"pf"`
	// Signature is required when a signing secret is configured.
	Signature string `json:"signature,omitempty"`
}

func (in *ReadingInput) measurements() []struct {
	name  string
	value *float64
} {
	return []struct {
		name  string
		value *float64
	}{
		{"voltage", in.Voltage},
		{"current", in.Current},
		{"power", in.Power},
		{"energy", in.Energy},
		{"frequency", in.Frequency},
		{"pf", in.PF},
	}
}

// ValidationError collects field errors. Keys are "[i].field" for batch items
// and the bare field name for single readings.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(key, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[key] = append(e.Fields[key], msg)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// BatchResult reports how a batch was handled.
type BatchResult struct {
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

// Evaluator runs alert rules for a stored reading.
type Evaluator interface {
	Evaluate(ctx context.Context, sensor *models.Sensor, house *models.House, reading *models.Reading) ([]*models.Alert, error)
}

// Options configures a Service.
type Options struct {
	// Secret enables signature checks on batch items when non-empty.
	Secret    string
	Evaluator Evaluator
	Logger    zerolog.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Service is the reading ingest pipeline shared by the HTTP and MQTT transports.
type Service struct {
	store     storage.Storage
	evaluator Evaluator
	secret    string
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates an ingest service.
func NewService(store storage.Storage, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     store,
		evaluator: opts.Evaluator,
		secret:    opts.Secret,
		log:       opts.Logger.With().Str("component", "ingest").Logger(),
		now:       opts.Now,
	}
}

type validReading struct {
	input     ReadingInput
	timestamp time.Time
}

// IngestBatch validates the whole batch, then stores each reading whose
// sensor is known. Readings for unknown sensors are skipped.
func (s *Service) IngestBatch(ctx context.Context, inputs []ReadingInput) (BatchResult, error) {
	return s.ingestBatch(ctx, inputs, TransportHTTP)
}

func (s *Service) ingestBatch(ctx context.Context, inputs []ReadingInput, transport string) (BatchResult, error) {
	var result BatchResult

	valid, err := s.validateBatch(inputs)
	if err != nil {
		metrics.IngestValidationFailures.WithLabelValues(transport).Inc()
		return result, err
	}

	houses := make(map[string]*models.House)
	for _, v := range valid {
		sensor, err := s.store.Sensors().GetByExternalID(ctx, v.input.SensorID)
		if errors.Is(err, storage.ErrNotFound) {
			result.Skipped++
			metrics.ReadingsIngestedTotal.WithLabelValues(transport, "skipped").Inc()
			s.log.Warn().Str("sensor_id", v.input.SensorID).Str("transport", transport).Msg("reading for unknown sensor skipped")
			continue
		}
		if err != nil {
			return result, fmt.Errorf("lookup sensor %q: %w", v.input.SensorID, err)
		}

		house, ok := houses[sensor.HouseID]
		if !ok {
			house, err = s.store.Houses().GetByID(ctx, sensor.HouseID)
			if err != nil {
				return result, fmt.Errorf("lookup house of sensor %q: %w", v.input.SensorID, err)
			}
			houses[sensor.HouseID] = house
		}

		if _, err := s.persist(ctx, sensor, house, &v.input, v.timestamp); err != nil {
			return result, err
		}
		result.Stored++
		metrics.ReadingsIngestedTotal.WithLabelValues(transport, "stored").Inc()
	}

	s.log.Debug().Int("stored", result.Stored).Int("skipped", result.Skipped).Str("transport", transport).Msg("batch ingested")
	return result, nil
}

// IngestOne stores a single reading for a known sensor, stamped with the
// server time. All measurements are required.
func (s *Service) IngestOne(ctx context.Context, sensor *models.Sensor, in ReadingInput) (*models.Reading, error) {
	verr := &ValidationError{}
	validateMeasurements(verr, "", &in)
	if !verr.empty() {
		metrics.IngestValidationFailures.WithLabelValues(TransportHTTP).Inc()
		return nil, verr
	}

	house, err := s.store.Houses().GetByID(ctx, sensor.HouseID)
	if err != nil {
		return nil, fmt.Errorf("lookup house: %w", err)
	}

	reading, err := s.persist(ctx, sensor, house, &in, s.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(TransportHTTP, "stored").Inc()
	return reading, nil
}

// persist persists the reading and evaluates alert rules. Evaluation errors
// are logged only.
func (s *Service) persist(ctx context.Context, sensor *models.Sensor, house *models.House, in *ReadingInput, ts time.Time) (*models.Reading, error) {
	reading := &models.Reading{
		SensorID:      sensor.ID,
		Timestamp:     ts,
		Voltage:       in.Voltage,
		Current:       in.Current,
		Power:         in.Power,
		Energy:        in.Energy,
		Frequency:     in.Frequency,
		PF:            in.PF,
		ReactivePower: ReactivePower(in.Power, in.PF),
	}
	if err := s.store.Readings().Create(ctx, reading); err != nil {
		return nil, fmt.Errorf("store reading for sensor %s: %w", sensor.ID, err)
	}

	if s.evaluator != nil {
		if _, err := s.evaluator.Evaluate(ctx, sensor, house, reading); err != nil {
			s.log.Error().Err(err).Str("sensor", sensor.ID).Int64("reading_id", reading.ID).Msg("alert evaluation failed")
		}
	}
	return reading, nil
}

func (s *Service) validateBatch(inputs []ReadingInput) ([]validReading, error) {
	verr := &ValidationError{}
	valid := make([]validReading, 0, len(inputs))

	for i := range inputs {
		in := &inputs[i]
		prefix := fmt.Sprintf("[%d].", i)

		if strings.TrimSpace(in.SensorID) == "" {
			verr.add(prefix+"sensor_id", "this field is required")
		}
		ts, tsErr := ParseTimestamp(in.Timestamp)
		if tsErr != nil {
			verr.add(prefix+"timestamp", tsErr.Error())
		}
		validateMeasurements(verr, prefix, in)

		if s.secret != "" && in.Power != nil && tsErr == nil {
			if in.Signature == "" {
				verr.add(prefix+"signature", "this field is required")
			} else if !Verify(s.secret, *in.Power, in.Timestamp, in.Signature) {
				verr.add(prefix+"signature", "signature does not match")
			}
		}

		valid = append(valid, validReading{input: *in, timestamp: ts})
	}

	if !verr.empty() {
		return nil, verr
	}
	return valid, nil
}

func validateMeasurements(verr *ValidationError, prefix string, in *ReadingInput) {
	for _, m := range in.measurements() {
		switch {
		case m.value == nil:
			verr.add(prefix+m.name, "this field is required")
		case math.IsNaN(*m.value) || math.IsInf(*m.value, 0):
			verr.add(prefix+m.name, "must be a finite number")
		}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 instant. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("this field is required")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("must be an ISO-8601 timestamp")
}
