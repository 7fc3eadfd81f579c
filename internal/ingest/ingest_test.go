package ingest

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

type recordingEvaluator struct {
	mu       sync.Mutex
	readings []*models.Reading
	err      error
}

func (e *recordingEvaluator) Evaluate(ctx context.Context, sensor *models.Sensor, house *models.House, reading *models.Reading) ([]*models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readings = append(e.readings, reading)
	return nil, e.err
}

type fixture struct {
	store     *storage.SQLiteStorage
	evaluator *recordingEvaluator
	sensor    *models.Sensor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "ingest.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	owner := models.NewUser("alice", "alice@example.com", models.RoleUser)
	owner.ID = uuid.NewString()
	owner.PasswordHash = "hash"
	if err := store.Users().Create(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	house := models.NewHouse(owner.ID, "Cottage")
	house.ID = uuid.NewString()
	if err := store.Houses().Create(ctx, house); err != nil {
		t.Fatalf("create house: %v", err)
	}
	external := "dev-1"
	sensor := models.NewSensor(house.ID, "Kitchen")
	sensor.ID = uuid.NewString()
	sensor.ExternalID = &external
	if err := store.Sensors().Create(ctx, sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}

	return &fixture{store: store, evaluator: &recordingEvaluator{}, sensor: sensor}
}

func (f *fixture) service(secret string) *Service {
	return NewService(f.store, Options{
		Secret:    secret,
		Evaluator: f.evaluator,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC) },
	})
}

func validInput(sensorID, ts string) ReadingInput {
	return ReadingInput{
		SensorID:  sensorID,
		Timestamp: ts,
		Voltage:   models.Float(230),
		Current:   models.Float(4.5),
		Power:     models.Float(1000),
		Energy:    models.Float(12.5),
		Frequency: models.Float(50),
		PF:        models.Float(0.8),
	}
}

func TestReactivePower(t *testing.T) {
	tests := []struct {
		name  string
		power *float64
		pf    *float64
		want  float64
	}{
		{"unity power factor", models.Float(1000), models.Float(1), 0},
		{"no power", models.Float(0), models.Float(0.9), 0},
		{"typical load", models.Float(1000), models.Float(0.8), 750},
		{"missing pf", models.Float(1000), nil, 0},
		{"missing power", nil, models.Float(0.8), 0},
		{"zero pf", models.Float(1000), models.Float(0), 0},
		{"pf above one clamps", models.Float(1000), models.Float(1.2), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReactivePower(tt.power, tt.pf); got != tt.want {
				t.Errorf("ReactivePower() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2024-04-16T12:00:00Z", time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC), false},
		{"2024-04-16T14:00:00+02:00", time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC), false},
		{"2024-04-16T12:00:00.5", time.Date(2024, 4, 16, 12, 0, 0, 500000000, time.UTC), false},
		{"2024-04-16 12:00:00", time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignature(t *testing.T) {
	sig := Sign("secret", 1500, "2024-04-16T12:00:00Z")
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if !Verify("secret", 1500, "2024-04-16T12:00:00Z", sig) {
		t.Error("valid signature rejected")
	}
	if Verify("secret", 1501, "2024-04-16T12:00:00Z", sig) {
		t.Error("signature accepted for different power")
	}
	if Verify("other", 1500, "2024-04-16T12:00:00Z", sig) {
		t.Error("signature accepted for different secret")
	}
}

func TestIngestBatch(t *testing.T) {
	f := setup(t)
	svc := f.service("")
	ctx := context.Background()

	result, err := svc.IngestBatch(ctx, []ReadingInput{
		validInput("dev-1", "2024-04-16T11:59:00Z"),
		validInput("unknown", "2024-04-16T11:59:00Z"),
		validInput("dev-1", "2024-04-16T11:59:10Z"),
	})
	if err != nil {
		t.Fatalf("IngestBatch() error = %v", err)
	}
	if result.Stored != 2 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 2 stored 1 skipped", result)
	}

	count, err := f.store.Readings().Count(ctx, f.sensor.ID)
	if err != nil {
		t.Fatalf("count readings: %v", err)
	}
	if count != 2 {
		t.Errorf("stored readings = %d, want 2", count)
	}

	if len(f.evaluator.readings) != 2 {
		t.Fatalf("evaluated %d readings, want 2", len(f.evaluator.readings))
	}
	r := f.evaluator.readings[0]
	if r.ReactivePower != 750 {
		t.Errorf("ReactivePower = %v, want 750", r.ReactivePower)
	}
	if r.ID == 0 {
		t.Error("reading should be persisted before evaluation")
	}
}

func TestIngestBatch_ValidationIsAllOrNothing(t *testing.T) {
	f := setup(t)
	svc := f.service("")

	bad := validInput("", "not a time")
	bad.Power = nil
	bad.Frequency = models.Float(math.Inf(1))

	_, err := svc.IngestBatch(context.Background(), []ReadingInput{
		validInput("dev-1", "2024-04-16T11:59:00Z"),
		bad,
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	for _, key := range []string{"[1].sensor_id", "[1].timestamp", "[1].power", "[1].frequency"} {
		if len(verr.Fields[key]) == 0 {
			t.Errorf("missing error for %s in %v", key, verr.Fields)
		}
	}
	if _, ok := verr.Fields["[0].power"]; ok {
		t.Error("valid item reported as invalid")
	}

	count, _ := f.store.Readings().Count(context.Background(), f.sensor.ID)
	if count != 0 {
		t.Errorf("stored %d readings from a rejected batch", count)
	}
}

func TestIngestBatch_Signatures(t *testing.T) {
	f := setup(t)
	svc := f.service("s3cret")

	signed := validInput("dev-1", "2024-04-16T11:59:00Z")
	signed.Signature = Sign("s3cret", 1000, signed.Timestamp)

	if _, err := svc.IngestBatch(context.Background(), []ReadingInput{signed}); err != nil {
		t.Fatalf("signed batch rejected: %v", err)
	}

	forged := validInput("dev-1", "2024-04-16T11:59:10Z")
	forged.Signature = Sign("wrong", 1000, forged.Timestamp)
	unsigned := validInput("dev-1", "2024-04-16T11:59:20Z")

	_, err := svc.IngestBatch(context.Background(), []ReadingInput{forged, unsigned})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(verr.Fields["[0].signature"]) == 0 || len(verr.Fields["[1].signature"]) == 0 {
		t.Errorf("signature errors missing: %v", verr.Fields)
	}
}

func TestIngestBatch_EvaluationErrorDoesNotFail(t *testing.T) {
	f := setup(t)
	f.evaluator.err = errors.New("rules exploded")
	svc := f.service("")

	result, err := svc.IngestBatch(context.Background(), []ReadingInput{validInput("dev-1", "2024-04-16T11:59:00Z")})
	if err != nil {
		t.Fatalf("IngestBatch() error = %v", err)
	}
	if result.Stored != 1 {
		t.Errorf("Stored = %d, want 1", result.Stored)
	}
}

func TestIngestOne(t *testing.T) {
	f := setup(t)
	svc := f.service("")

	reading, err := svc.IngestOne(context.Background(), f.sensor, validInput("", ""))
	if err != nil {
		t.Fatalf("IngestOne() error = %v", err)
	}
	if !reading.Timestamp.Equal(time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v, want server time", reading.Timestamp)
	}
	if reading.ReactivePower != 750 || reading.SensorID != f.sensor.ID {
		t.Errorf("reading = %+v", reading)
	}

	missing := validInput("", "")
	missing.Voltage = nil
	_, err = svc.IngestOne(context.Background(), f.sensor, missing)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields["voltage"]) == 0 {
		t.Errorf("error = %v, want voltage field error", err)
	}
}
