package watchdog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/alerting"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/notifier"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

var t0 = time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu      sync.Mutex
	digests []*notifier.Digest
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, digest *notifier.Digest) (*notifier.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digests = append(d.digests, digest)
	return &notifier.Outcome{Delivered: []string{notifier.EmailChannel}}, nil
}

type fixture struct {
	store      *storage.SQLiteStorage
	watchdog   *Watchdog
	evaluator  *alerting.Evaluator
	dispatcher *recordingDispatcher
	house      *models.House
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "watchdog.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	owner := models.NewUser("alice", "owner@example.com", models.RoleUser)
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

	dispatcher := &recordingDispatcher{}
	now := func() time.Time { return t0 }
	evaluator := alerting.NewEvaluator(store, alerting.Options{
		Dispatcher: dispatcher,
		Logger:     zerolog.Nop(),
		Now:        now,
	})

	return &fixture{
		store:      store,
		watchdog:   New(store, evaluator, Options{Logger: zerolog.Nop(), Now: now}),
		evaluator:  evaluator,
		dispatcher: dispatcher,
		house:      house,
	}
}

func (f *fixture) addSensor(t *testing.T, name string, lastReading *time.Time) *models.Sensor {
	t.Helper()
	ctx := context.Background()
	sensor := models.NewSensor(f.house.ID, name)
	sensor.ID = uuid.NewString()
	if err := f.store.Sensors().Create(ctx, sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}
	if lastReading != nil {
		f.addReading(t, sensor, *lastReading)
	}
	return sensor
}

func (f *fixture) addReading(t *testing.T, sensor *models.Sensor, ts time.Time) {
	t.Helper()
	r := &models.Reading{SensorID: sensor.ID, Timestamp: ts, Power: models.Float(100)}
	if err := f.store.Readings().Create(context.Background(), r); err != nil {
		t.Fatalf("create reading: %v", err)
	}
}

func (f *fixture) openOffline(t *testing.T, sensor *models.Sensor) []*models.Alert {
	t.Helper()
	alerts, err := f.store.Alerts().List(context.Background(), storage.AlertFilter{
		SensorID: sensor.ID,
		Type:     models.AlertTypeSensorOffline,
		Status:   "active",
	})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	return alerts
}

func at(d time.Duration) *time.Time {
	ts := t0.Add(d)
	return &ts
}

func TestSweep_MarksSilentSensorsOffline(t *testing.T) {
	f := setup(t)
	fresh := f.addSensor(t, "Fresh", at(-10*time.Second))
	stale := f.addSensor(t, "Stale", at(-5*time.Minute))
	never := f.addSensor(t, "Never", nil)

	result, err := f.watchdog.SweepAt(context.Background(), t0)
	if err != nil {
		t.Fatalf("SweepAt() error = %v", err)
	}

	if result.Checked != 3 || result.Online != 1 || result.Offline != 2 || result.Raised != 2 {
		t.Errorf("result = %+v", result)
	}
	if got := f.openOffline(t, fresh); len(got) != 0 {
		t.Errorf("fresh sensor has %d offline alerts", len(got))
	}

	alerts := f.openOffline(t, stale)
	if len(alerts) != 1 {
		t.Fatalf("stale sensor has %d offline alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Severity != models.SeverityCritical {
		t.Errorf("Severity = %q, want critical", a.Severity)
	}
	if a.Threshold == nil || *a.Threshold != 30 {
		t.Errorf("Threshold = %v, want 30", a.Threshold)
	}
	if a.Value == nil || *a.Value != 300 {
		t.Errorf("Value = %v, want 300", a.Value)
	}
	if len(f.openOffline(t, never)) != 1 {
		t.Error("sensor without readings should be offline")
	}

	if len(f.dispatcher.digests) != 1 || len(f.dispatcher.digests[0].Alerts) != 2 {
		t.Errorf("expected one digest with both alerts, got %d digests", len(f.dispatcher.digests))
	}
}

func TestSweep_Idempotent(t *testing.T) {
	f := setup(t)
	stale := f.addSensor(t, "Stale", at(-time.Hour))

	for i := 0; i < 3; i++ {
		result, err := f.watchdog.SweepAt(context.Background(), t0.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if i > 0 && result.Raised != 0 {
			t.Errorf("sweep %d raised %d alerts, want 0", i, result.Raised)
		}
	}
	if got := f.openOffline(t, stale); len(got) != 1 {
		t.Errorf("open offline alerts = %d, want 1", len(got))
	}
	if len(f.dispatcher.digests) != 1 {
		t.Errorf("dispatched %d digests, want 1", len(f.dispatcher.digests))
	}
}

func TestSweep_ResolvesWhenBackOnline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sensor := f.addSensor(t, "Boiler", at(-time.Hour))

	if _, err := f.watchdog.SweepAt(ctx, t0); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	open := f.openOffline(t, sensor)
	if len(open) != 1 {
		t.Fatalf("open offline alerts = %d, want 1", len(open))
	}

	f.addReading(t, sensor, t0.Add(time.Minute))
	result, err := f.watchdog.SweepAt(ctx, t0.Add(time.Minute+5*time.Second))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if result.Resolved != 1 || result.Online != 1 {
		t.Errorf("result = %+v", result)
	}

	stored, err := f.store.Alerts().GetByID(ctx, open[0].ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if !stored.IsResolved || !stored.IsRead || stored.ResolvedAt == nil {
		t.Errorf("alert resolved=%v read=%v resolved_at=%v", stored.IsResolved, stored.IsRead, stored.ResolvedAt)
	}
}

func TestSweep_OfflineOnlineCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sensor := f.addSensor(t, "Heat pump", at(-time.Hour))

	result, err := f.watchdog.SweepAt(ctx, t0)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if result.Raised != 1 {
		t.Fatalf("first sweep raised %d alerts, want 1", result.Raised)
	}
	offline := f.openOffline(t, sensor)
	if len(offline) != 1 {
		t.Fatalf("open offline alerts = %d, want 1", len(offline))
	}

	back := t0.Add(time.Minute)
	r := &models.Reading{SensorID: sensor.ID, Timestamp: back, Power: models.Float(100)}
	if err := f.store.Readings().Create(ctx, r); err != nil {
		t.Fatalf("create reading: %v", err)
	}
	created, err := f.evaluator.EvaluateAt(ctx, sensor, f.house, r, back)
	if err != nil {
		t.Fatalf("EvaluateAt() error = %v", err)
	}
	online := 0
	for _, a := range created {
		if a.Type == models.AlertTypeSensorOnline {
			online++
		}
	}
	if online != 1 {
		t.Errorf("reading created %d sensor_online alerts, want 1", online)
	}

	stored, err := f.store.Alerts().GetByID(ctx, offline[0].ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if !stored.IsResolved {
		t.Error("offline alert should be resolved by the reading")
	}

	for i := 1; i <= 3; i++ {
		result, err := f.watchdog.SweepAt(ctx, back.Add(time.Duration(i)*5*time.Second))
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if result.Raised != 0 || result.Online != 1 {
			t.Errorf("sweep %d result = %+v, want online without alerts", i, result)
		}
	}
	if got := f.openOffline(t, sensor); len(got) != 0 {
		t.Errorf("open offline alerts = %d, want 0", len(got))
	}
}

func TestSweep_InactiveSensorsIgnored(t *testing.T) {
	f := setup(t)
	sensor := f.addSensor(t, "Retired", nil)
	sensor.IsActive = false
	if err := f.store.Sensors().Update(context.Background(), sensor); err != nil {
		t.Fatalf("update sensor: %v", err)
	}

	result, err := f.watchdog.SweepAt(context.Background(), t0)
	if err != nil {
		t.Fatalf("SweepAt() error = %v", err)
	}
	if result.Checked != 0 || result.Raised != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestTrySweep_InProgress(t *testing.T) {
	f := setup(t)

	f.watchdog.mu.Lock()
	_, err := f.watchdog.TrySweep(context.Background())
	f.watchdog.mu.Unlock()
	if !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("TrySweep() error = %v, want ErrSweepInProgress", err)
	}

	if _, err := f.watchdog.TrySweep(context.Background()); err != nil {
		t.Errorf("TrySweep() after release error = %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := setup(t)
	f.addSensor(t, "Stale", at(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.watchdog.Run(ctx, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.dispatcher.mu.Lock()
		n := len(f.dispatcher.digests)
		f.dispatcher.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop")
	}

	f.dispatcher.mu.Lock()
	defer f.dispatcher.mu.Unlock()
	if len(f.dispatcher.digests) != 1 {
		t.Errorf("dispatched %d digests, want 1", len(f.dispatcher.digests))
	}
}
