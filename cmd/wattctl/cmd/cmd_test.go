package cmd

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/ingest"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateUserAndResolve(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	user, err := createUser(ctx, store, " alice ", "alice@example.com", models.RoleUser, "Sup3r-Secret-Pass")
	if err != nil {
		t.Fatalf("createUser: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want trimmed", user.Username)
	}

	for _, ref := range []string{"alice", user.ID} {
		got, err := resolveUser(ctx, store, ref)
		if err != nil {
			t.Fatalf("resolveUser(%q): %v", ref, err)
		}
		if got.ID != user.ID {
			t.Errorf("resolveUser(%q) = %s", ref, got.ID)
		}
	}

	if _, err := resolveUser(ctx, store, "nobody"); err == nil {
		t.Error("expected error for unknown user")
	}
	if _, err := createUser(ctx, store, "alice", "other@example.com", models.RoleUser, "Sup3r-Secret-Pass"); err == nil ||
		!strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate create error = %v", err)
	}
}

func TestCreateHouse(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	if _, err := createUser(ctx, store, "alice", "alice@example.com", models.RoleUser, "Sup3r-Secret-Pass"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		params    houseParams
		wantErr   bool
		wantPrice float64
	}{
		{"default price", houseParams{owner: "alice", name: "Home"}, false, models.DefaultPricePerKWh},
		{"explicit price", houseParams{owner: "alice", name: "Cabin", price: 1.2, hasPrice: true, limit: models.Float(250)}, false, 1.2},
		{"free power", houseParams{owner: "alice", name: "Solar", price: 0, hasPrice: true}, false, 0},
		{"missing name", houseParams{owner: "alice", name: "  "}, true, 0},
		{"negative price", houseParams{owner: "alice", name: "X", price: -1, hasPrice: true}, true, 0},
		{"zero limit", houseParams{owner: "alice", name: "X", limit: models.Float(0)}, true, 0},
		{"unknown owner", houseParams{owner: "bob", name: "X"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			house, err := createHouse(ctx, store, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createHouse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			stored, err := store.Houses().GetByID(ctx, house.ID)
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			if stored.PricePerKWh != tt.wantPrice {
				t.Errorf("PricePerKWh = %v, want %v", stored.PricePerKWh, tt.wantPrice)
			}
		})
	}
}

func TestCreateAndFindSensor(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	if _, err := createUser(ctx, store, "alice", "alice@example.com", models.RoleUser, "Sup3r-Secret-Pass"); err != nil {
		t.Fatal(err)
	}
	house, err := createHouse(ctx, store, houseParams{owner: "alice", name: "Home"})
	if err != nil {
		t.Fatal(err)
	}

	sensor, err := createSensor(ctx, store, house.ID, "Kitchen", "kitchen-01", "ground floor", 60)
	if err != nil {
		t.Fatalf("createSensor: %v", err)
	}
	if sensor.OfflineThreshold() != time.Minute {
		t.Errorf("OfflineThreshold = %v", sensor.OfflineThreshold())
	}

	for _, ref := range []string{sensor.ID, "kitchen-01"} {
		got, err := findSensor(ctx, store, ref)
		if err != nil {
			t.Fatalf("findSensor(%q): %v", ref, err)
		}
		if got.ID != sensor.ID {
			t.Errorf("findSensor(%q) = %s", ref, got.ID)
		}
	}

	if _, err := createSensor(ctx, store, house.ID, "Other", "kitchen-01", "", 30); err == nil {
		t.Error("expected error for duplicate external id")
	}
	if _, err := createSensor(ctx, store, "missing", "Garage", "", "", 30); err == nil {
		t.Error("expected error for unknown house")
	}
	if _, err := findSensor(ctx, store, "nope"); err == nil {
		t.Error("expected error for unknown sensor")
	}
}

func TestThresholdUpdate(t *testing.T) {
	tests := []struct {
		name    string
		start   models.Sensor
		update  thresholdUpdate
		wantErr bool
		check   func(t *testing.T, s *models.Sensor)
	}{
		{
			name:   "set power keeps others",
			start:  models.Sensor{CurrentThreshold: models.Float(10)},
			update: thresholdUpdate{power: models.Float(2000)},
			check: func(t *testing.T, s *models.Sensor) {
				if *s.PowerThreshold != 2000 || *s.CurrentThreshold != 10 {
					t.Errorf("thresholds = %v %v", *s.PowerThreshold, *s.CurrentThreshold)
				}
			},
		},
		{
			name:   "clear then set",
			start:  models.Sensor{PowerThreshold: models.Float(1), CurrentThreshold: models.Float(2)},
			update: thresholdUpdate{clear: true, voltageMax: models.Float(253)},
			check: func(t *testing.T, s *models.Sensor) {
				if s.PowerThreshold != nil || s.CurrentThreshold != nil || *s.VoltageMaxThreshold != 253 {
					t.Errorf("sensor = %+v", s)
				}
			},
		},
		{
			name:    "inverted voltage window",
			start:   models.Sensor{VoltageMaxThreshold: models.Float(200)},
			update:  thresholdUpdate{voltageMin: models.Float(210)},
			wantErr: true,
		},
		{
			name:    "negative current",
			update:  thresholdUpdate{current: models.Float(-1)},
			wantErr: true,
		},
		{
			name:   "deactivate",
			start:  models.Sensor{IsActive: true},
			update: thresholdUpdate{active: boolPtr(false)},
			check: func(t *testing.T, s *models.Sensor) {
				if s.IsActive {
					t.Error("sensor still active")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.start
			err := tt.update.apply(&s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, &s)
			}
		})
	}
}

func TestReadingGenerator(t *testing.T) {
	gen := &readingGenerator{
		sensorID: "kitchen-01",
		power:    1800,
		voltage:  230,
		secret:   "device-secret",
		rng:      rand.New(rand.NewPCG(1, 2)),
	}
	end := time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC)
	readings := gen.series(end, 5, 10*time.Second)

	if len(readings) != 5 {
		t.Fatalf("got %d readings, want 5", len(readings))
	}
	if readings[4].Timestamp != "2024-04-16T12:00:00Z" || readings[0].Timestamp != "2024-04-16T11:59:20Z" {
		t.Errorf("timestamps = %s .. %s", readings[0].Timestamp, readings[4].Timestamp)
	}

	prevEnergy := 0.0
	for i, r := range readings {
		if !ingest.Verify("device-secret", *r.Power, r.Timestamp, r.Signature) {
			t.Errorf("[%d] signature does not verify", i)
		}
		apparent := *r.Voltage * *r.Current * *r.PF
		if math.Abs(apparent-*r.Power)/ *r.Power > 0.01 {
			t.Errorf("[%d] V*I*pf = %.1f, power = %.1f", i, apparent, *r.Power)
		}
		if *r.PF <= 0 || *r.PF > 1 {
			t.Errorf("[%d] pf = %v", i, *r.PF)
		}
		if *r.Energy < prevEnergy {
			t.Errorf("[%d] energy decreased", i)
		}
		prevEnergy = *r.Energy
	}
}

func TestPostReadings(t *testing.T) {
	var gotAuth string
	var gotCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/admin/readings" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var in []ingest.ReadingInput
		json.NewDecoder(r.Body).Decode(&in)
		gotCount = len(in)

		w.Header().Set("Content-Type", "application/json")
		if len(in) > 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"VALIDATION_FAILED","message":"invalid readings","details":{"[1].pf":["required"]}}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"status":"ok","stored":1,"skipped":0}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	one := []ingest.ReadingInput{{SensorID: "kitchen-01"}}
	resp, err := postReadings(ctx, srv.Client(), srv.URL+"/", "tok", one)
	if err != nil {
		t.Fatalf("postReadings: %v", err)
	}
	if resp.Stored != 1 || gotAuth != "Bearer tok" || gotCount != 1 {
		t.Errorf("resp = %+v, auth = %q, count = %d", resp, gotAuth, gotCount)
	}

	_, err = postReadings(ctx, srv.Client(), srv.URL, "tok", append(one, one[0]))
	if err == nil || !strings.Contains(err.Error(), "VALIDATION_FAILED") {
		t.Errorf("error = %v, want validation failure", err)
	}
}
