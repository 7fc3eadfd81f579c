package houses

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/wattmon/internal/api/auth"
	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/energy"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

var now = time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *storage.SQLiteStorage
	router   chi.Router
	owner    *models.User
	stranger *models.User
	admin    *models.User
	house    *models.House
	sensor   *models.Sensor
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "houses.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	f := &fixture{store: store}
	for _, u := range []**models.User{&f.owner, &f.stranger, &f.admin} {
		role := models.RoleUser
		if u == &f.admin {
			role = models.RoleAdmin
		}
		user := models.NewUser("user-"+uuid.NewString()[:8], "u@example.com", role)
		user.ID = uuid.NewString()
		user.PasswordHash = "hash"
		if err := store.Users().Create(ctx, user); err != nil {
			t.Fatalf("create user: %v", err)
		}
		*u = user
	}

	f.house = models.NewHouse(f.owner.ID, "Cottage")
	f.house.ID = uuid.NewString()
	f.house.PricePerKWh = 1
	if err := store.Houses().Create(ctx, f.house); err != nil {
		t.Fatalf("create house: %v", err)
	}
	f.sensor = models.NewSensor(f.house.ID, "Kitchen")
	f.sensor.ID = uuid.NewString()
	if err := store.Sensors().Create(ctx, f.sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}

	// One kW for the last ten minutes, one reading per 10 s.
	for ts := now.Add(-10 * time.Minute); !ts.After(now.Add(-10 * time.Second)); ts = ts.Add(10 * time.Second) {
		reading := &models.Reading{SensorID: f.sensor.ID, Timestamp: ts, Power: models.Float(1000)}
		if err := store.Readings().Create(ctx, reading); err != nil {
			t.Fatalf("create reading: %v", err)
		}
	}

	calc := energy.NewCalculator(store.Readings(), store.Sensors(), &energy.Options{Now: func() time.Time { return now }})
	h := NewHandler(store, calc, 0)

	r := chi.NewRouter()
	r.Get("/houses", h.ListHouses)
	r.Get("/houses/{id}", h.GetHouse)
	r.Get("/houses/{id}/statistics", h.Statistics)
	r.Get("/houses/{id}/comparison", h.Comparison)
	r.Get("/sensors", h.ListSensors)
	r.Get("/sensors/{id}", h.GetSensor)
	r.Get("/sensors/{id}/readings", h.Readings)
	r.Get("/sensors/{id}/live", h.Live)
	f.router = r

	return f
}

func (f *fixture) get(t *testing.T, user *models.User, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	claims := &auth.Claims{UserID: user.ID, Username: user.Username, Role: user.Role}
	req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		envelope := struct {
			Data any `json:"data"`
		}{Data: out}
		if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestOwnership(t *testing.T) {
	f := setupTest(t)

	paths := []string{
		"/houses/" + f.house.ID,
		"/houses/" + f.house.ID + "/statistics",
		"/houses/" + f.house.ID + "/comparison?period=day",
		"/sensors/" + f.sensor.ID,
		"/sensors/" + f.sensor.ID + "/readings",
		"/sensors/" + f.sensor.ID + "/live",
		"/sensors?house_id=" + f.house.ID,
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			if code := f.get(t, f.owner, path, nil); code != http.StatusOK {
				t.Errorf("owner status = %d, want 200", code)
			}
			if code := f.get(t, f.admin, path, nil); code != http.StatusOK {
				t.Errorf("admin status = %d, want 200", code)
			}
			if code := f.get(t, f.stranger, path, nil); code != http.StatusForbidden {
				t.Errorf("stranger status = %d, want 403", code)
			}
		})
	}
}

func TestMissingResources(t *testing.T) {
	f := setupTest(t)

	if code := f.get(t, f.stranger, "/houses/does-not-exist", nil); code != http.StatusForbidden {
		t.Errorf("user status = %d, want 403 so existence is not revealed", code)
	}
	if code := f.get(t, f.admin, "/houses/does-not-exist", nil); code != http.StatusNotFound {
		t.Errorf("admin status = %d, want 404", code)
	}
	if code := f.get(t, f.admin, "/sensors/does-not-exist", nil); code != http.StatusNotFound {
		t.Errorf("admin sensor status = %d, want 404", code)
	}
}

func TestListScopes(t *testing.T) {
	f := setupTest(t)

	var houses []*models.House
	f.get(t, f.owner, "/houses", &houses)
	if len(houses) != 1 || houses[0].ID != f.house.ID {
		t.Errorf("owner houses = %v", houses)
	}

	houses = nil
	f.get(t, f.stranger, "/houses", &houses)
	if len(houses) != 0 {
		t.Errorf("stranger houses = %v", houses)
	}

	var sensors []*SensorResponse
	f.get(t, f.owner, "/sensors", &sensors)
	if len(sensors) != 1 || !sensors[0].IsOnline || sensors[0].LastSeen == nil {
		t.Fatalf("owner sensors = %+v", sensors)
	}
}

func TestReadingsWindow(t *testing.T) {
	f := setupTest(t)
	base := "/sensors/" + f.sensor.ID + "/readings"

	var resp ReadingsResponse
	if code := f.get(t, f.owner, base, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Count != 60 {
		t.Errorf("default window count = %d, want 60", resp.Count)
	}

	resp = ReadingsResponse{}
	from := now.Add(-time.Minute).Format(time.RFC3339)
	if code := f.get(t, f.owner, base+"?from="+from, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Count != 6 {
		t.Errorf("last minute count = %d, want 6", resp.Count)
	}

	bad := []string{
		"?from=yesterday",
		"?from=" + now.Format(time.RFC3339) + "&to=" + now.Add(-time.Hour).Format(time.RFC3339),
		"?from=" + now.Add(-90*24*time.Hour).Format(time.RFC3339),
	}
	for _, q := range bad {
		if code := f.get(t, f.owner, base+q, nil); code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, code)
		}
	}
}

func TestStatisticsAndLive(t *testing.T) {
	f := setupTest(t)

	var stats energy.Statistics
	if code := f.get(t, f.owner, "/houses/"+f.house.ID+"/statistics", &stats); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if stats.DayComparison == nil || stats.Prediction == nil || len(stats.SensorRankings) != 1 {
		t.Errorf("statistics = %+v", stats)
	}
	if stats.MonthlyKWh <= 0 {
		t.Errorf("MonthlyKWh = %v, want > 0", stats.MonthlyKWh)
	}

	if code := f.get(t, f.owner, "/houses/"+f.house.ID+"/comparison?period=year", nil); code != http.StatusBadRequest {
		t.Errorf("bad period status = %d, want 400", code)
	}

	var live energy.LiveSnapshot
	if code := f.get(t, f.owner, "/sensors/"+f.sensor.ID+"/live", &live); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !live.IsOnline || live.CostPerHour != 1 {
		t.Errorf("live = %+v", live)
	}
}
