package alerting

import (
	"testing"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

func TestExprMatcher_Compile(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{
			name:       "numeric comparison",
			expression: `power > 3000`,
		},
		{
			name:       "nil guarded",
			expression: `pf != nil && pf < 0.7`,
		},
		{
			name:       "boolean OR",
			expression: `frequency < 49.5 || frequency > 50.5`,
		},
		{
			name:       "sensor fields",
			expression: `sensor.location == "garage" && power > 1000`,
		},
		{
			name:       "invalid syntax",
			expression: `power > `,
			wantErr:    true,
		},
		{
			name:       "undefined variable",
			expression: `unknown_field == 1`,
			wantErr:    true,
		},
		{
			name:       "not boolean",
			expression: `"text"`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExprMatcher(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExprMatcher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExprMatcher_Match(t *testing.T) {
	sensor := &models.Sensor{ID: "s1", Name: "Boiler", Location: "garage"}
	house := &models.House{ID: "h1", Name: "Cottage", PricePerKWh: 0.8}

	tests := []struct {
		name       string
		expression string
		reading    *models.Reading
		want       bool
		wantErr    bool
	}{
		{
			name:       "power above",
			expression: `power > 3000`,
			reading:    &models.Reading{Power: models.Float(3500)},
			want:       true,
		},
		{
			name:       "power below",
			expression: `power > 3000`,
			reading:    &models.Reading{Power: models.Float(100)},
			want:       false,
		},
		{
			name:       "guarded missing field",
			expression: `pf != nil && pf < 0.7`,
			reading:    &models.Reading{},
			want:       false,
		},
		{
			name:       "low power factor",
			expression: `pf != nil && pf < 0.7`,
			reading:    &models.Reading{PF: models.Float(0.6)},
			want:       true,
		},
		{
			name:       "sensor and house context",
			expression: `sensor.location == "garage" && house.price_per_kwh * power / 1000 > 1`,
			reading:    &models.Reading{Power: models.Float(2000)},
			want:       true,
		},
		{
			name:       "reactive power always present",
			expression: `reactive_power > 500`,
			reading:    &models.Reading{ReactivePower: 750},
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewExprMatcher(tt.expression)
			if err != nil {
				t.Fatalf("NewExprMatcher() error = %v", err)
			}
			got, err := m.Match(tt.reading, sensor, house)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Match() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadingValue(t *testing.T) {
	r := &models.Reading{Power: models.Float(1200), ReactivePower: 42}
	if v := readingValue(r, "power"); v == nil || *v != 1200 {
		t.Errorf("power = %v", v)
	}
	if v := readingValue(r, "reactive_power"); v == nil || *v != 42 {
		t.Errorf("reactive_power = %v", v)
	}
	if v := readingValue(r, "voltage"); v != nil {
		t.Errorf("voltage = %v, want nil", *v)
	}
	if v := readingValue(r, "bogus"); v != nil {
		t.Error("unknown field should be nil")
	}
}
