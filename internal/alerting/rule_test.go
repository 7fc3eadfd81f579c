package alerting

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

func TestRuleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty name",
			rule:    Rule{},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name:    "missing expression",
			rule:    Rule{Name: "low-pf"},
			wantErr: true,
			errMsg:  "expression is required",
		},
		{
			name:    "invalid expression",
			rule:    Rule{Name: "low-pf", Expression: "pf <"},
			wantErr: true,
			errMsg:  "invalid expression",
		},
		{
			name:    "invalid cooldown",
			rule:    Rule{Name: "low-pf", Expression: "pf != nil && pf < 0.7", Cooldown: "soon"},
			wantErr: true,
			errMsg:  "invalid cooldown",
		},
		{
			name:    "invalid severity",
			rule:    Rule{Name: "low-pf", Expression: "pf != nil && pf < 0.7", Severity: "high"},
			wantErr: true,
			errMsg:  "invalid severity",
		},
		{
			name:    "invalid value field",
			rule:    Rule{Name: "low-pf", Expression: "pf != nil && pf < 0.7", Value: "watts"},
			wantErr: true,
			errMsg:  "invalid value field",
		},
		{
			name: "valid rule",
			rule: Rule{Name: "low-pf", Expression: "pf != nil && pf < 0.7", Value: "pf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRuleDefaults(t *testing.T) {
	rule := &Rule{Name: "low-pf", Expression: "pf != nil && pf < 0.7"}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	p := rule.Policy()
	if p.Severity != models.SeverityWarning {
		t.Errorf("Severity = %q, want warning", p.Severity)
	}
	if p.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown = %v, want 10m", p.Cooldown)
	}
	if !p.Unresolved || !p.Enabled {
		t.Errorf("policy = %+v", p)
	}
}

func TestRuleMessage(t *testing.T) {
	sensor := &models.Sensor{Name: "Boiler"}
	house := &models.House{Name: "Cottage"}

	r := &Rule{Name: "low-pf", Description: "poor power factor"}
	if got := r.message(sensor, house); got != `Rule "low-pf" matched for sensor "Boiler": poor power factor` {
		t.Errorf("default message = %q", got)
	}

	r.Message = "{sensor} in {house} has a poor power factor"
	if got := r.message(sensor, house); got != "Boiler in Cottage has a poor power factor" {
		t.Errorf("templated message = %q", got)
	}
}

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()

	tests := []struct {
		alertType  models.AlertType
		severity   models.Severity
		cooldown   time.Duration
		unresolved bool
	}{
		{models.AlertTypePowerHigh, models.SeverityWarning, 10 * time.Minute, true},
		{models.AlertTypeVoltageAnomaly, models.SeverityCritical, 60 * time.Minute, true},
		{models.AlertTypeCurrentHigh, models.SeverityCritical, 10 * time.Minute, true},
		{models.AlertTypeSensorOnline, models.SeverityInfo, 10 * time.Minute, false},
		{models.AlertTypeMonthlyLimit, models.SeverityCritical, 0, false},
		{models.AlertTypeSensorOffline, models.SeverityCritical, 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.alertType), func(t *testing.T) {
			got := p[tt.alertType]
			if got.Severity != tt.severity || got.Cooldown != tt.cooldown || got.Unresolved != tt.unresolved || !got.Enabled {
				t.Errorf("policy = %+v", got)
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	yamlContent := `
builtin:
  power_high:
    severity: critical
    cooldown: 5m
  voltage_anomaly:
    enabled: false
rules:
  - name: low-power-factor
    description: Power factor below 0.7
    expression: pf != nil && pf < 0.7
    severity: info
    cooldown: 30m
    value: pf
    threshold: 0.7
  - name: night-load
    expression: power != nil && power > 1500
    enabled: false
`

	set, err := LoadRules(strings.NewReader(yamlContent))
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	power := set.Policy(models.AlertTypePowerHigh)
	if power.Severity != models.SeverityCritical || power.Cooldown != 5*time.Minute || !power.Unresolved {
		t.Errorf("power_high policy = %+v", power)
	}
	if set.Policy(models.AlertTypeVoltageAnomaly).Enabled {
		t.Error("voltage_anomaly should be disabled")
	}
	if got := set.Policy(models.AlertTypeCurrentHigh); got != DefaultPolicies()[models.AlertTypeCurrentHigh] {
		t.Errorf("current_high policy changed: %+v", got)
	}

	if len(set.Rules) != 2 {
		t.Fatalf("len(Rules) = %d, want 2", len(set.Rules))
	}
	pf := set.Rules[0]
	if pf.Policy().Cooldown != 30*time.Minute || pf.Severity != models.SeverityInfo {
		t.Errorf("low-power-factor = %+v", pf.Policy())
	}
	if pf.Threshold == nil || *pf.Threshold != 0.7 {
		t.Errorf("Threshold = %v", pf.Threshold)
	}
	if pf.Matcher() == nil {
		t.Error("matcher not compiled")
	}
	if set.Rules[1].IsEnabled() {
		t.Error("night-load should be disabled")
	}
}

func TestLoadRulesErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"bad yaml", "rules: [", "failed to parse"},
		{"unknown field", "rulez: []", "failed to parse"},
		{"unknown builtin", "builtin:\n  power_low: {}", "unknown built-in rule"},
		{"custom type is not builtin", "builtin:\n  other: {}", "unknown built-in rule"},
		{"bad builtin severity", "builtin:\n  power_high: {severity: loud}", "invalid severity"},
		{"bad builtin cooldown", "builtin:\n  power_high: {cooldown: forever}", "invalid cooldown"},
		{"duplicate names", "rules:\n  - {name: a, expression: power > 1}\n  - {name: a, expression: power > 2}", "duplicate rule name"},
		{"invalid rule", "rules:\n  - {name: a}", "invalid rule at index 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadRulesEmpty(t *testing.T) {
	set, err := LoadRules(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(set.Rules) != 0 || len(set.Policies) != len(DefaultPolicies()) {
		t.Errorf("empty file should yield defaults, got %+v", set)
	}

	set, err = LoadRulesFromBytes([]byte("rules:\n  - {name: hot, expression: power > 100}\n"))
	if err != nil {
		t.Fatalf("LoadRulesFromBytes() error = %v", err)
	}
	if len(set.Rules) != 1 {
		t.Errorf("len(Rules) = %d, want 1", len(set.Rules))
	}
}

func TestKeyLock(t *testing.T) {
	locks := newKeyLock()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("sensor:s1|power_high|")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max holders = %d, want 1", maxInside)
	}
	if locks.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after release", locks.Len())
	}
}

func TestAlertKey(t *testing.T) {
	sensorID := "s1"
	if got := alertKey("h1", &sensorID, models.AlertTypeOther, "low-pf"); got != "sensor:s1|other|low-pf" {
		t.Errorf("sensor key = %q", got)
	}
	if got := alertKey("h1", nil, models.AlertTypeMonthlyLimit, ""); got != "house:h1|monthly_limit|" {
		t.Errorf("house key = %q", got)
	}
}
