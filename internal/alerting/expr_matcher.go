package alerting

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// readingFields are the numeric reading fields exposed to expressions.
var readingFields = []string{"voltage", "current", "power", "energy", "frequency", "pf", "reactive_power"}

func isReadingField(name string) bool {
	for _, f := range readingFields {
		if f == name {
			return true
		}
	}
	return false
}

// ExprMatcher compiles and evaluates expr-lang expressions against readings.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// compile compiles the expression with the expected environment.
func (m *ExprMatcher) compile() error {
	// Missing measurements are nil at run time, so the numeric fields are
	// left untyped. Expressions guard them with "pf != nil && pf < 0.7".
	program, err := expr.Compile(m.expression,
		expr.Env(buildSampleEnv()),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}

	m.program = program
	return nil
}

// Match evaluates the expression against a reading.
func (m *ExprMatcher) Match(reading *models.Reading, sensor *models.Sensor, house *models.House) (bool, error) {
	result, err := expr.Run(m.program, buildEnv(reading, sensor, house))
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}

	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

// buildSampleEnv creates a sample environment for expression compilation.
func buildSampleEnv() map[string]any {
	env := map[string]any{
		"sensor": map[string]any{},
		"house":  map[string]any{},
	}
	for _, f := range readingFields {
		env[f] = nil
	}
	return env
}

// buildEnv creates an evaluation environment from a reading.
func buildEnv(r *models.Reading, sensor *models.Sensor, house *models.House) map[string]any {
	env := map[string]any{
		"voltage":        floatOrNil(r.Voltage),
		"current":        floatOrNil(r.Current),
		"power":          floatOrNil(r.Power),
		"energy":         floatOrNil(r.Energy),
		"frequency":      floatOrNil(r.Frequency),
		"pf":             floatOrNil(r.PF),
		"reactive_power": r.ReactivePower,
		"sensor":         map[string]any{},
		"house":          map[string]any{},
	}
	if sensor != nil {
		env["sensor"] = map[string]any{
			"id":       sensor.ID,
			"name":     sensor.Name,
			"location": sensor.Location,
		}
	}
	if house != nil {
		env["house"] = map[string]any{
			"id":            house.ID,
			"name":          house.Name,
			"price_per_kwh": house.PricePerKWh,
		}
	}
	return env
}

// readingValue returns the named reading field.
func readingValue(r *models.Reading, field string) *float64 {
	switch field {
	case "voltage":
		return r.Voltage
	case "current":
		return r.Current
	case "power":
		return r.Power
	case "energy":
		return r.Energy
	case "frequency":
		return r.Frequency
	case "pf":
		return r.PF
	case "reactive_power":
		return models.Float(r.ReactivePower)
	default:
		return nil
	}
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
