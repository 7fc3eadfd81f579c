// Package alerting evaluates readings against the built-in threshold rules
// and custom expression rules, raising deduplicated alerts and dispatching
// one notification digest per evaluation pass.
package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// Policy controls how alerts of one kind are raised.
type Policy struct {
	Severity models.Severity
	// Cooldown blocks a new alert when one with the same key was created
	// within this duration.
	Cooldown time.Duration
	// Unresolved blocks a new alert while one with the same key is open.
	Unresolved bool
	Enabled    bool
}

// DefaultPolicies returns the built-in rule policies.
func DefaultPolicies() map[models.AlertType]Policy {
	return map[models.AlertType]Policy{
		models.AlertTypePowerHigh: {
			Severity: models.SeverityWarning, Cooldown: 10 * time.Minute, Unresolved: true, Enabled: true,
		},
		models.AlertTypeVoltageAnomaly: {
			Severity: models.SeverityCritical, Cooldown: 60 * time.Minute, Unresolved: true, Enabled: true,
		},
		models.AlertTypeCurrentHigh: {
			Severity: models.SeverityCritical, Cooldown: 10 * time.Minute, Unresolved: true, Enabled: true,
		},
		models.AlertTypeSensorOnline: {
			Severity: models.SeverityInfo, Cooldown: 10 * time.Minute, Enabled: true,
		},
		// Monthly limit alerts are deduplicated from the start of the month,
		// so the cooldown is unused.
		models.AlertTypeMonthlyLimit: {
			Severity: models.SeverityCritical, Enabled: true,
		},
		models.AlertTypeSensorOffline: {
			Severity: models.SeverityCritical, Unresolved: true, Enabled: true,
		},
	}
}

// PolicyOverride adjusts a built-in policy from the rules file.
type PolicyOverride struct {
	Severity string `yaml:"severity,omitempty"`
	Cooldown string `yaml:"cooldown,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

// Rule is a custom expression rule.
type Rule struct {
	// Name is the unique identifier for the rule. It is stored on raised alerts.
	Name string `yaml:"name"`
	// Description provides details about what the rule detects.
	Description string `yaml:"description,omitempty"`
	// Expression is an expr-lang boolean expression over the reading.
	Expression string `yaml:"expression"`
	// Severity of raised alerts. Defaults to warning.
	Severity models.Severity `yaml:"severity,omitempty"`
	// Cooldown is the minimum time between repeated alerts. Defaults to 10m.
	Cooldown string `yaml:"cooldown,omitempty"`
	// Message is the alert message. {sensor} and {house} are replaced by names.
	Message string `yaml:"message,omitempty"`
	// Value names the reading field reported as the alert value.
	Value string `yaml:"value,omitempty"`
	// Threshold is reported alongside Value.
	Threshold *float64 `yaml:"threshold,omitempty"`
	// Enabled controls whether the rule is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	matcher          *ExprMatcher
	cooldownDuration time.Duration
}

const defaultRuleCooldown = 10 * time.Minute

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Validate validates and compiles the rule.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Expression == "" {
		return fmt.Errorf("expression is required for rule %q", r.Name)
	}

	matcher, err := NewExprMatcher(r.Expression)
	if err != nil {
		return fmt.Errorf("invalid expression for rule %q: %w", r.Name, err)
	}
	r.matcher = matcher

	r.cooldownDuration = defaultRuleCooldown
	if r.Cooldown != "" {
		d, err := time.ParseDuration(r.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q for rule %q: %w", r.Cooldown, r.Name, err)
		}
		r.cooldownDuration = d
	}

	if r.Severity == "" {
		r.Severity = models.SeverityWarning
	}
	if _, ok := models.ParseSeverity(string(r.Severity)); !ok {
		return fmt.Errorf("invalid severity %q for rule %q", r.Severity, r.Name)
	}

	if r.Value != "" && !isReadingField(r.Value) {
		return fmt.Errorf("invalid value field %q for rule %q", r.Value, r.Name)
	}

	return nil
}

// Policy returns the dedup policy for alerts raised by the rule.
func (r *Rule) Policy() Policy {
	return Policy{
		Severity:   r.Severity,
		Cooldown:   r.cooldownDuration,
		Unresolved: true,
		Enabled:    r.IsEnabled(),
	}
}

// Matcher returns the compiled expression.
func (r *Rule) Matcher() *ExprMatcher {
	return r.matcher
}

func (r *Rule) message(sensor *models.Sensor, house *models.House) string {
	if r.Message == "" {
		msg := fmt.Sprintf("Rule %q matched for sensor %q", r.Name, sensor.Name)
		if r.Description != "" {
			msg += ": " + r.Description
		}
		return msg
	}
	return strings.NewReplacer("{sensor}", sensor.Name, "{house}", house.Name).Replace(r.Message)
}

// RulesConfig represents the top-level YAML configuration.
type RulesConfig struct {
	Builtin map[string]PolicyOverride `yaml:"builtin,omitempty"`
	Rules   []*Rule                   `yaml:"rules"`
}

// RuleSet is a validated rules configuration.
type RuleSet struct {
	Policies map[models.AlertType]Policy
	Rules    []*Rule
}

// DefaultRuleSet returns the built-in policies without custom rules.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{Policies: DefaultPolicies()}
}

// Policy returns the policy for a built-in alert type.
func (s *RuleSet) Policy(t models.AlertType) Policy {
	if p, ok := s.Policies[t]; ok {
		return p
	}
	return DefaultPolicies()[t]
}

// Build validates the configuration and merges overrides into the defaults.
func (c *RulesConfig) Build() (*RuleSet, error) {
	set := DefaultRuleSet()

	for name, o := range c.Builtin {
		t, ok := models.ParseAlertType(name)
		if !ok || t == models.AlertTypeOther {
			return nil, fmt.Errorf("unknown built-in rule %q", name)
		}
		p := set.Policies[t]
		if o.Severity != "" {
			sev, ok := models.ParseSeverity(o.Severity)
			if !ok {
				return nil, fmt.Errorf("invalid severity %q for built-in rule %q", o.Severity, name)
			}
			p.Severity = sev
		}
		if o.Cooldown != "" {
			d, err := time.ParseDuration(o.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("invalid cooldown %q for built-in rule %q: %w", o.Cooldown, name, err)
			}
			p.Cooldown = d
		}
		if o.Enabled != nil {
			p.Enabled = *o.Enabled
		}
		set.Policies[t] = p
	}

	seen := make(map[string]bool, len(c.Rules))
	for i, rule := range c.Rules {
		if rule == nil {
			return nil, fmt.Errorf("invalid rule at index %d: empty", i)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true
		set.Rules = append(set.Rules, rule)
	}

	return set, nil
}
