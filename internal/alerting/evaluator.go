package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/energy"
	"github.com/good-yellow-bee/wattmon/internal/metrics"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/notifier"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Dispatcher delivers alert digests.
type Dispatcher interface {
	Dispatch(ctx context.Context, digest *notifier.Digest) (*notifier.Outcome, error)
}

// Options configures an Evaluator.
type Options struct {
	// Rules defaults to DefaultRuleSet.
	Rules *RuleSet
	// Dispatcher may be nil, in which case no notifications are sent.
	Dispatcher Dispatcher
	// Calculator integrates month-to-date energy for the monthly limit rule.
	// Defaults to a calculator over the store's readings.
	Calculator *energy.Calculator
	Logger     zerolog.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Evaluator runs the alert rules for incoming readings. All alert creation
// goes through Raise, which serializes per alert key and lets the store
// reject duplicates inside a transaction.
type Evaluator struct {
	store      storage.Storage
	calc       *energy.Calculator
	dispatcher Dispatcher
	rules      atomic.Pointer[RuleSet]
	locks      *keyLock
	log        zerolog.Logger
	now        func() time.Time
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(store storage.Storage, opts Options) *Evaluator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRuleSet()
	}
	if opts.Calculator == nil {
		calcOpts := energy.DefaultOptions()
		calcOpts.Now = opts.Now
		opts.Calculator = energy.NewCalculator(store.Readings(), store.Sensors(), calcOpts)
	}

	e := &Evaluator{
		store:      store,
		calc:       opts.Calculator,
		dispatcher: opts.Dispatcher,
		locks:      newKeyLock(),
		log:        opts.Logger.With().Str("component", "alerting").Logger(),
		now:        opts.Now,
	}
	e.rules.Store(opts.Rules)
	return e
}

// Rules returns the active rule set.
func (e *Evaluator) Rules() *RuleSet {
	return e.rules.Load()
}

// SetRules atomically replaces the active rule set.
func (e *Evaluator) SetRules(set *RuleSet) {
	if set == nil {
		set = DefaultRuleSet()
	}
	e.rules.Store(set)
}

// Evaluate runs all rules for a freshly stored reading, dispatches one digest
// for the alerts it created and returns them. Rule failures are joined into
// the returned error; alerts created by other rules are still returned.
func (e *Evaluator) Evaluate(ctx context.Context, sensor *models.Sensor, house *models.House, reading *models.Reading) ([]*models.Alert, error) {
	return e.EvaluateAt(ctx, sensor, house, reading, e.now())
}

// EvaluateAt evaluates a reading at a specific time (useful for testing).
func (e *Evaluator) EvaluateAt(ctx context.Context, sensor *models.Sensor, house *models.House, reading *models.Reading, now time.Time) ([]*models.Alert, error) {
	metrics.ReadingsEvaluated.Inc()
	rules := e.Rules()

	var created []*models.Alert
	var errs []error
	collect := func(alert *models.Alert, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		if alert != nil {
			created = append(created, alert)
		}
	}

	collect(e.checkPower(ctx, sensor, reading, rules.Policy(models.AlertTypePowerHigh), now))
	collect(e.checkVoltage(ctx, sensor, reading, rules.Policy(models.AlertTypeVoltageAnomaly), now))
	collect(e.checkCurrent(ctx, sensor, reading, rules.Policy(models.AlertTypeCurrentHigh), now))
	collect(e.checkBackOnline(ctx, sensor, rules.Policy(models.AlertTypeSensorOnline), now))
	collect(e.checkMonthlyLimit(ctx, house, rules.Policy(models.AlertTypeMonthlyLimit), now))

	for _, rule := range rules.Rules {
		if !rule.IsEnabled() {
			continue
		}
		collect(e.checkCustom(ctx, rule, sensor, house, reading, now))
	}

	if len(created) > 0 {
		e.Notify(ctx, house, created)
	}

	if len(errs) > 0 {
		metrics.EvaluationErrors.Add(float64(len(errs)))
		return created, fmt.Errorf("evaluate sensor %s: %w", sensor.ID, errors.Join(errs...))
	}
	return created, nil
}

func (e *Evaluator) checkPower(ctx context.Context, sensor *models.Sensor, r *models.Reading, p Policy, now time.Time) (*models.Alert, error) {
	if !p.Enabled || sensor.PowerThreshold == nil || r.Power == nil {
		return nil, nil
	}
	power, limit := *r.Power, *sensor.PowerThreshold
	if power <= limit {
		return nil, e.resolveCleared(ctx, sensor, models.AlertTypePowerHigh, "", now)
	}
	return e.Raise(ctx, &models.Alert{
		HouseID:   sensor.HouseID,
		SensorID:  &sensor.ID,
		Type:      models.AlertTypePowerHigh,
		Severity:  p.Severity,
		Message:   fmt.Sprintf("Sensor %q exceeded its power threshold: %.1f W (threshold %.1f W)", sensor.Name, power, limit),
		Value:     models.Float(power),
		Threshold: models.Float(limit),
		CreatedAt: now,
	}, p)
}

func (e *Evaluator) checkVoltage(ctx context.Context, sensor *models.Sensor, r *models.Reading, p Policy, now time.Time) (*models.Alert, error) {
	if !p.Enabled || r.Voltage == nil || (sensor.VoltageMinThreshold == nil && sensor.VoltageMaxThreshold == nil) {
		return nil, nil
	}
	voltage := *r.Voltage

	var bound float64
	var direction string
	switch {
	case sensor.VoltageMinThreshold != nil && voltage < *sensor.VoltageMinThreshold:
		bound, direction = *sensor.VoltageMinThreshold, "below minimum"
	case sensor.VoltageMaxThreshold != nil && voltage > *sensor.VoltageMaxThreshold:
		bound, direction = *sensor.VoltageMaxThreshold, "above maximum"
	default:
		return nil, e.resolveCleared(ctx, sensor, models.AlertTypeVoltageAnomaly, "", now)
	}

	return e.Raise(ctx, &models.Alert{
		HouseID:   sensor.HouseID,
		SensorID:  &sensor.ID,
		Type:      models.AlertTypeVoltageAnomaly,
		Severity:  p.Severity,
		Message:   fmt.Sprintf("Sensor %q reports voltage %s: %.1f V (threshold %.1f V)", sensor.Name, direction, voltage, bound),
		Value:     models.Float(voltage),
		Threshold: models.Float(bound),
		CreatedAt: now,
	}, p)
}

func (e *Evaluator) checkCurrent(ctx context.Context, sensor *models.Sensor, r *models.Reading, p Policy, now time.Time) (*models.Alert, error) {
	if !p.Enabled || sensor.CurrentThreshold == nil || r.Current == nil {
		return nil, nil
	}
	current, limit := *r.Current, *sensor.CurrentThreshold
	if current <= limit {
		return nil, e.resolveCleared(ctx, sensor, models.AlertTypeCurrentHigh, "", now)
	}
	return e.Raise(ctx, &models.Alert{
		HouseID:   sensor.HouseID,
		SensorID:  &sensor.ID,
		Type:      models.AlertTypeCurrentHigh,
		Severity:  p.Severity,
		Message:   fmt.Sprintf("Sensor %q exceeded its current threshold: %.1f A (threshold %.1f A)", sensor.Name, current, limit),
		Value:     models.Float(current),
		Threshold: models.Float(limit),
		CreatedAt: now,
	}, p)
}

// checkBackOnline looks at the gap between the two newest readings. A gap
// longer than the offline threshold means the sensor was silent and is now
// reporting again.
func (e *Evaluator) checkBackOnline(ctx context.Context, sensor *models.Sensor, p Policy, now time.Time) (*models.Alert, error) {
	if !p.Enabled {
		return nil, nil
	}
	latest, err := e.store.Readings().Latest(ctx, sensor.ID, 2)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	if len(latest) < 2 {
		return nil, nil
	}
	gap := latest[0].Timestamp.Sub(latest[1].Timestamp)
	if gap <= sensor.OfflineThreshold() {
		return nil, nil
	}

	if _, err := e.ResolveOpen(ctx, sensor, models.AlertTypeSensorOffline, "", now, true); err != nil {
		return nil, err
	}

	return e.Raise(ctx, &models.Alert{
		HouseID:   sensor.HouseID,
		SensorID:  &sensor.ID,
		Type:      models.AlertTypeSensorOnline,
		Severity:  p.Severity,
		Message:   fmt.Sprintf("Sensor %q is back online after %s without data", sensor.Name, gap.Round(time.Second)),
		Value:     models.Float(gap.Seconds()),
		Threshold: models.Float(sensor.OfflineThreshold().Seconds()),
		CreatedAt: now,
	}, p)
}

func (e *Evaluator) checkMonthlyLimit(ctx context.Context, house *models.House, p Policy, now time.Time) (*models.Alert, error) {
	if !p.Enabled || house == nil || !house.HasMonthlyLimit() {
		return nil, nil
	}
	monthStart := energy.StartOfMonth(now.In(e.calc.Location()))

	// Skip the integration when this month's alert already exists.
	existing, err := e.store.Alerts().Count(ctx, storage.AlertFilter{
		HouseID: house.ID,
		Type:    models.AlertTypeMonthlyLimit,
		Since:   monthStart,
	})
	if err != nil {
		return nil, fmt.Errorf("count monthly limit alerts: %w", err)
	}
	if existing > 0 {
		return nil, nil
	}

	// The range end is exclusive; include a reading stamped exactly now.
	kwh, err := e.calc.HouseEnergy(ctx, house.ID, monthStart, now.Add(time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("month-to-date energy: %w", err)
	}
	limit := *house.MonthlyLimitKWh
	if kwh <= limit {
		return nil, nil
	}

	return e.raise(ctx, &models.Alert{
		HouseID:   house.ID,
		Type:      models.AlertTypeMonthlyLimit,
		Severity:  p.Severity,
		Message:   fmt.Sprintf("House %q exceeded its monthly limit: %.2f kWh (limit %.2f kWh)", house.Name, kwh, limit),
		Value:     models.Float(kwh),
		Threshold: models.Float(limit),
		CreatedAt: now,
	}, storage.DedupQuery{Since: monthStart})
}

func (e *Evaluator) checkCustom(ctx context.Context, rule *Rule, sensor *models.Sensor, house *models.House, r *models.Reading, now time.Time) (*models.Alert, error) {
	matched, err := rule.Matcher().Match(r, sensor, house)
	if err != nil {
		// Typically a comparison against a field the device did not send.
		e.log.Debug().Err(err).Str("rule", rule.Name).Str("sensor", sensor.ID).Msg("expression failed")
		return nil, nil
	}
	if !matched {
		return nil, e.resolveCleared(ctx, sensor, models.AlertTypeOther, rule.Name, now)
	}

	alert := &models.Alert{
		HouseID:   sensor.HouseID,
		SensorID:  &sensor.ID,
		Type:      models.AlertTypeOther,
		Rule:      rule.Name,
		Severity:  rule.Severity,
		Message:   rule.message(sensor, house),
		Threshold: rule.Threshold,
		CreatedAt: now,
	}
	if rule.Value != "" {
		alert.Value = readingValue(r, rule.Value)
	}
	return e.Raise(ctx, alert, rule.Policy())
}

// Raise creates the candidate alert unless an alert with the same key blocks
// it under p. It returns nil without error when the candidate is a duplicate.
func (e *Evaluator) Raise(ctx context.Context, candidate *models.Alert, p Policy) (*models.Alert, error) {
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = e.now()
	}
	q := storage.DedupQuery{Unresolved: p.Unresolved}
	if p.Cooldown > 0 {
		q.Since = candidate.CreatedAt.Add(-p.Cooldown)
	}
	return e.raise(ctx, candidate, q)
}

func (e *Evaluator) raise(ctx context.Context, candidate *models.Alert, q storage.DedupQuery) (*models.Alert, error) {
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}

	unlock := e.locks.Lock(alertKey(candidate.HouseID, candidate.SensorID, candidate.Type, candidate.Rule))
	defer unlock()

	err := e.store.Alerts().CreateIfAbsent(ctx, candidate, q)
	if errors.Is(err, storage.ErrAlertExists) {
		metrics.AlertsSuppressedTotal.WithLabelValues(string(candidate.Type)).Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s alert: %w", candidate.Type, err)
	}

	metrics.AlertsRaisedTotal.WithLabelValues(string(candidate.Type), string(candidate.Severity)).Inc()
	e.log.Info().
		Str("alert_id", candidate.ID).
		Str("house_id", candidate.HouseID).
		Str("type", string(candidate.Type)).
		Str("rule", candidate.Rule).
		Str("severity", string(candidate.Severity)).
		Msg(candidate.Message)
	return candidate, nil
}

// ResolveOpen resolves the open alert of the given sensor, type and rule, if
// any, and returns it.
func (e *Evaluator) ResolveOpen(ctx context.Context, sensor *models.Sensor, t models.AlertType, rule string, at time.Time, markRead bool) (*models.Alert, error) {
	unlock := e.locks.Lock(alertKey(sensor.HouseID, &sensor.ID, t, rule))
	defer unlock()

	open, err := e.store.Alerts().FindUnresolved(ctx, sensor.ID, t, rule)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.store.Alerts().Resolve(ctx, open.ID, at, markRead); err != nil {
		return nil, fmt.Errorf("resolve %s alert: %w", t, err)
	}

	open.IsResolved = true
	open.IsRead = open.IsRead || markRead
	resolvedAt := at.UTC()
	open.ResolvedAt = &resolvedAt

	metrics.AlertsResolvedTotal.WithLabelValues(string(t)).Inc()
	e.log.Info().Str("alert_id", open.ID).Str("type", string(t)).Str("sensor", sensor.ID).Msg("alert resolved")
	return open, nil
}

func (e *Evaluator) resolveCleared(ctx context.Context, sensor *models.Sensor, t models.AlertType, rule string, now time.Time) error {
	_, err := e.ResolveOpen(ctx, sensor, t, rule, now, false)
	return err
}

// Notify sends one digest for alerts raised for house and marks them as
// emailed once the email channel delivered it. Failures are logged, never
// returned.
func (e *Evaluator) Notify(ctx context.Context, house *models.House, alerts []*models.Alert) {
	if e.dispatcher == nil || len(alerts) == 0 {
		return
	}
	log := e.log.With().Str("house_id", house.ID).Int("alerts", len(alerts)).Logger()

	owner, err := e.store.Users().GetByID(ctx, house.OwnerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("owner lookup failed")
	}

	digest := notifier.NewDigest(house, owner, alerts)
	if digest.Recipient == "" {
		metrics.NotificationsTotal.WithLabelValues("no_recipient").Inc()
		log.Debug().Msg("no recipient for alert digest")
		return
	}

	out, err := e.dispatcher.Dispatch(ctx, digest)
	if err != nil {
		result := "failed"
		if errors.Is(err, notifier.ErrRateLimited) {
			result = "rate_limited"
		}
		metrics.NotificationsTotal.WithLabelValues(result).Inc()
		log.Warn().Err(err).Str("recipient", digest.Recipient).Msg("alert digest not delivered")
		return
	}
	if failed := out.Err(); failed != nil {
		metrics.NotificationsTotal.WithLabelValues("partial").Inc()
		log.Warn().Err(failed).Strs("delivered", out.Delivered).Msg("alert digest partially delivered")
	} else {
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	// email_sent stays false unless the email itself went out.
	if !out.Emailed() {
		return
	}
	if err := e.store.Alerts().MarkEmailSent(ctx, digest.AlertIDs()); err != nil {
		log.Error().Err(err).Msg("failed to mark alerts as emailed")
		return
	}
	for _, a := range alerts {
		a.EmailSent = true
	}
}

func alertKey(houseID string, sensorID *string, t models.AlertType, rule string) string {
	owner := "house:" + houseID
	if sensorID != nil {
		owner = "sensor:" + *sensorID
	}
	return owner + "|" + string(t) + "|" + rule
}
