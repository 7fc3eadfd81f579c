// Package watchdog periodically marks silent sensors offline and resolves
// offline alerts for sensors that report again.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/alerting"
	"github.com/good-yellow-bee/wattmon/internal/metrics"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = time.Minute

// ErrSweepInProgress is returned by TrySweep while another sweep runs.
var ErrSweepInProgress = errors.New("sweep already in progress")

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked  int           `json:"checked"`
	Online   int           `json:"online"`
	Offline  int           `json:"offline"`
	Raised   int           `json:"raised"`
	Resolved int           `json:"resolved"`
	Duration time.Duration `json:"duration"`
}

// Options configures a Watchdog.
type Options struct {
	Logger zerolog.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Watchdog checks every active sensor's latest reading against its offline
// threshold. Alert creation goes through the evaluator so offline alerts share
// the dedup and notification path of reading alerts.
type Watchdog struct {
	store     storage.Storage
	evaluator *alerting.Evaluator
	log       zerolog.Logger
	now       func() time.Time

	// mu is held for the duration of a sweep.
	mu sync.Mutex
}

// New creates a watchdog.
func New(store storage.Storage, evaluator *alerting.Evaluator, opts Options) *Watchdog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watchdog{
		store:     store,
		evaluator: evaluator,
		log:       opts.Logger.With().Str("component", "watchdog").Logger(),
		now:       opts.Now,
	}
}

// Run sweeps every interval until ctx is done. A tick that finds a manual
// sweep still running is skipped.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", interval).Msg("watchdog started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watchdog stopped")
			return nil
		case <-ticker.C:
			if _, err := w.TrySweep(ctx); err != nil {
				if errors.Is(err, ErrSweepInProgress) {
					w.log.Debug().Msg("sweep skipped, previous sweep still running")
					continue
				}
				w.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep runs one sweep, waiting for a running sweep to finish first.
func (w *Watchdog) Sweep(ctx context.Context) (SweepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweep(ctx, w.now())
}

// TrySweep runs one sweep unless another is in progress, in which case it
// returns ErrSweepInProgress immediately.
func (w *Watchdog) TrySweep(ctx context.Context) (SweepResult, error) {
	if !w.mu.TryLock() {
		return SweepResult{}, ErrSweepInProgress
	}
	defer w.mu.Unlock()
	return w.sweep(ctx, w.now())
}

// SweepAt runs one sweep as of now (useful for testing).
func (w *Watchdog) SweepAt(ctx context.Context, now time.Time) (SweepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweep(ctx, now)
}

func (w *Watchdog) sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	var result SweepResult

	sensors, err := w.store.Sensors().ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("list active sensors: %w", err)
	}

	houses := make(map[string]*models.House)
	raised := make(map[string][]*models.Alert)
	var errs []error

	for _, sensor := range sensors {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		online, alert, resolved, err := w.checkSensor(ctx, sensor, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("sensor %s: %w", sensor.ID, err))
			continue
		}
		if online {
			result.Online++
		} else {
			result.Offline++
		}
		if resolved {
			result.Resolved++
		}
		if alert != nil {
			result.Raised++
			raised[sensor.HouseID] = append(raised[sensor.HouseID], alert)
		}
	}

	for houseID, alerts := range raised {
		house, ok := houses[houseID]
		if !ok {
			house, err = w.store.Houses().GetByID(ctx, houseID)
			if err != nil {
				errs = append(errs, fmt.Errorf("house %s: %w", houseID, err))
				continue
			}
			houses[houseID] = house
		}
		w.evaluator.Notify(ctx, house, alerts)
	}

	result.Duration = time.Since(start)
	metrics.WatchdogSweepsTotal.Inc()
	metrics.WatchdogSweepDuration.Observe(result.Duration.Seconds())
	metrics.SensorsOnline.WithLabelValues("online").Set(float64(result.Online))
	metrics.SensorsOnline.WithLabelValues("offline").Set(float64(result.Offline))

	w.log.Debug().
		Int("checked", result.Checked).
		Int("offline", result.Offline).
		Int("raised", result.Raised).
		Int("resolved", result.Resolved).
		Dur("duration", result.Duration).
		Msg("sweep complete")

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// checkSensor reports whether the sensor is online and applies the resulting
// transition: a new offline alert, or resolution of the open one.
func (w *Watchdog) checkSensor(ctx context.Context, sensor *models.Sensor, now time.Time) (online bool, raised *models.Alert, resolved bool, err error) {
	latest, err := w.store.Readings().Latest(ctx, sensor.ID, 1)
	if err != nil {
		return false, nil, false, fmt.Errorf("latest reading: %w", err)
	}

	threshold := sensor.OfflineThreshold()
	if len(latest) > 0 && sensor.IsOnlineAt(latest[0].Timestamp, now) {
		alert, err := w.evaluator.ResolveOpen(ctx, sensor, models.AlertTypeSensorOffline, "", now, true)
		return true, nil, alert != nil, err
	}

	p := w.evaluator.Rules().Policy(models.AlertTypeSensorOffline)
	if !p.Enabled {
		return false, nil, false, nil
	}

	candidate := &models.Alert{
		HouseID:   sensor.HouseID,
		SensorID:  &sensor.ID,
		Type:      models.AlertTypeSensorOffline,
		Severity:  p.Severity,
		Threshold: models.Float(threshold.Seconds()),
		CreatedAt: now,
	}
	if len(latest) == 0 {
		candidate.Message = fmt.Sprintf("Sensor %q has never reported data (offline threshold %d s)", sensor.Name, int(threshold.Seconds()))
	} else {
		silence := now.Sub(latest[0].Timestamp)
		candidate.Value = models.Float(silence.Seconds())
		candidate.Message = fmt.Sprintf("Sensor %q has not reported data for %s (offline threshold %d s)",
			sensor.Name, silence.Round(time.Second), int(threshold.Seconds()))
	}

	alert, err := w.evaluator.Raise(ctx, candidate, p)
	return false, alert, false, err
}
