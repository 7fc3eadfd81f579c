package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/metrics"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// RulesWatcher reloads a rules file into an evaluator when it changes.
// Invalid files are rejected and the previous rules stay active.
type RulesWatcher struct {
	path      string
	evaluator *Evaluator
	watcher   *fsnotify.Watcher
	log       zerolog.Logger
}

// NewRulesWatcher creates a watcher for path.
func NewRulesWatcher(path string, evaluator *Evaluator, logger zerolog.Logger) (*RulesWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &RulesWatcher{
		path:      absPath,
		evaluator: evaluator,
		watcher:   watcher,
		log:       logger.With().Str("component", "rules-watcher").Str("path", absPath).Logger(),
	}, nil
}

// Run watches the rules file until ctx is done.
func (w *RulesWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Watch the directory so atomic replace (rename over the file) is seen.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload loads the rules file and swaps it into the evaluator.
func (w *RulesWatcher) Reload() bool {
	set, err := LoadRulesFromFile(w.path)
	if err != nil {
		metrics.RulesReloadsTotal.WithLabelValues("failure").Inc()
		w.log.Error().Err(err).Msg("rules reload rejected, keeping previous rules")
		return false
	}
	w.evaluator.SetRules(set)
	metrics.RulesReloadsTotal.WithLabelValues("success").Inc()
	w.log.Info().Int("custom_rules", len(set.Rules)).Msg("rules reloaded")
	return true
}
