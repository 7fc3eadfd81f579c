// Package notifier provides notification dispatching for alert digests.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "email", "sns").
	Name() string
	// Send delivers a digest.
	Send(ctx context.Context, digest *Digest) error
	// Close releases any resources.
	Close() error
}

// Digest is the batch of alerts raised for one house in one evaluation pass.
type Digest struct {
	HouseID   string
	HouseName string
	OwnerName string
	// Recipient is the resolved email address. Empty means nobody to notify.
	Recipient string
	Alerts    []*models.Alert
	CreatedAt time.Time
}

// NewDigest builds a digest for a house addressed to its alert email or, if
// unset, to the owner's email.
func NewDigest(house *models.House, owner *models.User, alerts []*models.Alert) *Digest {
	d := &Digest{
		HouseID:   house.ID,
		HouseName: house.Name,
		Recipient: house.AlertEmail,
		Alerts:    alerts,
		CreatedAt: time.Now().UTC(),
	}
	if owner != nil {
		d.OwnerName = owner.Username
		if d.Recipient == "" {
			d.Recipient = owner.Email
		}
	}
	return d
}

// MaxSeverity returns the most severe level among the digest's alerts.
func (d *Digest) MaxSeverity() models.Severity {
	top := models.SeverityInfo
	for _, a := range d.Alerts {
		if severityRank(a.Severity) > severityRank(top) {
			top = a.Severity
		}
	}
	return top
}

// Subject returns the notification subject line.
func (d *Digest) Subject() string {
	noun := "alert"
	if len(d.Alerts) != 1 {
		noun = "alerts"
	}
	return fmt.Sprintf("[%s] WattMon: %d %s for %s",
		strings.ToUpper(string(d.MaxSeverity())), len(d.Alerts), noun, d.HouseName)
}

// AlertIDs returns the ids of the digest's alerts.
func (d *Digest) AlertIDs() []string {
	ids := make([]string, 0, len(d.Alerts))
	for _, a := range d.Alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}

var (
	// ErrRateLimited is returned when a notification is dropped due to rate limiting.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrNoRecipient is returned for digests without a recipient.
	ErrNoRecipient = errors.New("digest has no recipient")
	// ErrNoChannels is returned when no notifier is registered.
	ErrNoChannels = errors.New("no notification channels registered")
)

// Dispatcher manages multiple notifiers and routes digests.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a new notification dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Outcome records which channels delivered a digest.
type Outcome struct {
	Delivered []string
	Failed    map[string]error
}

// OK reports whether the named channel delivered the digest.
func (o *Outcome) OK(name string) bool {
	if o == nil {
		return false
	}
	for _, n := range o.Delivered {
		if n == name {
			return true
		}
	}
	return false
}

// Emailed reports whether the digest counts as emailed. With an email
// channel registered only its delivery counts. Without one, every channel
// must have delivered.
func (o *Outcome) Emailed() bool {
	if o == nil || len(o.Delivered) == 0 {
		return false
	}
	if _, failed := o.Failed[EmailChannel]; failed {
		return false
	}
	if o.OK(EmailChannel) {
		return true
	}
	return len(o.Failed) == 0
}

// Err joins the per-channel failures, or returns nil.
func (o *Outcome) Err() error {
	if o == nil || len(o.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(o.Failed))
	for name := range o.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, o.Failed[name]))
	}
	return errors.Join(errs...)
}

// Dispatch sends a digest to every registered notifier and reports the
// per-channel outcome. The error is non-nil only when no notifier delivered
// it, in which case the rate limit token is refunded.
func (d *Dispatcher) Dispatch(ctx context.Context, digest *Digest) (*Outcome, error) {
	if digest == nil || len(digest.Alerts) == 0 {
		return &Outcome{}, nil
	}
	if digest.Recipient == "" {
		return nil, ErrNoRecipient
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.notifiers) == 0 {
		return nil, ErrNoChannels
	}

	// Check rate limit
	token, ok := d.rateLimiter.Acquire()
	if !ok {
		return nil, ErrRateLimited
	}

	out := &Outcome{Failed: make(map[string]error)}
	for name, n := range d.notifiers {
		if err := n.Send(ctx, digest); err != nil {
			out.Failed[name] = err
			continue
		}
		out.Delivered = append(out.Delivered, name)
	}
	sort.Strings(out.Delivered)

	if len(out.Delivered) == 0 {
		token.Cancel()
		return out, fmt.Errorf("notification errors: %w", out.Err())
	}
	return out, nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}
