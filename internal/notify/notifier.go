package notify

import (
	"context"
	"time"

	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/internal/metrics"
)

// DefaultTimeout bounds one delivery, retries included.
const DefaultTimeout = 30 * time.Second

// Notifier delivers events to one destination.
type Notifier interface {
	Name() string
	SupportsEvent(t EventType) bool
	Send(ctx context.Context, ev Event) error
}

// Dispatcher fans an event out to every notifier that wants it. Delivery is
// synchronous and best-effort: failures are logged and counted, never
// returned, so a broken webhook cannot change the outcome of a rotation.
// A nil *Dispatcher discards events.
type Dispatcher struct {
	notifiers  []Notifier
	deployment string
	logger     *logging.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	now        func() time.Time
}

// NewDispatcher returns a dispatcher over notifiers.
func NewDispatcher(deployment string, logger *logging.Logger, m *metrics.Metrics, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		notifiers:  notifiers,
		deployment: deployment,
		logger:     logger,
		metrics:    m,
		timeout:    DefaultTimeout,
		now:        time.Now,
	}
}

// Notifiers returns the configured notifiers.
func (d *Dispatcher) Notifiers() []Notifier {
	if d == nil {
		return nil
	}
	return append([]Notifier(nil), d.notifiers...)
}

// Notify delivers ev. It runs even if ctx is already cancelled: the
// operator interrupting a partial rotation is exactly when the report
// matters.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}
	if ev.Deployment == "" {
		ev.Deployment = d.deployment
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	for _, n := range d.notifiers {
		if !n.SupportsEvent(ev.Type) {
			continue
		}
		if err := n.Send(sendCtx, ev); err != nil {
			d.logger.Warn("Failed to notify %s of %s: %v", n.Name(), ev.Type, err)
			d.metrics.RecordNotification(n.Name(), "failed")
			continue
		}
		d.logger.Debug("Notified %s of %s", n.Name(), ev.Type)
		d.metrics.RecordNotification(n.Name(), "sent")
	}
}
