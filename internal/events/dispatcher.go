package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rtb-inventory-api/internal/models"
)

// DefaultBuffer is the dispatcher queue length used when none is given
const DefaultBuffer = 256

// deliveryTimeout bounds a single sink call
const deliveryTimeout = 10 * time.Second

// Dispatcher queues events and delivers them from a single worker, so
// sinks see events in publish order.
type Dispatcher struct {
	audit    AuditSink
	notifier Notifier
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	done   chan struct{}
}

var _ Publisher = (*Dispatcher)(nil)

// NewDispatcher starts the delivery worker. Either sink may be nil.
func NewDispatcher(audit AuditSink, notifier Notifier, logger *slog.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		queue:    make(chan models.Event, buffer),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues ev. A full queue or a closed dispatcher drops the event
// with a warning rather than blocking the caller.
func (d *Dispatcher) Publish(ev models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("event dropped after close", "type", ev.EventType())
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("event queue full, dropping event", "type", ev.EventType())
	}
}

// Close stops accepting events and waits until queued ones are delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if d.audit != nil {
		if err := d.audit.Record(ctx, AuditEntryFor(ev)); err != nil {
			d.logger.Error("audit record failed", "type", ev.EventType(), "error", err)
		}
	}
	if d.notifier != nil {
		for _, n := range NotificationsFor(ev) {
			if err := d.notifier.Notify(ctx, n); err != nil {
				d.logger.Error("notification failed", "type", n.Type, "user_id", n.UserID, "error", err)
			}
		}
	}
}

// Discard is a Publisher that drops every event
type Discard struct{}

func (Discard) Publish(models.Event) {}
