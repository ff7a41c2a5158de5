package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"salonbook/backend/internal/domain"
)

var ErrQueueFull = errors.New("notification queue full")

type DispatcherOptions struct {
	QueueSize int
	Workers   int
	// Timeout bounds a single delivery.
	Timeout time.Duration
	Logger  *slog.Logger
}

type job struct {
	name    string
	booking domain.Booking
	deliver func(ctx context.Context) error
}

// Dispatcher queues notifications and calendar writes for background
// workers so callers never wait on delivery. It implements both Notifier
// and CalendarSync over the wrapped targets.
type Dispatcher struct {
	notifier Notifier
	calendar CalendarSync
	queue    chan job
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewDispatcher(n Notifier, c CalendarSync, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if n == nil {
		n = Nop{}
	}
	if c == nil {
		c = Nop{}
	}
	return &Dispatcher{
		notifier: n,
		calendar: c,
		queue:    make(chan job, opts.QueueSize),
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		logger:   opts.Logger.With(slog.String("component", "notify_dispatcher")),
	}
}

// Run delivers queued jobs until ctx is done, then drains what is already
// queued and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case j := <-d.queue:
					d.deliver(ctx, j)
				case <-ctx.Done():
					d.drain()
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case j := <-d.queue:
			d.deliver(context.Background(), j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := j.deliver(ctx); err != nil {
		d.logger.Warn("delivery failed",
			slog.String("kind", j.name),
			slog.String("booking_id", j.booking.ID.String()),
			slog.String("err", err.Error()),
		)
	}
}

func (d *Dispatcher) enqueue(j job) error {
	select {
	case d.queue <- j:
		return nil
	default:
		// Callers log the drop alongside their own context.
		return fmt.Errorf("%s: %w", j.name, ErrQueueFull)
	}
}

func (d *Dispatcher) BookingCreated(_ context.Context, b domain.Booking) error {
	return d.enqueue(job{name: "booking_created", booking: b, deliver: func(ctx context.Context) error {
		return d.notifier.BookingCreated(ctx, b)
	}})
}

func (d *Dispatcher) BookingUpdated(_ context.Context, b domain.Booking) error {
	return d.enqueue(job{name: "booking_updated", booking: b, deliver: func(ctx context.Context) error {
		return d.notifier.BookingUpdated(ctx, b)
	}})
}

func (d *Dispatcher) BookingCancelled(_ context.Context, b domain.Booking) error {
	return d.enqueue(job{name: "booking_cancelled", booking: b, deliver: func(ctx context.Context) error {
		return d.notifier.BookingCancelled(ctx, b)
	}})
}

func (d *Dispatcher) WaitlistSlotAvailable(_ context.Context, e domain.WaitlistEntry, b domain.Booking) error {
	return d.enqueue(job{name: "waitlist_slot_available", booking: b, deliver: func(ctx context.Context) error {
		return d.notifier.WaitlistSlotAvailable(ctx, e, b)
	}})
}

func (d *Dispatcher) Upsert(_ context.Context, b domain.Booking) error {
	return d.enqueue(job{name: "calendar_upsert", booking: b, deliver: func(ctx context.Context) error {
		return d.calendar.Upsert(ctx, b)
	}})
}

func (d *Dispatcher) Delete(_ context.Context, b domain.Booking) error {
	return d.enqueue(job{name: "calendar_delete", booking: b, deliver: func(ctx context.Context) error {
		return d.calendar.Delete(ctx, b)
	}})
}
