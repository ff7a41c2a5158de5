// Package notify delivers booking side effects. Delivery is best effort:
// failures are logged and never roll back a committed booking.
package notify

import (
	"context"
	"log/slog"

	"salonbook/backend/internal/domain"
)

type Notifier interface {
	BookingCreated(ctx context.Context, b domain.Booking) error
	BookingUpdated(ctx context.Context, b domain.Booking) error
	BookingCancelled(ctx context.Context, b domain.Booking) error
	// WaitlistSlotAvailable tells a waiting customer about a slot. The
	// booking is already stored in book mode and only proposed in offer mode.
	WaitlistSlotAvailable(ctx context.Context, e domain.WaitlistEntry, b domain.Booking) error
}

type CalendarSync interface {
	Upsert(ctx context.Context, b domain.Booking) error
	Delete(ctx context.Context, b domain.Booking) error
}

// LogNotifier writes every notification as a structured log line.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

func bookingAttrs(b domain.Booking) []any {
	return []any{
		slog.String("booking_id", b.ID.String()),
		slog.String("customer_id", b.CustomerID),
		slog.String("provider_id", b.ProviderID),
		slog.Time("start", b.StartTime),
		slog.String("status", string(b.Status)),
	}
}

func (n *LogNotifier) BookingCreated(ctx context.Context, b domain.Booking) error {
	n.logger.InfoContext(ctx, "booking created", bookingAttrs(b)...)
	return nil
}

func (n *LogNotifier) BookingUpdated(ctx context.Context, b domain.Booking) error {
	n.logger.InfoContext(ctx, "booking updated", bookingAttrs(b)...)
	return nil
}

func (n *LogNotifier) BookingCancelled(ctx context.Context, b domain.Booking) error {
	n.logger.InfoContext(ctx, "booking cancelled", append(bookingAttrs(b), slog.String("reason", b.CancellationReason))...)
	return nil
}

func (n *LogNotifier) WaitlistSlotAvailable(ctx context.Context, e domain.WaitlistEntry, b domain.Booking) error {
	n.logger.InfoContext(ctx, "waitlist slot available",
		append(bookingAttrs(b), slog.String("waitlist_entry_id", e.ID.String()))...)
	return nil
}

// LogCalendar stands in for an external calendar.
type LogCalendar struct {
	logger *slog.Logger
}

func NewLogCalendar(logger *slog.Logger) *LogCalendar {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCalendar{logger: logger.With(slog.String("component", "calendar"))}
}

func (c *LogCalendar) Upsert(ctx context.Context, b domain.Booking) error {
	c.logger.DebugContext(ctx, "calendar upsert", bookingAttrs(b)...)
	return nil
}

func (c *LogCalendar) Delete(ctx context.Context, b domain.Booking) error {
	c.logger.DebugContext(ctx, "calendar delete", bookingAttrs(b)...)
	return nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) BookingCreated(context.Context, domain.Booking) error   { return nil }
func (Nop) BookingUpdated(context.Context, domain.Booking) error   { return nil }
func (Nop) BookingCancelled(context.Context, domain.Booking) error { return nil }
func (Nop) WaitlistSlotAvailable(context.Context, domain.WaitlistEntry, domain.Booking) error {
	return nil
}
func (Nop) Upsert(context.Context, domain.Booking) error { return nil }
func (Nop) Delete(context.Context, domain.Booking) error { return nil }
