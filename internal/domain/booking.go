package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
	BookingNoShow     BookingStatus = "no_show"
	BookingWaitlisted BookingStatus = "waitlisted"
)

// ActiveBookingStatuses hold capacity; every other status frees it.
var ActiveBookingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled, BookingWaitlisted},
	BookingConfirmed: {BookingCompleted, BookingCancelled, BookingNoShow},
}

func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                 uuid.UUID     `bun:"id,pk,type:uuid"`
	CustomerID         string        `bun:"customer_id,notnull"`
	ProviderID         string        `bun:"provider_id,notnull"`
	ServiceID          string        `bun:"service_id,notnull"`
	StartTime          time.Time     `bun:"start_time,notnull"`
	EndTime            time.Time     `bun:"end_time,notnull"`
	Status             BookingStatus `bun:"status,notnull"`
	ParentBookingID    *uuid.UUID    `bun:"parent_booking_id,type:uuid"`
	Notes              string        `bun:"notes"`
	CancellationReason string        `bun:"cancellation_reason"`
	CancelledAt        *time.Time    `bun:"cancelled_at"`
	NoShowCount        int           `bun:"no_show_count,notnull"`
	LastModifiedBy     string        `bun:"last_modified_by"`
	CreatedAt          time.Time     `bun:"created_at,notnull"`
	UpdatedAt          time.Time     `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (b Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// SameRequest reports whether two bookings describe the same reservation.
// It backs idempotent replays of a create.
func (b Booking) SameRequest(o Booking) bool {
	return b.CustomerID == o.CustomerID &&
		b.ProviderID == o.ProviderID &&
		b.ServiceID == o.ServiceID &&
		b.StartTime.Equal(o.StartTime) &&
		b.EndTime.Equal(o.EndTime)
}

// FreedInterval is published after a booking stops holding capacity.
type FreedInterval struct {
	ProviderID string
	Interval   Interval
	BookingID  uuid.UUID
}

type CustomerStats struct {
	bun.BaseModel `bun:"table:customer_stats"`

	CustomerID  string    `bun:"customer_id,pk"`
	NoShowCount int       `bun:"no_show_count,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

type ServiceDefinition struct {
	bun.BaseModel `bun:"table:services"`

	ID              string `bun:"id,pk"`
	Name            string `bun:"name,notnull"`
	DurationMinutes int    `bun:"duration_minutes,notnull"`
	Active          bool   `bun:"is_active,notnull"`
}

func (s ServiceDefinition) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
