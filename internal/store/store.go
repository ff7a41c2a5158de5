package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
)

type BookingFilter struct {
	ProviderID      string
	CustomerID      string
	ParentBookingID *uuid.UUID
	// Window selects bookings overlapping it (half-open).
	Window   *domain.Interval
	Statuses []domain.BookingStatus
}

type TimeOffFilter struct {
	ProviderID   string
	Window       *domain.Interval
	ApprovedOnly bool
}

type WaitlistFilter struct {
	Statuses   []domain.WaitlistStatus
	CustomerID string
	// ProviderID keeps entries with no preferred provider or this one.
	ProviderID    string
	ExpiresBefore *time.Time
	ExpiresAfter  *time.Time
	// StartWithin keeps entries whose preferred window contains this instant
	// (both ends inclusive).
	StartWithin     *time.Time
	OriginBookingID *uuid.UUID
}

type SeriesFilter struct {
	CustomerID string
	Statuses   []domain.SeriesStatus
}

// Reader is the read side shared by the store and its transactions.
// List results are ordered: bookings by start time, time off by start time,
// waitlist entries by priority descending then creation time, series newest
// first.
type Reader interface {
	ListProviders(ctx context.Context) ([]string, error)
	ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error)
	ListTimeOff(ctx context.Context, f TimeOffFilter) ([]domain.TimeOff, error)
	GetTimeOff(ctx context.Context, id uuid.UUID) (domain.TimeOff, error)
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]domain.Booking, error)
	GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurrenceSeries, error)
	// GetSeriesByParent returns the series most recently created for a
	// parent booking.
	GetSeriesByParent(ctx context.Context, parentBookingID uuid.UUID) (domain.RecurrenceSeries, error)
	ListSeries(ctx context.Context, f SeriesFilter) ([]domain.RecurrenceSeries, error)
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error)
	ListWaitlistEntries(ctx context.Context, f WaitlistFilter) ([]domain.WaitlistEntry, error)
}

type Tx interface {
	Reader

	// InsertBooking returns ErrConflict when an active booking of the same
	// provider overlaps, and ErrIdempotencyConflict when the id is taken by a
	// different reservation. Replaying an identical insert returns the stored
	// row.
	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
	UpdateBooking(ctx context.Context, b domain.Booking) error

	UpsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	InsertTimeOff(ctx context.Context, t domain.TimeOff) (domain.TimeOff, error)
	UpdateTimeOff(ctx context.Context, t domain.TimeOff) error

	InsertSeries(ctx context.Context, s domain.RecurrenceSeries) (domain.RecurrenceSeries, error)
	UpdateSeries(ctx context.Context, s domain.RecurrenceSeries) error

	InsertWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) (domain.WaitlistEntry, error)
	// LockWaitlistEntry reads an entry and holds it until the transaction
	// ends, so only one matcher can claim it.
	LockWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error)
	UpdateWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error

	IncrementNoShow(ctx context.Context, customerID string) (int, error)
}

type Store interface {
	Reader

	// InProviderTransaction runs fn in a transaction that holds exclusive
	// scheduling locks for every listed provider. Conflict checks and the
	// writes they guard must happen inside it.
	InProviderTransaction(ctx context.Context, providerIDs []string, fn func(ctx context.Context, tx Tx) error) error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type ServiceCatalog interface {
	Duration(ctx context.Context, serviceID string) (time.Duration, error)
}
