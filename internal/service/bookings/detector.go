package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

// Detector classifies a proposed interval against the provider's schedule
// and bookings as read through r. Callers that write on a clean result must
// pass the transaction holding the provider lock.
type Detector struct {
	loc *time.Location
}

func NewDetector(loc *time.Location) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{loc: loc}
}

// Check returns nil when iv is bookable. Structural conflicts short-circuit;
// otherwise every overlapping active booking except exclude is reported.
func (d *Detector) Check(ctx context.Context, r store.Reader, providerID string, iv domain.Interval, exclude uuid.UUID) ([]domain.Conflict, error) {
	if c, err := d.CheckStructural(ctx, r, providerID, iv); err != nil || len(c) > 0 {
		return c, err
	}
	rows, err := r.ListBookings(ctx, store.BookingFilter{
		ProviderID: providerID,
		Window:     &iv,
		Statuses:   domain.ActiveBookingStatuses,
	})
	if err != nil {
		return nil, err
	}
	return domain.BookingConflicts(rows, iv, exclude), nil
}

// CheckStructural evaluates only the working hours, the break and approved
// time off.
func (d *Detector) CheckStructural(ctx context.Context, r store.Reader, providerID string, iv domain.Interval) ([]domain.Conflict, error) {
	schedule, err := store.LoadSchedule(ctx, r, providerID, &iv)
	if err != nil {
		return nil, err
	}
	return domain.StructuralConflicts(schedule, iv, d.loc), nil
}

func doubleBooking(iv domain.Interval) *domain.ConflictError {
	return &domain.ConflictError{Conflicts: []domain.Conflict{{
		Type:     domain.ConflictDoubleBooking,
		Detail:   "overlaps an existing booking",
		Interval: iv.UTC(),
	}}}
}
