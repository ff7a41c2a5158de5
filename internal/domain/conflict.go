package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConflictType int

const (
	ConflictDoubleBooking ConflictType = iota + 1
	ConflictOutsideHours
	ConflictBreak
	ConflictTimeOff
	ConflictProviderUnavailable
)

func (t ConflictType) String() string {
	switch t {
	case ConflictDoubleBooking:
		return "DOUBLE_BOOKING"
	case ConflictOutsideHours:
		return "OUTSIDE_HOURS"
	case ConflictBreak:
		return "BREAK_CONFLICT"
	case ConflictTimeOff:
		return "TIME_OFF"
	case ConflictProviderUnavailable:
		return "PROVIDER_UNAVAILABLE"
	default:
		return fmt.Sprintf("ConflictType(%d)", int(t))
	}
}

// Hard conflicts come from the provider's schedule rather than from other
// bookings; waiting for a cancellation cannot resolve them.
func (t ConflictType) Hard() bool {
	return t != ConflictDoubleBooking
}

type Conflict struct {
	Type   ConflictType
	Detail string
	// Interval is the blocking span: the other booking, the break, the time
	// off or the window bounds.
	Interval  Interval
	BookingID uuid.UUID
}

// StructuralConflicts evaluates the schedule rules in order and stops at the
// first one that rejects iv. The weekday is taken from iv.Start in loc.
func StructuralConflicts(schedule ProviderSchedule, iv Interval, loc *time.Location) []Conflict {
	if loc == nil {
		loc = time.UTC
	}
	day := iv.Start.In(loc)
	w, ok := schedule.Window(WeekdayOf(day))
	if !ok || !w.Active {
		return []Conflict{{
			Type:   ConflictProviderUnavailable,
			Detail: fmt.Sprintf("provider does not work on %s", WeekdayOf(day)),
		}}
	}

	bounds := w.Bounds(day, loc)
	if !bounds.Contains(iv) {
		return []Conflict{{
			Type:     ConflictOutsideHours,
			Detail:   fmt.Sprintf("working hours are %s-%s", w.Start, w.End),
			Interval: bounds.UTC(),
		}}
	}

	if brk, ok := w.Break(day, loc); ok && brk.Overlaps(iv) {
		return []Conflict{{
			Type:     ConflictBreak,
			Detail:   fmt.Sprintf("break from %s to %s", *w.BreakStart, *w.BreakEnd),
			Interval: brk.UTC(),
		}}
	}

	if t, ok := schedule.timeOffOverlapping(iv); ok {
		detail := "provider is on approved time off"
		if r := strings.TrimSpace(t.Reason); r != "" {
			detail += ": " + r
		}
		return []Conflict{{
			Type:     ConflictTimeOff,
			Detail:   detail,
			Interval: t.Interval().UTC(),
		}}
	}
	return nil
}

// BookingConflicts returns one conflict per active booking overlapping iv.
// The booking with id exclude is ignored so a booking can be moved within
// its own span.
func BookingConflicts(bookings []Booking, iv Interval, exclude uuid.UUID) []Conflict {
	var out []Conflict
	for _, b := range bookings {
		if exclude != uuid.Nil && b.ID == exclude {
			continue
		}
		if !b.Status.Active() {
			continue
		}
		if b.Interval().Overlaps(iv) {
			out = append(out, Conflict{
				Type:      ConflictDoubleBooking,
				Detail:    "overlaps booking " + b.ID.String(),
				Interval:  b.Interval().UTC(),
				BookingID: b.ID,
			})
		}
	}
	return out
}

// DetectConflicts classifies iv against a schedule snapshot and the
// provider's bookings. An empty result means the interval is free.
func DetectConflicts(schedule ProviderSchedule, bookings []Booking, iv Interval, exclude uuid.UUID, loc *time.Location) []Conflict {
	if c := StructuralConflicts(schedule, iv, loc); len(c) > 0 {
		return c
	}
	return BookingConflicts(bookings, iv, exclude)
}
