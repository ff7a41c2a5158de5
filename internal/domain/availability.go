package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Weekday numbers days from Monday (0) to Sunday (6).
type Weekday int16

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return "Weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return time.Weekday((int(d) + 1) % 7).String()
}

// ClockTime is a wall-clock time of day in minutes after midnight.
// 24:00 (1440) is allowed as a window end.
type ClockTime int16

const endOfDay ClockTime = 24 * 60

func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	c := Clock(h, m)
	if c > endOfDay {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return c, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant this clock time denotes on the calendar day of
// day, read in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ProviderID string     `bun:"provider_id,pk"`
	DayOfWeek  Weekday    `bun:"day_of_week,pk"`
	Start      ClockTime  `bun:"start_minute,notnull"`
	End        ClockTime  `bun:"end_minute,notnull"`
	Active     bool       `bun:"is_active,notnull"`
	BreakStart *ClockTime `bun:"break_start_minute"`
	BreakEnd   *ClockTime `bun:"break_end_minute"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, nil, &w.CreatedAt, &w.UpdatedAt)
}

func (w AvailabilityWindow) Validate() error {
	if strings.TrimSpace(w.ProviderID) == "" {
		return NewValidationError("provider_id", "provider_id is required")
	}
	if !w.DayOfWeek.Valid() {
		return NewValidationError("day_of_week", "day_of_week must be between 0 and 6")
	}
	if w.Start < 0 || w.End > endOfDay || w.Start >= w.End {
		return NewValidationError("start", "window start must be before window end")
	}
	if (w.BreakStart == nil) != (w.BreakEnd == nil) {
		return NewValidationError("break", "break requires both start and end")
	}
	if w.BreakStart != nil {
		bs, be := *w.BreakStart, *w.BreakEnd
		if bs >= be {
			return NewValidationError("break", "break start must be before break end")
		}
		if bs < w.Start || be > w.End {
			return NewValidationError("break", "break must lie within the window")
		}
	}
	return nil
}

// Bounds returns the window as an absolute interval on the given day.
func (w AvailabilityWindow) Bounds(day time.Time, loc *time.Location) Interval {
	return Interval{Start: w.Start.On(day, loc), End: w.End.On(day, loc)}
}

func (w AvailabilityWindow) Break(day time.Time, loc *time.Location) (Interval, bool) {
	if w.BreakStart == nil || w.BreakEnd == nil {
		return Interval{}, false
	}
	return Interval{Start: w.BreakStart.On(day, loc), End: w.BreakEnd.On(day, loc)}, true
}

type TimeOff struct {
	bun.BaseModel `bun:"table:time_off"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	StartTime  time.Time `bun:"start_time,notnull"`
	EndTime    time.Time `bun:"end_time,notnull"`
	Approved   bool      `bun:"is_approved,notnull"`
	ApprovedBy string    `bun:"approved_by,nullzero"`
	Reason     string    `bun:"reason"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (t *TimeOff) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (t TimeOff) Interval() Interval {
	return Interval{Start: t.StartTime, End: t.EndTime}
}

// ProviderSchedule is a snapshot of everything that shapes a provider's
// bookable hours: the weekly windows and the approved time off.
type ProviderSchedule struct {
	ProviderID string
	Windows    []AvailabilityWindow
	TimeOff    []TimeOff
}

func (s ProviderSchedule) Window(day Weekday) (AvailabilityWindow, bool) {
	for _, w := range s.Windows {
		if w.DayOfWeek == day {
			return w, true
		}
	}
	return AvailabilityWindow{}, false
}

func (s ProviderSchedule) timeOffOverlapping(iv Interval) (TimeOff, bool) {
	for _, t := range s.TimeOff {
		if t.Approved && t.Interval().Overlaps(iv) {
			return t, true
		}
	}
	return TimeOff{}, false
}
