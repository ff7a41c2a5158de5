package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RuleKind string

const (
	RuleDaily   RuleKind = "daily"
	RuleWeekly  RuleKind = "weekly"
	RuleMonthly RuleKind = "monthly"
	RuleCustom  RuleKind = "custom"
)

func (k RuleKind) Valid() bool {
	switch k {
	case RuleDaily, RuleWeekly, RuleMonthly, RuleCustom:
		return true
	}
	return false
}

// RecurrenceRule repeats a seed booking. Interval multiplies the calendar
// step for daily, weekly and monthly rules and is the step in days for
// custom rules. The series ends at Until (a date, inclusive) or after Count
// occurrences; exactly one of the two is set.
type RecurrenceRule struct {
	Kind     RuleKind
	Interval int
	Until    *time.Time
	Count    int
}

func (r RecurrenceRule) Validate() error {
	if !r.Kind.Valid() {
		return NewValidationError("recurrence.kind", fmt.Sprintf("unsupported recurrence kind %q", r.Kind))
	}
	if r.Interval < 0 {
		return NewValidationError("recurrence.interval", "interval must be at least 1")
	}
	if r.Kind == RuleCustom && r.Interval < 1 {
		return NewValidationError("recurrence.interval", "custom recurrence requires an interval in days")
	}
	if r.Count < 0 {
		return NewValidationError("recurrence.count", "count must be at least 1")
	}
	if r.Until == nil && r.Count == 0 {
		return NewValidationError("recurrence", "until or count is required")
	}
	if r.Until != nil && r.Count > 0 {
		return NewValidationError("recurrence", "only one of until or count may be set")
	}
	return nil
}

func (r RecurrenceRule) step() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// nth returns the n-th occurrence after seed (n=0 is the seed itself),
// preserving the local wall-clock time. ok is false when the calendar has no
// such date, e.g. the 31st in a 30-day month.
func (r RecurrenceRule) nth(seed time.Time, n int) (time.Time, bool) {
	y, m, d := seed.Date()
	hh, mm, ss := seed.Clock()
	loc := seed.Location()
	k := n * r.step()

	switch r.Kind {
	case RuleDaily, RuleCustom:
		return time.Date(y, m, d+k, hh, mm, ss, seed.Nanosecond(), loc), true
	case RuleWeekly:
		return time.Date(y, m, d+7*k, hh, mm, ss, seed.Nanosecond(), loc), true
	case RuleMonthly:
		t := time.Date(y, m+time.Month(k), d, hh, mm, ss, seed.Nanosecond(), loc)
		return t, t.Day() == d
	}
	return time.Time{}, false
}

// Occurrences expands the rule from seed. Dates are computed in loc so a
// series keeps its local time of day across DST changes. The seed is the
// first element. More than limit occurrences is a validation error, as is a
// rule producing none.
func (r RecurrenceRule) Occurrences(seed time.Time, loc *time.Location, limit int) ([]time.Time, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	if limit <= 0 {
		limit = 1
	}
	if r.Count > limit {
		return nil, NewValidationError("recurrence.count", fmt.Sprintf("count must not exceed %d", limit))
	}

	local := seed.In(loc)
	var untilDate time.Time
	if r.Until != nil {
		untilDate = startOfDay(*r.Until, loc).AddDate(0, 0, 1)
	}

	out := make([]time.Time, 0, 8)
	// Monthly rules can skip up to five months a year; bound the walk so an
	// impossible rule still terminates.
	maxSteps := limit*12 + 12
	for n := 0; n < maxSteps; n++ {
		t, ok := r.nth(local, n)
		if r.Until != nil && !t.Before(untilDate) {
			break
		}
		if !ok {
			continue
		}
		if len(out) == limit {
			return nil, NewValidationError("recurrence", fmt.Sprintf("recurrence produces more than %d occurrences", limit))
		}
		out = append(out, t.UTC())
		if r.Count > 0 && len(out) == r.Count {
			break
		}
	}

	if len(out) == 0 {
		return nil, NewValidationError("recurrence", "recurrence rule produces no occurrences")
	}
	return out, nil
}

type SeriesStatus string

const (
	SeriesActive     SeriesStatus = "active"
	SeriesCancelled  SeriesStatus = "cancelled"
	SeriesSuperseded SeriesStatus = "superseded"
)

func (s SeriesStatus) Valid() bool {
	switch s {
	case SeriesActive, SeriesCancelled, SeriesSuperseded:
		return true
	}
	return false
}

type RecurrenceSeries struct {
	bun.BaseModel `bun:"table:recurrence_series"`

	ID              uuid.UUID    `bun:"id,pk,type:uuid"`
	ParentBookingID uuid.UUID    `bun:"parent_booking_id,notnull,type:uuid"`
	CustomerID      string       `bun:"customer_id,notnull"`
	Kind            RuleKind     `bun:"rule_kind,notnull"`
	Interval        int          `bun:"rule_interval,notnull"`
	Until           *time.Time   `bun:"rule_until"`
	Count           int          `bun:"rule_count,notnull"`
	Status          SeriesStatus `bun:"status,notnull"`
	SupersededBy    *uuid.UUID   `bun:"superseded_by,type:uuid"`
	CreatedAt       time.Time    `bun:"created_at,notnull"`
	UpdatedAt       time.Time    `bun:"updated_at,notnull"`
}

func (s *RecurrenceSeries) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (s RecurrenceSeries) Rule() RecurrenceRule {
	return RecurrenceRule{Kind: s.Kind, Interval: s.Interval, Until: s.Until, Count: s.Count}
}
