package domain

import (
	"iter"
	"time"
)

const DefaultSlotGranularity = 30 * time.Minute

type Slot struct {
	ProviderID string
	Start      time.Time
	End        time.Time
}

func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// GenerateSlots yields candidate slots of the given duration for every
// calendar day (in loc) touched by rng. A slot is produced only when it fits
// inside the day's active window, stays clear of the break and of approved
// time off, and lies fully inside rng. Existing bookings are not consulted.
//
// The returned sequence is lazy and may be ranged over more than once.
func GenerateSlots(schedule ProviderSchedule, duration time.Duration, rng Interval, granularity time.Duration, loc *time.Location) iter.Seq[Slot] {
	if loc == nil {
		loc = time.UTC
	}
	if granularity <= 0 {
		granularity = DefaultSlotGranularity
	}
	return func(yield func(Slot) bool) {
		if duration <= 0 || !rng.Valid() {
			return
		}
		for day := startOfDay(rng.Start, loc); day.Before(rng.End); day = day.AddDate(0, 0, 1) {
			w, ok := schedule.Window(WeekdayOf(day))
			if !ok || !w.Active {
				continue
			}
			bounds := w.Bounds(day, loc)
			brk, hasBreak := w.Break(day, loc)

			for start := bounds.Start; !start.Add(duration).After(bounds.End); start = start.Add(granularity) {
				candidate := NewInterval(start, duration)
				if !rng.Contains(candidate) {
					continue
				}
				if hasBreak && candidate.Overlaps(brk) {
					continue
				}
				if _, blocked := schedule.timeOffOverlapping(candidate); blocked {
					continue
				}
				slot := Slot{ProviderID: schedule.ProviderID, Start: candidate.Start.UTC(), End: candidate.End.UTC()}
				if !yield(slot) {
					return
				}
			}
		}
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
