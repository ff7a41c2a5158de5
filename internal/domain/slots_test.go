package domain

import (
	"slices"
	"testing"
	"time"
)

func TestGenerateSlots_SkipsBreakAndTimeOff(t *testing.T) {
	s := mondaySchedule()
	s.TimeOff = []TimeOff{{
		ProviderID: "p1",
		StartTime:  at(monday, 15, 10),
		EndTime:    at(monday, 15, 50),
		Approved:   true,
	}}
	rng := Interval{Start: monday, End: monday.AddDate(0, 0, 7)}

	slots := slices.Collect(GenerateSlots(s, 30*time.Minute, rng, 30*time.Minute, time.UTC))

	// 09:00-13:00 gives 8 slots, 14:00-17:00 gives 6, minus 15:00 and 15:30.
	if len(slots) != 12 {
		t.Fatalf("len(slots) = %d, want 12", len(slots))
	}

	brk := Interval{Start: at(monday, 13, 0), End: at(monday, 14, 0)}
	for _, sl := range slots {
		if sl.Interval().Overlaps(brk) {
			t.Fatalf("slot %v overlaps break", sl.Interval())
		}
		if sl.Interval().Overlaps(s.TimeOff[0].Interval()) {
			t.Fatalf("slot %v overlaps time off", sl.Interval())
		}
		if sl.ProviderID != "p1" {
			t.Fatalf("provider = %q, want p1", sl.ProviderID)
		}
	}

	if !slots[7].Start.Equal(at(monday, 12, 30)) {
		t.Fatalf("last morning slot = %v, want 12:30", slots[7].Start)
	}
}

func TestGenerateSlots_LongServiceMustFitBeforeClose(t *testing.T) {
	s := mondaySchedule()
	s.Windows[0].BreakStart = nil
	s.Windows[0].BreakEnd = nil
	rng := Interval{Start: monday, End: monday.AddDate(0, 0, 1)}

	slots := slices.Collect(GenerateSlots(s, 90*time.Minute, rng, 30*time.Minute, time.UTC))
	last := slots[len(slots)-1]
	if !last.End.Equal(at(monday, 17, 0)) {
		t.Fatalf("last slot ends %v, want 17:00", last.End)
	}
	if len(slots) != 14 {
		t.Fatalf("len(slots) = %d, want 14", len(slots))
	}
}

func TestGenerateSlots_NoWindowYieldsNothing(t *testing.T) {
	s := mondaySchedule()
	tuesday := monday.AddDate(0, 0, 1)
	rng := Interval{Start: tuesday, End: tuesday.AddDate(0, 0, 1)}

	n := 0
	for range GenerateSlots(s, 30*time.Minute, rng, 0, time.UTC) {
		n++
	}
	if n != 0 {
		t.Fatalf("slots = %d, want 0", n)
	}
}

func TestGenerateSlots_RestartableAndStoppable(t *testing.T) {
	s := mondaySchedule()
	seq := GenerateSlots(s, 30*time.Minute, Interval{Start: monday, End: monday.AddDate(0, 0, 1)}, 30*time.Minute, time.UTC)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Fatalf("second iteration differs from first")
	}

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("early break visited %d slots, want 3", n)
	}
}

func TestGenerateSlots_RangeClipsPartialDay(t *testing.T) {
	s := mondaySchedule()
	rng := Interval{Start: at(monday, 10, 0), End: at(monday, 11, 15)}

	slots := slices.Collect(GenerateSlots(s, 30*time.Minute, rng, 30*time.Minute, time.UTC))
	if len(slots) != 2 {
		t.Fatalf("len(slots) = %d, want 2", len(slots))
	}
	if !slots[0].Start.Equal(at(monday, 10, 0)) || !slots[1].Start.Equal(at(monday, 10, 30)) {
		t.Fatalf("slots = %+v", slots)
	}
}

func TestWindowValidate(t *testing.T) {
	valid := mondaySchedule().Windows[0]
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(w *AvailabilityWindow)
		want   string
	}{
		{name: "start after end", mutate: func(w *AvailabilityWindow) { w.Start = Clock(18, 0) }, want: "window start must be before window end"},
		{name: "bad day", mutate: func(w *AvailabilityWindow) { w.DayOfWeek = 7 }, want: "day_of_week must be between 0 and 6"},
		{name: "half break", mutate: func(w *AvailabilityWindow) { w.BreakEnd = nil }, want: "break requires both start and end"},
		{name: "break outside", mutate: func(w *AvailabilityWindow) { w.BreakEnd = clockPtr(Clock(17, 30)) }, want: "break must lie within the window"},
		{name: "inverted break", mutate: func(w *AvailabilityWindow) { w.BreakStart = clockPtr(Clock(14, 30)) }, want: "break start must be before break end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid
			tt.mutate(&w)
			err := w.Validate()
			if err == nil || err.Error() != tt.want {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("ParseClock error: %v", err)
	}
	if c != Clock(9, 30) || c.String() != "09:30" {
		t.Fatalf("clock = %v (%d)", c, c)
	}
	if c, err := ParseClock("24:00"); err != nil || c != endOfDay {
		t.Fatalf("24:00 = %v, %v", c, err)
	}
	for _, bad := range []string{"", "9", "25:00", "24:30", "10:60", "ab:cd"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) expected error", bad)
		}
	}
}

func TestWeekdayOf(t *testing.T) {
	if WeekdayOf(monday) != Monday {
		t.Fatalf("WeekdayOf(monday) = %v", WeekdayOf(monday))
	}
	if WeekdayOf(monday.AddDate(0, 0, 6)) != Sunday {
		t.Fatalf("WeekdayOf(sunday) = %v", WeekdayOf(monday.AddDate(0, 0, 6)))
	}
}
