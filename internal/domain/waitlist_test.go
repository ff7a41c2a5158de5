package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWaitlistEntryAccepts(t *testing.T) {
	now := at(monday, 8, 0)
	entry := WaitlistEntry{
		Status:         WaitlistPending,
		PreferredStart: at(monday, 10, 0),
		PreferredEnd:   at(monday, 12, 0),
		ExpiresAt:      now.Add(time.Hour),
	}
	freed := func(provider string, hour, minute int) FreedInterval {
		return FreedInterval{ProviderID: provider, Interval: NewInterval(at(monday, hour, minute), 30*time.Minute)}
	}

	tests := []struct {
		name   string
		mutate func(e *WaitlistEntry)
		freed  FreedInterval
		want   bool
	}{
		{name: "any provider, start at window open", freed: freed("p1", 10, 0), want: true},
		{name: "start at window close", freed: freed("p2", 12, 0), want: true},
		{name: "start after window", freed: freed("p1", 12, 30), want: false},
		{name: "preferred provider matches", mutate: func(e *WaitlistEntry) { e.PreferredProviderID = "p1" }, freed: freed("p1", 11, 0), want: true},
		{name: "preferred provider differs", mutate: func(e *WaitlistEntry) { e.PreferredProviderID = "p1" }, freed: freed("p2", 11, 0), want: false},
		{name: "expired", mutate: func(e *WaitlistEntry) { e.ExpiresAt = now }, freed: freed("p1", 11, 0), want: false},
		{name: "already notified", mutate: func(e *WaitlistEntry) { e.Status = WaitlistNotified }, freed: freed("p1", 11, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entry
			if tt.mutate != nil {
				tt.mutate(&e)
			}
			if got := e.Accepts(tt.freed, now); got != tt.want {
				t.Fatalf("Accepts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortWaitlist(t *testing.T) {
	base := at(monday, 8, 0)
	entries := []WaitlistEntry{
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Priority: 1, CreatedAt: base},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Priority: 5, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Priority: 5, CreatedAt: base},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000004"), Priority: 0, CreatedAt: base},
	}

	SortWaitlist(entries)

	want := []string{"3", "2", "1", "4"}
	for i, e := range entries {
		id := e.ID.String()
		if id[len(id)-1:] != want[i] {
			t.Fatalf("entries[%d] = %s, want ...%s", i, id, want[i])
		}
	}
}

func TestBookingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingPending, BookingConfirmed, true},
		{BookingPending, BookingWaitlisted, true},
		{BookingConfirmed, BookingCompleted, true},
		{BookingConfirmed, BookingNoShow, true},
		{BookingConfirmed, BookingCancelled, true},
		{BookingCancelled, BookingConfirmed, false},
		{BookingCompleted, BookingCancelled, false},
		{BookingWaitlisted, BookingConfirmed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
