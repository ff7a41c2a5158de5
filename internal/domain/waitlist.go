package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WaitlistStatus string

const (
	WaitlistPending   WaitlistStatus = "pending"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistBooked    WaitlistStatus = "booked"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

func (s WaitlistStatus) Valid() bool {
	switch s {
	case WaitlistPending, WaitlistNotified, WaitlistBooked, WaitlistExpired, WaitlistCancelled:
		return true
	}
	return false
}

// Open entries may still be cancelled by the customer or expired by a sweep.
func (s WaitlistStatus) Open() bool {
	return s == WaitlistPending || s == WaitlistNotified
}

type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries"`

	ID                  uuid.UUID      `bun:"id,pk,type:uuid"`
	CustomerID          string         `bun:"customer_id,notnull"`
	ServiceID           string         `bun:"service_id,notnull"`
	PreferredProviderID string         `bun:"preferred_provider_id,nullzero"`
	PreferredStart      time.Time      `bun:"preferred_start,notnull"`
	PreferredEnd        time.Time      `bun:"preferred_end,notnull"`
	Priority            int            `bun:"priority,notnull"`
	Status              WaitlistStatus `bun:"status,notnull"`
	BookingID           *uuid.UUID     `bun:"booking_id,type:uuid"`
	OriginBookingID     *uuid.UUID     `bun:"origin_booking_id,type:uuid"`
	CreatedAt           time.Time      `bun:"created_at,notnull"`
	ExpiresAt           time.Time      `bun:"expires_at,notnull"`
	UpdatedAt           time.Time      `bun:"updated_at,notnull"`
}

func (e *WaitlistEntry) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stamp(query, &e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (e WaitlistEntry) PreferredWindow() Interval {
	return Interval{Start: e.PreferredStart, End: e.PreferredEnd}
}

// Accepts reports whether a freed interval could serve this entry. The
// preferred window bounds the start of the new booking; both ends are
// inclusive.
func (e WaitlistEntry) Accepts(f FreedInterval, now time.Time) bool {
	if e.Status != WaitlistPending || !e.ExpiresAt.After(now) {
		return false
	}
	if e.PreferredProviderID != "" && e.PreferredProviderID != f.ProviderID {
		return false
	}
	start := f.Interval.Start
	return !start.Before(e.PreferredStart) && !start.After(e.PreferredEnd)
}

// SortWaitlist orders entries by priority (highest first), then by age
// (oldest first). The id breaks remaining ties so the order is total.
func SortWaitlist(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
