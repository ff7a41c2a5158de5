package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
	"salonbook/backend/internal/store/memory"
)

var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

func clock(h, m int) *domain.ClockTime {
	c := domain.Clock(h, m)
	return &c
}

type capacityRecorder struct {
	providers []string
}

func (r *capacityRecorder) HandleCapacityAdded(ctx context.Context, providerID string) {
	r.providers = append(r.providers, providerID)
}

func newFixture(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	now := at(monday, 0, 0).Add(-24 * time.Hour)
	st := memory.New(memory.WithClock(func() time.Time { return now }))
	st.PutService(domain.ServiceDefinition{ID: "cut", Name: "Cut", DurationMinutes: 30, Active: true})
	st.PutService(domain.ServiceDefinition{ID: "color", Name: "Color", DurationMinutes: 90, Active: true})

	err := st.InTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.UpsertWindow(ctx, domain.AvailabilityWindow{
			ProviderID: "p1", DayOfWeek: domain.Monday,
			Start: domain.Clock(9, 0), End: domain.Clock(17, 0), Active: true,
			BreakStart: clock(12, 0), BreakEnd: clock(13, 0),
		})
		return err
	})
	require.NoError(t, err)

	svc := NewService(st, st, Options{
		Cache: NewCache(time.Minute, 16, func() time.Time { return now }),
		Now:   func() time.Time { return now },
	})
	return svc, st
}

func mondayRange() domain.Interval {
	return domain.Interval{Start: at(monday, 0, 0), End: at(monday, 0, 0).Add(24 * time.Hour)}
}

func TestFreeSlots_SkipsBreakAndBookings(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()

	err := st.InProviderTransaction(ctx, []string{"p1"}, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBooking(ctx, domain.Booking{
			CustomerID: "c1", ProviderID: "p1", ServiceID: "cut",
			StartTime: at(monday, 10, 0), EndTime: at(monday, 10, 30),
			Status: domain.BookingConfirmed,
		})
		return err
	})
	require.NoError(t, err)

	slots, err := svc.FreeSlots(ctx, SlotQuery{ProviderID: "p1", ServiceID: "cut", Range: mondayRange()})
	require.NoError(t, err)

	// 16 half-hour slots in 09:00-17:00, minus two in the break and one booked.
	require.Len(t, slots, 13)
	for _, s := range slots {
		assert.False(t, s.Start.Equal(at(monday, 10, 0)), "booked slot offered")
		assert.False(t, s.Interval().Overlaps(domain.Interval{Start: at(monday, 12, 0), End: at(monday, 13, 0)}), "slot %v overlaps break", s)
	}
	assert.Equal(t, at(monday, 9, 0), slots[0].Start)
	assert.Equal(t, at(monday, 16, 30), slots[len(slots)-1].Start)
}

func TestFreeSlots_AllProviders(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	err := st.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.UpsertWindow(ctx, domain.AvailabilityWindow{
			ProviderID: "p2", DayOfWeek: domain.Monday,
			Start: domain.Clock(16, 0), End: domain.Clock(18, 0), Active: true,
		})
		return err
	})
	require.NoError(t, err)

	rng := domain.Interval{Start: at(monday, 16, 0), End: at(monday, 17, 0)}
	slots, err := svc.FreeSlots(ctx, SlotQuery{ServiceID: "cut", Range: rng})
	require.NoError(t, err)

	got := make([]string, 0, len(slots))
	for _, s := range slots {
		got = append(got, s.Start.Format("15:04")+"@"+s.ProviderID)
	}
	assert.Equal(t, []string{"16:00@p1", "16:00@p2", "16:30@p1", "16:30@p2"}, got)
}

func TestSlots_Validation(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		service string
		rng     domain.Interval
		check   func(t *testing.T, err error)
	}{
		{
			name:    "inverted range",
			service: "cut",
			rng:     domain.Interval{Start: at(monday, 10, 0), End: at(monday, 9, 0)},
			check: func(t *testing.T, err error) {
				var vErr *domain.ValidationError
				require.ErrorAs(t, err, &vErr)
			},
		},
		{
			name:    "range too long",
			service: "cut",
			rng:     domain.Interval{Start: monday, End: monday.Add(40 * 24 * time.Hour)},
			check: func(t *testing.T, err error) {
				var vErr *domain.ValidationError
				require.ErrorAs(t, err, &vErr)
			},
		},
		{
			name:    "unknown service",
			service: "perm",
			rng:     mondayRange(),
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, store.ErrNotFound)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Slots(ctx, "p1", tt.service, tt.rng)
			tt.check(t, err)
		})
	}
}

func TestSlots_MissingWindowYieldsNothing(t *testing.T) {
	svc, _ := newFixture(t)
	seq, err := svc.Slots(context.Background(), "nobody", "cut", mondayRange())
	require.NoError(t, err)
	for range seq {
		t.Fatalf("expected no slots")
	}
}

func TestSetWindow_AuthorizationInvalidationAndListener(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()
	rec := &capacityRecorder{}
	svc.OnCapacityAdded(rec)

	_, err := svc.Schedule(ctx, "p1")
	require.NoError(t, err)

	in := WindowInput{
		ProviderID: "p1", DayOfWeek: domain.Monday,
		Start: domain.Clock(8, 0), End: domain.Clock(18, 0), Active: true,
		Actor: domain.Actor{ID: "p2", Role: domain.RoleProvider},
	}
	_, err = svc.SetWindow(ctx, in)
	require.ErrorIs(t, err, domain.ErrForbidden)

	in.Actor = domain.Actor{ID: "p1", Role: domain.RoleProvider}
	_, err = svc.SetWindow(ctx, in)
	require.NoError(t, err)

	schedule, err := svc.Schedule(ctx, "p1")
	require.NoError(t, err)
	w, ok := schedule.Window(domain.Monday)
	require.True(t, ok)
	assert.Equal(t, domain.Clock(8, 0), w.Start)
	assert.Nil(t, w.BreakStart)
	assert.Equal(t, []string{"p1"}, rec.providers)

	bad := in
	bad.BreakStart = clock(7, 0)
	bad.BreakEnd = clock(9, 0)
	_, err = svc.SetWindow(ctx, bad)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "break", vErr.Field)
}

func TestTimeOff_RequestAndApprove(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	provider := domain.Actor{ID: "p1", Role: domain.RoleProvider}
	admin := domain.Actor{ID: "a1", Role: domain.RoleAdmin}

	err := st.InProviderTransaction(ctx, []string{"p1"}, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBooking(ctx, domain.Booking{
			CustomerID: "c1", ProviderID: "p1", ServiceID: "cut",
			StartTime: at(monday, 9, 0), EndTime: at(monday, 9, 30),
			Status: domain.BookingConfirmed,
		})
		return err
	})
	require.NoError(t, err)

	_, err = svc.RequestTimeOff(ctx, TimeOffInput{
		ProviderID: "p1", Start: at(monday, 9, 0), End: at(monday, 11, 0), Actor: provider,
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr, "time off over an active booking")

	off, err := svc.RequestTimeOff(ctx, TimeOffInput{
		ProviderID: "p1", Start: at(monday, 14, 0), End: at(monday, 16, 0), Reason: "dentist", Actor: provider,
	})
	require.NoError(t, err)
	assert.False(t, off.Approved)

	before, err := svc.FreeSlots(ctx, SlotQuery{ProviderID: "p1", ServiceID: "cut", Range: mondayRange()})
	require.NoError(t, err)

	_, err = svc.ApproveTimeOff(ctx, off.ID, provider)
	require.ErrorIs(t, err, domain.ErrForbidden)

	approved, err := svc.ApproveTimeOff(ctx, off.ID, admin)
	require.NoError(t, err)
	assert.True(t, approved.Approved)
	assert.Equal(t, "admin:a1", approved.ApprovedBy)

	after, err := svc.FreeSlots(ctx, SlotQuery{ProviderID: "p1", ServiceID: "cut", Range: mondayRange()})
	require.NoError(t, err)
	assert.Len(t, after, len(before)-4)

	_, err = svc.ApproveTimeOff(ctx, off.ID, admin)
	require.ErrorAs(t, err, &vErr)

	_, err = svc.ApproveTimeOff(ctx, uuid.New(), admin)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFreeSlots_DropsPastSlots(t *testing.T) {
	svc, _ := newFixture(t)
	svc.now = func() time.Time { return at(monday, 15, 10) }

	slots, err := svc.FreeSlots(context.Background(), SlotQuery{ProviderID: "p1", ServiceID: "cut", Range: mondayRange()})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, at(monday, 15, 30), slots[0].Start)
}
