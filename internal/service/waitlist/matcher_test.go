package waitlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/notify"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/bookings"
	"salonbook/backend/internal/store"
	"salonbook/backend/internal/store/memory"
)

var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

type slotNotifier struct {
	notify.Nop
	mu     sync.Mutex
	offers []domain.Booking
}

func (n *slotNotifier) WaitlistSlotAvailable(ctx context.Context, e domain.WaitlistEntry, b domain.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, b)
	return nil
}

type fixture struct {
	store     *memory.Store
	lifecycle *bookings.Lifecycle
	matcher   *Matcher
	notifier  *slotNotifier
	now       time.Time
}

func newFixture(t *testing.T, mode Mode) *fixture {
	t.Helper()
	f := &fixture{now: at(monday, 0, 0).Add(-16 * time.Hour), notifier: &slotNotifier{}}
	clock := func() time.Time { return f.now }

	f.store = memory.New(memory.WithClock(clock))
	f.store.PutService(domain.ServiceDefinition{ID: "cut", Name: "Cut", DurationMinutes: 30, Active: true})
	err := f.store.InTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, p := range []string{"p1", "p2"} {
			if _, err := tx.UpsertWindow(ctx, domain.AvailabilityWindow{
				ProviderID: p, DayOfWeek: domain.Monday,
				Start: domain.Clock(9, 0), End: domain.Clock(12, 0), Active: true,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	f.lifecycle = bookings.NewLifecycle(f.store, f.store, bookings.Options{Now: clock})
	av := availability.NewService(f.store, f.store, availability.Options{Now: clock})
	f.matcher = NewMatcher(f.store, f.store, f.lifecycle, av, Options{
		Mode:     mode,
		Now:      clock,
		Notifier: f.notifier,
	})
	f.lifecycle.Subscribe(f.matcher)
	av.OnCapacityAdded(f.matcher)
	return f
}

func customer(id string) domain.Actor {
	return domain.Actor{ID: id, Role: domain.RoleCustomer}
}

func (f *fixture) book(t *testing.T, customerID, providerID string, start time.Time) domain.Booking {
	t.Helper()
	b, err := f.lifecycle.Create(context.Background(), bookings.CreateInput{
		CustomerID: customerID, ProviderID: providerID, ServiceID: "cut",
		Start: start, Actor: customer(customerID),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) entry(t *testing.T, customerID, provider string, priority int, from, to time.Time) domain.WaitlistEntry {
	t.Helper()
	e, err := f.matcher.CreateEntry(context.Background(), CreateEntryInput{
		CustomerID: customerID, ServiceID: "cut", PreferredProviderID: provider,
		PreferredStart: from, PreferredEnd: to, Priority: priority,
		Actor: customer(customerID),
	})
	require.NoError(t, err)
	return e
}

func TestCancellationGoesToHighestPriority(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	taken := f.book(t, "c0", "p1", at(monday, 10, 0))

	low := f.entry(t, "c1", "", 1, at(monday, 9, 0), at(monday, 11, 0))
	f.now = f.now.Add(time.Minute)
	high := f.entry(t, "c5", "p1", 5, at(monday, 9, 0), at(monday, 11, 0))

	_, err := f.lifecycle.Cancel(ctx, taken.ID, "", customer("c0"))
	require.NoError(t, err)

	got, err := f.store.GetWaitlistEntry(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistBooked, got.Status)
	require.NotNil(t, got.BookingID)

	b, err := f.store.GetBooking(ctx, *got.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "c5", b.CustomerID)
	assert.Equal(t, at(monday, 10, 0), b.StartTime)
	assert.Equal(t, domain.BookingConfirmed, b.Status)

	still, err := f.store.GetWaitlistEntry(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistPending, still.Status)
	assert.Len(t, f.notifier.offers, 1)
}

func TestMatchFreed_SkipsIneligibleEntries(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()

	f.entry(t, "c1", "p2", 9, at(monday, 9, 0), at(monday, 11, 0))
	f.entry(t, "c2", "", 8, at(monday, 10, 30), at(monday, 11, 0))
	taker := f.entry(t, "c3", "", 1, at(monday, 9, 0), at(monday, 10, 0))

	freed := domain.FreedInterval{ProviderID: "p1", Interval: domain.NewInterval(at(monday, 10, 0), 30*time.Minute)}
	got, ok, err := f.matcher.MatchFreed(ctx, freed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, taker.ID, got.ID, "window end is inclusive for the start")
}

func TestMatchFreed_BookedEntryIsNotAwardedTwice(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	e := f.entry(t, "c1", "", 1, at(monday, 9, 0), at(monday, 11, 0))

	first := domain.FreedInterval{ProviderID: "p1", Interval: domain.NewInterval(at(monday, 10, 0), 30*time.Minute)}
	_, ok, err := f.matcher.MatchFreed(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	second := domain.FreedInterval{ProviderID: "p2", Interval: domain.NewInterval(at(monday, 10, 0), 30*time.Minute)}
	_, ok, err = f.matcher.MatchFreed(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := f.store.ListBookings(ctx, store.BookingFilter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	got, err := f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistBooked, got.Status)
}

func TestOfferModeNotifiesWithoutBooking(t *testing.T) {
	f := newFixture(t, ModeOffer)
	ctx := context.Background()
	taken := f.book(t, "c0", "p1", at(monday, 10, 0))
	e := f.entry(t, "c1", "p1", 1, at(monday, 10, 0), at(monday, 10, 0).Add(time.Minute))

	_, err := f.lifecycle.Cancel(ctx, taken.ID, "", customer("c0"))
	require.NoError(t, err)

	got, err := f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistNotified, got.Status)
	assert.Nil(t, got.BookingID)

	require.Len(t, f.notifier.offers, 1)
	assert.Equal(t, domain.BookingPending, f.notifier.offers[0].Status)

	rows, err := f.store.ListBookings(ctx, store.BookingFilter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Notified entries are not offered again.
	_, ok, err := f.matcher.MatchFreed(ctx, domain.FreedInterval{ProviderID: "p1", Interval: taken.Interval()})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpiresAndBooksEarliestFreeSlot(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()

	stale, err := f.matcher.CreateEntry(ctx, CreateEntryInput{
		CustomerID: "c9", ServiceID: "cut",
		PreferredStart: at(monday, 9, 0), PreferredEnd: at(monday, 12, 0),
		Priority: 10, ExpiresAt: ptr(f.now.Add(time.Hour)), Actor: customer("c9"),
	})
	require.NoError(t, err)
	e := f.entry(t, "c1", "p1", 1, at(monday, 9, 0), at(monday, 11, 0))
	f.book(t, "c0", "p1", at(monday, 9, 0))

	f.now = f.now.Add(2 * time.Hour)
	report, err := f.matcher.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Expired: 1, Matched: 1}, report)

	got, err := f.store.GetWaitlistEntry(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistExpired, got.Status)

	got, err = f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BookingID)
	b, err := f.store.GetBooking(ctx, *got.BookingID)
	require.NoError(t, err)
	assert.Equal(t, at(monday, 9, 30), b.StartTime)
	assert.Equal(t, "p1", b.ProviderID)
}

func TestSweepReportsUnmatched(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	f.book(t, "c0", "p1", at(monday, 9, 0))
	f.entry(t, "c1", "p1", 1, at(monday, 9, 0), at(monday, 9, 0).Add(time.Minute))

	report, err := f.matcher.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Unmatched: 1}, report)
}

func TestNewWindowTriggersProviderMatch(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	tuesday := monday.AddDate(0, 0, 1)
	e := f.entry(t, "c1", "p1", 1, at(tuesday, 9, 0), at(tuesday, 17, 0))

	av := f.matcher.availability
	_, err := av.SetWindow(ctx, availability.WindowInput{
		ProviderID: "p1", DayOfWeek: domain.Tuesday,
		Start: domain.Clock(14, 0), End: domain.Clock(18, 0), Active: true,
		Actor: domain.Actor{ID: "p1", Role: domain.RoleProvider},
	})
	require.NoError(t, err)

	got, err := f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistBooked, got.Status)
	b, err := f.store.GetBooking(ctx, *got.BookingID)
	require.NoError(t, err)
	assert.Equal(t, at(tuesday, 14, 0), b.StartTime)
}

func TestCreateEntryValidation(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	valid := CreateEntryInput{
		CustomerID: "c1", ServiceID: "cut",
		PreferredStart: at(monday, 9, 0), PreferredEnd: at(monday, 11, 0),
		Actor: customer("c1"),
	}

	tests := []struct {
		name   string
		mutate func(in *CreateEntryInput)
		check  func(t *testing.T, err error)
	}{
		{"inverted window", func(in *CreateEntryInput) { in.PreferredEnd = in.PreferredStart }, requireValidation},
		{"window too long", func(in *CreateEntryInput) { in.PreferredEnd = in.PreferredStart.AddDate(0, 2, 0) }, requireValidation},
		{"expiry in the past", func(in *CreateEntryInput) { in.ExpiresAt = ptr(f.now.Add(-time.Minute)) }, requireValidation},
		{"other customer", func(in *CreateEntryInput) { in.Actor = customer("c2") }, func(t *testing.T, err error) {
			require.ErrorIs(t, err, domain.ErrForbidden)
		}},
		{"unknown service", func(in *CreateEntryInput) { in.ServiceID = "perm" }, func(t *testing.T, err error) {
			require.ErrorIs(t, err, store.ErrNotFound)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.matcher.CreateEntry(ctx, in)
			tt.check(t, err)
		})
	}

	e, err := f.matcher.CreateEntry(ctx, valid)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(DefaultExpiry), e.ExpiresAt)
}

func TestCancelEntry(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	e := f.entry(t, "c1", "", 1, at(monday, 9, 0), at(monday, 11, 0))

	_, err := f.matcher.CancelEntry(ctx, e.ID, customer("c2"))
	require.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.matcher.CancelEntry(ctx, e.ID, customer("c1"))
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistCancelled, got.Status)

	_, err = f.matcher.CancelEntry(ctx, e.ID, domain.Actor{ID: "a1", Role: domain.RoleAdmin})
	requireValidation(t, err)
}

func TestDivertWritesWaitlistedBookingAndEntry(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	seed := f.book(t, "c1", "p1", at(monday, 9, 0))
	iv := domain.NewInterval(at(monday, 10, 0), 30*time.Minute)

	b, e, err := f.matcher.Divert(ctx, DivertInput{
		CustomerID: "c1", ProviderID: "p1", ServiceID: "cut",
		Interval: iv, ParentBookingID: &seed.ID, Actor: domain.SystemActor,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingWaitlisted, b.Status)
	assert.Equal(t, seed.ID, *b.ParentBookingID)
	assert.Equal(t, 0, e.Priority)
	assert.Equal(t, "p1", e.PreferredProviderID)
	assert.Equal(t, iv, e.PreferredWindow())
	assert.Equal(t, b.ID, *e.OriginBookingID)
	assert.Equal(t, iv.Start, e.ExpiresAt)

	// A later match inherits the series parent through the origin booking.
	_, ok, err := f.matcher.MatchFreed(ctx, domain.FreedInterval{ProviderID: "p1", Interval: iv})
	require.NoError(t, err)
	require.True(t, ok)
	children, err := f.store.ListBookings(ctx, store.BookingFilter{ParentBookingID: &seed.ID, Statuses: domain.ActiveBookingStatuses})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, iv.Start, children[0].StartTime)
}

func requireValidation(t *testing.T, err error) {
	t.Helper()
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func ptr[T any](v T) *T {
	return &v
}

func TestCreateEntry_ProviderOnlyForOwnCalendar(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	p1 := domain.Actor{ID: "p1", Role: domain.RoleProvider}
	in := CreateEntryInput{
		CustomerID: "c1", ServiceID: "cut",
		PreferredStart: at(monday, 9, 0), PreferredEnd: at(monday, 11, 0),
		Actor: p1,
	}

	// Open to any provider.
	_, err := f.matcher.CreateEntry(ctx, in)
	require.ErrorIs(t, err, domain.ErrForbidden)

	in.PreferredProviderID = "p2"
	_, err = f.matcher.CreateEntry(ctx, in)
	require.ErrorIs(t, err, domain.ErrForbidden)

	in.PreferredProviderID = "p1"
	e, err := f.matcher.CreateEntry(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "c1", e.CustomerID)

	_, err = f.matcher.CancelEntry(ctx, e.ID, domain.Actor{ID: "p2", Role: domain.RoleProvider})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListEntries_Scoping(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	mine := f.entry(t, "c1", "p1", 1, at(monday, 9, 0), at(monday, 11, 0))
	open := f.entry(t, "c2", "", 2, at(monday, 9, 0), at(monday, 11, 0))
	f.entry(t, "c3", "p2", 3, at(monday, 9, 0), at(monday, 11, 0))
	_, err := f.matcher.CancelEntry(ctx, open.ID, customer("c2"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      ListEntriesInput
		want    int
		wantErr error
	}{
		{name: "customer defaults to self", in: ListEntriesInput{Actor: customer("c1")}, want: 1},
		{name: "customer asks for another", in: ListEntriesInput{CustomerID: "c2", Actor: customer("c1")}, wantErr: domain.ErrForbidden},
		{name: "provider sees named and open", in: ListEntriesInput{Actor: domain.Actor{ID: "p1", Role: domain.RoleProvider}}, want: 2},
		{name: "provider asks for another", in: ListEntriesInput{ProviderID: "p2", Actor: domain.Actor{ID: "p1", Role: domain.RoleProvider}}, wantErr: domain.ErrForbidden},
		{name: "admin filters by status", in: ListEntriesInput{Statuses: []domain.WaitlistStatus{domain.WaitlistPending}, Actor: domain.Actor{ID: "a1", Role: domain.RoleAdmin}}, want: 2},
		{name: "admin sees everything", in: ListEntriesInput{Actor: domain.Actor{ID: "a1", Role: domain.RoleAdmin}}, want: 3},
		{name: "no role", in: ListEntriesInput{Actor: domain.Actor{ID: "x"}}, wantErr: domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.matcher.ListEntries(ctx, tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	got, err := f.matcher.ListEntries(ctx, ListEntriesInput{Actor: customer("c1")})
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got[0].ID)

	_, err = f.matcher.ListEntries(ctx, ListEntriesInput{Statuses: []domain.WaitlistStatus{"lost"}, Actor: customer("c1")})
	requireValidation(t, err)
}

func TestUpdateEntry(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	e := f.entry(t, "c1", "", 1, at(monday, 9, 0), at(monday, 11, 0))

	got, err := f.matcher.UpdateEntry(ctx, UpdateEntryInput{
		EntryID: e.ID, PreferredEnd: ptr(at(monday, 12, 0)), Priority: ptr(5), Actor: customer("c1"),
	})
	require.NoError(t, err)
	assert.Equal(t, at(monday, 12, 0), got.PreferredEnd)
	assert.Equal(t, at(monday, 9, 0), got.PreferredStart)
	assert.Equal(t, 5, got.Priority)

	stored, err := f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Priority)

	tests := []struct {
		name  string
		in    UpdateEntryInput
		check func(t *testing.T, err error)
	}{
		{"inverted window", UpdateEntryInput{PreferredStart: ptr(at(monday, 13, 0)), Actor: customer("c1")}, requireValidation},
		{"window too long", UpdateEntryInput{PreferredEnd: ptr(at(monday, 9, 0).AddDate(0, 2, 0)), Actor: customer("c1")}, requireValidation},
		{"expiry in the past", UpdateEntryInput{ExpiresAt: ptr(f.now.Add(-time.Minute)), Actor: customer("c1")}, requireValidation},
		{"other customer", UpdateEntryInput{Priority: ptr(9), Actor: customer("c2")}, func(t *testing.T, err error) {
			require.ErrorIs(t, err, domain.ErrForbidden)
		}},
		{"provider on open entry", UpdateEntryInput{Priority: ptr(9), Actor: domain.Actor{ID: "p1", Role: domain.RoleProvider}}, func(t *testing.T, err error) {
			require.ErrorIs(t, err, domain.ErrForbidden)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.EntryID = e.ID
			_, err := f.matcher.UpdateEntry(ctx, in)
			tt.check(t, err)
		})
	}

	unchanged, err := f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.PreferredWindow(), unchanged.PreferredWindow())
	assert.Equal(t, 5, unchanged.Priority)

	// A provider named on the entry cannot hand it to someone else.
	named := f.entry(t, "c2", "p1", 1, at(monday, 9, 0), at(monday, 11, 0))
	_, err = f.matcher.UpdateEntry(ctx, UpdateEntryInput{
		EntryID: named.ID, PreferredProviderID: ptr("p2"), Actor: domain.Actor{ID: "p1", Role: domain.RoleProvider},
	})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.matcher.CancelEntry(ctx, e.ID, customer("c1"))
	require.NoError(t, err)
	_, err = f.matcher.UpdateEntry(ctx, UpdateEntryInput{EntryID: e.ID, Priority: ptr(1), Actor: customer("c1")})
	requireValidation(t, err)
}

func TestUpdateEntry_BookedEntryIsClosed(t *testing.T) {
	f := newFixture(t, ModeBook)
	ctx := context.Background()
	b := f.book(t, "c9", "p1", at(monday, 10, 0))
	e := f.entry(t, "c1", "p1", 1, at(monday, 10, 0), at(monday, 10, 30))

	_, err := f.lifecycle.Cancel(ctx, b.ID, "", customer("c9"))
	require.NoError(t, err)
	booked, err := f.store.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WaitlistBooked, booked.Status)

	_, err = f.matcher.UpdateEntry(ctx, UpdateEntryInput{EntryID: e.ID, Priority: ptr(3), Actor: customer("c1")})
	requireValidation(t, err)
}
