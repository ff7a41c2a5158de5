// Package memory is an in-process implementation of the store contracts.
// Transactions are serialized by a single mutex and staged on a copy of the
// data set, which is swapped in only when the transaction function succeeds.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

type windowKey struct {
	providerID string
	day        domain.Weekday
}

type dataset struct {
	windows  map[windowKey]domain.AvailabilityWindow
	timeOff  map[uuid.UUID]domain.TimeOff
	bookings map[uuid.UUID]domain.Booking
	series   map[uuid.UUID]domain.RecurrenceSeries
	waitlist map[uuid.UUID]domain.WaitlistEntry
	noShows  map[string]int
}

func newDataset() *dataset {
	return &dataset{
		windows:  map[windowKey]domain.AvailabilityWindow{},
		timeOff:  map[uuid.UUID]domain.TimeOff{},
		bookings: map[uuid.UUID]domain.Booking{},
		series:   map[uuid.UUID]domain.RecurrenceSeries{},
		waitlist: map[uuid.UUID]domain.WaitlistEntry{},
		noShows:  map[string]int{},
	}
}

func (d *dataset) clone() *dataset {
	return &dataset{
		windows:  maps.Clone(d.windows),
		timeOff:  maps.Clone(d.timeOff),
		bookings: maps.Clone(d.bookings),
		series:   maps.Clone(d.series),
		waitlist: maps.Clone(d.waitlist),
		noShows:  maps.Clone(d.noShows),
	}
}

type Store struct {
	mu       sync.Mutex
	data     *dataset
	services map[string]domain.ServiceDefinition
	now      func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		data:     newDataset(),
		services: map[string]domain.ServiceDefinition{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutService registers or replaces a catalog entry.
func (s *Store) PutService(def domain.ServiceDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[def.ID] = def
}

func (s *Store) Duration(ctx context.Context, serviceID string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.services[serviceID]
	if !ok || !def.Active {
		return 0, fmt.Errorf("service %q: %w", serviceID, store.ErrNotFound)
	}
	return def.Duration(), nil
}

func (s *Store) NoShowCount(customerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.noShows[customerID]
}

func (s *Store) InProviderTransaction(ctx context.Context, providerIDs []string, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.InTransaction(ctx, fn)
}

func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.data.clone()
	if err := fn(ctx, &tx{data: staged, now: s.now}); err != nil {
		return err
	}
	s.data = staged
	return nil
}

func (s *Store) read() *tx {
	return &tx{data: s.data, now: s.now}
}

func (s *Store) ListProviders(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListProviders(ctx)
}

func (s *Store) ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListWindows(ctx, providerID)
}

func (s *Store) ListTimeOff(ctx context.Context, f store.TimeOffFilter) ([]domain.TimeOff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListTimeOff(ctx, f)
}

func (s *Store) GetTimeOff(ctx context.Context, id uuid.UUID) (domain.TimeOff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetTimeOff(ctx, id)
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetBooking(ctx, id)
}

func (s *Store) ListBookings(ctx context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListBookings(ctx, f)
}

func (s *Store) GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurrenceSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSeries(ctx, id)
}

func (s *Store) GetSeriesByParent(ctx context.Context, parentBookingID uuid.UUID) (domain.RecurrenceSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSeriesByParent(ctx, parentBookingID)
}

func (s *Store) ListSeries(ctx context.Context, f store.SeriesFilter) ([]domain.RecurrenceSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListSeries(ctx, f)
}

func (s *Store) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetWaitlistEntry(ctx, id)
}

func (s *Store) ListWaitlistEntries(ctx context.Context, f store.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListWaitlistEntries(ctx, f)
}

type tx struct {
	data *dataset
	now  func() time.Time
}

func (t *tx) stamp() time.Time {
	return t.now().UTC()
}

func newID() (uuid.UUID, error) {
	return uuid.NewV7()
}

func (t *tx) ListProviders(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for k := range t.data.windows {
		seen[k.providerID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (t *tx) ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error) {
	var out []domain.AvailabilityWindow
	for k, w := range t.data.windows {
		if k.providerID == providerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

func (t *tx) ListTimeOff(ctx context.Context, f store.TimeOffFilter) ([]domain.TimeOff, error) {
	var out []domain.TimeOff
	for _, to := range t.data.timeOff {
		if f.ProviderID != "" && to.ProviderID != f.ProviderID {
			continue
		}
		if f.ApprovedOnly && !to.Approved {
			continue
		}
		if f.Window != nil && !to.Interval().Overlaps(*f.Window) {
			continue
		}
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (t *tx) GetTimeOff(ctx context.Context, id uuid.UUID) (domain.TimeOff, error) {
	to, ok := t.data.timeOff[id]
	if !ok {
		return domain.TimeOff{}, store.ErrNotFound
	}
	return to, nil
}

func (t *tx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := t.data.bookings[id]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (t *tx) ListBookings(ctx context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range t.data.bookings {
		if f.ProviderID != "" && b.ProviderID != f.ProviderID {
			continue
		}
		if f.CustomerID != "" && b.CustomerID != f.CustomerID {
			continue
		}
		if f.ParentBookingID != nil && (b.ParentBookingID == nil || *b.ParentBookingID != *f.ParentBookingID) {
			continue
		}
		if f.Window != nil && !b.Interval().Overlaps(*f.Window) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (t *tx) GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurrenceSeries, error) {
	s, ok := t.data.series[id]
	if !ok {
		return domain.RecurrenceSeries{}, store.ErrNotFound
	}
	return s, nil
}

func (t *tx) GetSeriesByParent(ctx context.Context, parentBookingID uuid.UUID) (domain.RecurrenceSeries, error) {
	var (
		found domain.RecurrenceSeries
		ok    bool
	)
	for _, s := range t.data.series {
		if s.ParentBookingID != parentBookingID {
			continue
		}
		if !ok || s.CreatedAt.After(found.CreatedAt) || (s.CreatedAt.Equal(found.CreatedAt) && s.ID.String() > found.ID.String()) {
			found, ok = s, true
		}
	}
	if !ok {
		return domain.RecurrenceSeries{}, store.ErrNotFound
	}
	return found, nil
}

func (t *tx) ListSeries(ctx context.Context, f store.SeriesFilter) ([]domain.RecurrenceSeries, error) {
	var out []domain.RecurrenceSeries
	for _, s := range t.data.series {
		if f.CustomerID != "" && s.CustomerID != f.CustomerID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (t *tx) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	e, ok := t.data.waitlist[id]
	if !ok {
		return domain.WaitlistEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (t *tx) ListWaitlistEntries(ctx context.Context, f store.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	var out []domain.WaitlistEntry
	for _, e := range t.data.waitlist {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
			continue
		}
		if f.CustomerID != "" && e.CustomerID != f.CustomerID {
			continue
		}
		if f.ProviderID != "" && e.PreferredProviderID != "" && e.PreferredProviderID != f.ProviderID {
			continue
		}
		if f.ExpiresBefore != nil && !e.ExpiresAt.Before(*f.ExpiresBefore) {
			continue
		}
		if f.ExpiresAfter != nil && !e.ExpiresAt.After(*f.ExpiresAfter) {
			continue
		}
		if f.StartWithin != nil && (f.StartWithin.Before(e.PreferredStart) || f.StartWithin.After(e.PreferredEnd)) {
			continue
		}
		if f.OriginBookingID != nil && (e.OriginBookingID == nil || *e.OriginBookingID != *f.OriginBookingID) {
			continue
		}
		out = append(out, e)
	}
	domain.SortWaitlist(out)
	return out, nil
}

func (t *tx) overlapsActive(b domain.Booking) bool {
	if !b.Status.Active() {
		return false
	}
	for _, other := range t.data.bookings {
		if other.ID == b.ID || other.ProviderID != b.ProviderID || !other.Status.Active() {
			continue
		}
		if other.Interval().Overlaps(b.Interval()) {
			return true
		}
	}
	return false
}

func (t *tx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.Booking{}, err
		}
		b.ID = id
	} else if existing, ok := t.data.bookings[b.ID]; ok {
		if !existing.SameRequest(b) {
			return domain.Booking{}, store.ErrIdempotencyConflict
		}
		return existing, nil
	}
	if t.overlapsActive(b) {
		return domain.Booking{}, store.ErrConflict
	}
	now := t.stamp()
	b.CreatedAt, b.UpdatedAt = now, now
	t.data.bookings[b.ID] = b
	return b, nil
}

func (t *tx) UpdateBooking(ctx context.Context, b domain.Booking) error {
	if _, ok := t.data.bookings[b.ID]; !ok {
		return store.ErrNotFound
	}
	if t.overlapsActive(b) {
		return store.ErrConflict
	}
	b.UpdatedAt = t.stamp()
	t.data.bookings[b.ID] = b
	return nil
}

func (t *tx) UpsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	key := windowKey{providerID: w.ProviderID, day: w.DayOfWeek}
	now := t.stamp()
	w.CreatedAt = now
	if prev, ok := t.data.windows[key]; ok {
		w.CreatedAt = prev.CreatedAt
	}
	w.UpdatedAt = now
	t.data.windows[key] = w
	return w, nil
}

func (t *tx) InsertTimeOff(ctx context.Context, to domain.TimeOff) (domain.TimeOff, error) {
	if to.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.TimeOff{}, err
		}
		to.ID = id
	}
	now := t.stamp()
	to.CreatedAt, to.UpdatedAt = now, now
	t.data.timeOff[to.ID] = to
	return to, nil
}

func (t *tx) UpdateTimeOff(ctx context.Context, to domain.TimeOff) error {
	if _, ok := t.data.timeOff[to.ID]; !ok {
		return store.ErrNotFound
	}
	to.UpdatedAt = t.stamp()
	t.data.timeOff[to.ID] = to
	return nil
}

func (t *tx) InsertSeries(ctx context.Context, s domain.RecurrenceSeries) (domain.RecurrenceSeries, error) {
	if s.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.RecurrenceSeries{}, err
		}
		s.ID = id
	}
	now := t.stamp()
	s.CreatedAt, s.UpdatedAt = now, now
	t.data.series[s.ID] = s
	return s, nil
}

func (t *tx) UpdateSeries(ctx context.Context, s domain.RecurrenceSeries) error {
	if _, ok := t.data.series[s.ID]; !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = t.stamp()
	t.data.series[s.ID] = s
	return nil
}

func (t *tx) InsertWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) (domain.WaitlistEntry, error) {
	if e.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.WaitlistEntry{}, err
		}
		e.ID = id
	}
	now := t.stamp()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	t.data.waitlist[e.ID] = e
	return e, nil
}

// LockWaitlistEntry is a plain read; the store mutex already serializes
// transactions.
func (t *tx) LockWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	return t.GetWaitlistEntry(ctx, id)
}

func (t *tx) UpdateWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	if _, ok := t.data.waitlist[e.ID]; !ok {
		return store.ErrNotFound
	}
	e.UpdatedAt = t.stamp()
	t.data.waitlist[e.ID] = e
	return nil
}

func (t *tx) IncrementNoShow(ctx context.Context, customerID string) (int, error) {
	t.data.noShows[customerID]++
	return t.data.noShows[customerID], nil
}
