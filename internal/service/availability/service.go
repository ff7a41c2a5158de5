package availability

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

const DefaultMaxRange = 31 * 24 * time.Hour

// CapacityListener is told when a provider gains bookable hours.
type CapacityListener interface {
	HandleCapacityAdded(ctx context.Context, providerID string)
}

type Options struct {
	Location    *time.Location
	Granularity time.Duration
	MaxRange    time.Duration
	Cache       *Cache
	Now         func() time.Time
}

type Service struct {
	store    store.Store
	catalog  store.ServiceCatalog
	loc      *time.Location
	step     time.Duration
	maxRange time.Duration
	cache    *Cache
	now      func() time.Time
	listener CapacityListener
}

func NewService(s store.Store, catalog store.ServiceCatalog, opts Options) *Service {
	svc := &Service{
		store:    s,
		catalog:  catalog,
		loc:      opts.Location,
		step:     opts.Granularity,
		maxRange: opts.MaxRange,
		cache:    opts.Cache,
		now:      opts.Now,
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.step <= 0 {
		svc.step = domain.DefaultSlotGranularity
	}
	if svc.maxRange <= 0 {
		svc.maxRange = DefaultMaxRange
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// OnCapacityAdded registers the listener notified after a window write
// that may open new slots.
func (s *Service) OnCapacityAdded(l CapacityListener) {
	s.listener = l
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Schedule returns the provider's windows and approved time off, served from
// the cache when possible.
func (s *Service) Schedule(ctx context.Context, providerID string) (domain.ProviderSchedule, error) {
	return s.cache.Load(ctx, providerID, func(ctx context.Context) (domain.ProviderSchedule, error) {
		return store.LoadSchedule(ctx, s.store, providerID, nil)
	})
}

func (s *Service) validateRange(rng domain.Interval) (domain.Interval, error) {
	if rng.Start.IsZero() || rng.End.IsZero() {
		return domain.Interval{}, domain.NewValidationError("range", "range start and end are required")
	}
	if !rng.Valid() {
		return domain.Interval{}, domain.NewValidationError("range", "range start must be before range end")
	}
	if rng.Duration() > s.maxRange {
		return domain.Interval{}, domain.NewValidationError("range", fmt.Sprintf("range must not exceed %s", s.maxRange))
	}
	return rng.UTC(), nil
}

func (s *Service) serviceDuration(ctx context.Context, serviceID string) (time.Duration, error) {
	if strings.TrimSpace(serviceID) == "" {
		return 0, domain.NewValidationError("service_id", "service_id is required")
	}
	d, err := s.catalog.Duration(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, domain.NewValidationError("service_id", "service duration must be positive")
	}
	return d, nil
}

func (s *Service) providers(ctx context.Context, providerID string) ([]string, error) {
	if providerID != "" {
		return []string{providerID}, nil
	}
	return s.store.ListProviders(ctx)
}

// Slots yields every candidate slot of the service's duration in rng,
// ignoring existing bookings. With no provider it covers every provider that
// has a window, one provider after another.
func (s *Service) Slots(ctx context.Context, providerID, serviceID string, rng domain.Interval) (iter.Seq[domain.Slot], error) {
	rng, err := s.validateRange(rng)
	if err != nil {
		return nil, err
	}
	duration, err := s.serviceDuration(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	ids, err := s.providers(ctx, providerID)
	if err != nil {
		return nil, err
	}

	seqs := make([]iter.Seq[domain.Slot], 0, len(ids))
	for _, id := range ids {
		schedule, err := s.Schedule(ctx, id)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, domain.GenerateSlots(schedule, duration, rng, s.step, s.loc))
	}
	return func(yield func(domain.Slot) bool) {
		for _, seq := range seqs {
			for slot := range seq {
				if !yield(slot) {
					return
				}
			}
		}
	}, nil
}

type SlotQuery struct {
	ProviderID string
	ServiceID  string
	Range      domain.Interval
}

// FreeSlots returns the slots in q.Range that no active booking overlaps and
// that have not started yet, ordered by start time then provider.
func (s *Service) FreeSlots(ctx context.Context, q SlotQuery) ([]domain.Slot, error) {
	slots, err := s.Slots(ctx, q.ProviderID, q.ServiceID, q.Range)
	if err != nil {
		return nil, err
	}

	rng := q.Range.UTC()
	booked := map[string][]domain.Booking{}
	loaded := map[string]bool{}
	now := s.now()

	var out []domain.Slot
	for slot := range slots {
		if slot.Start.Before(now) {
			continue
		}
		if !loaded[slot.ProviderID] {
			rows, err := s.store.ListBookings(ctx, store.BookingFilter{
				ProviderID: slot.ProviderID,
				Window:     &rng,
				Statuses:   domain.ActiveBookingStatuses,
			})
			if err != nil {
				return nil, err
			}
			booked[slot.ProviderID] = rows
			loaded[slot.ProviderID] = true
		}
		if len(domain.BookingConflicts(booked[slot.ProviderID], slot.Interval(), uuid.Nil)) > 0 {
			continue
		}
		out = append(out, slot)
	}

	slices.SortStableFunc(out, func(a, b domain.Slot) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ProviderID, b.ProviderID)
	})
	return out, nil
}

type WindowInput struct {
	ProviderID string
	DayOfWeek  domain.Weekday
	Start      domain.ClockTime
	End        domain.ClockTime
	Active     bool
	BreakStart *domain.ClockTime
	BreakEnd   *domain.ClockTime
	Actor      domain.Actor
}

// SetWindow replaces the provider's window for one weekday.
func (s *Service) SetWindow(ctx context.Context, in WindowInput) (domain.AvailabilityWindow, error) {
	w := domain.AvailabilityWindow{
		ProviderID: strings.TrimSpace(in.ProviderID),
		DayOfWeek:  in.DayOfWeek,
		Start:      in.Start,
		End:        in.End,
		Active:     in.Active,
		BreakStart: in.BreakStart,
		BreakEnd:   in.BreakEnd,
	}
	if err := w.Validate(); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if !in.Actor.ActsForProvider(w.ProviderID) {
		return domain.AvailabilityWindow{}, domain.ErrForbidden
	}

	var stored domain.AvailabilityWindow
	err := s.store.InProviderTransaction(ctx, []string{w.ProviderID}, func(ctx context.Context, tx store.Tx) error {
		var err error
		stored, err = tx.UpsertWindow(ctx, w)
		return err
	})
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	s.cache.Invalidate(w.ProviderID)

	if stored.Active && s.listener != nil {
		s.listener.HandleCapacityAdded(context.WithoutCancel(ctx), stored.ProviderID)
	}
	return stored, nil
}

type TimeOffInput struct {
	ProviderID string
	Start      time.Time
	End        time.Time
	Reason     string
	Actor      domain.Actor
}

// RequestTimeOff records an unapproved absence. It has no effect on
// availability until an admin approves it.
func (s *Service) RequestTimeOff(ctx context.Context, in TimeOffInput) (domain.TimeOff, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return domain.TimeOff{}, domain.NewValidationError("provider_id", "provider_id is required")
	}
	iv := domain.Interval{Start: in.Start.UTC(), End: in.End.UTC()}
	if in.Start.IsZero() || in.End.IsZero() || !iv.Valid() {
		return domain.TimeOff{}, domain.NewValidationError("end", "time off end must be after start")
	}
	if !in.Actor.ActsForProvider(providerID) {
		return domain.TimeOff{}, domain.ErrForbidden
	}

	var created domain.TimeOff
	err := s.store.InProviderTransaction(ctx, []string{providerID}, func(ctx context.Context, tx store.Tx) error {
		if err := ensureNoActiveBookings(ctx, tx, providerID, iv); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertTimeOff(ctx, domain.TimeOff{
			ProviderID: providerID,
			StartTime:  iv.Start,
			EndTime:    iv.End,
			Reason:     strings.TrimSpace(in.Reason),
		})
		return err
	})
	if err != nil {
		return domain.TimeOff{}, err
	}
	return created, nil
}

func (s *Service) ApproveTimeOff(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.TimeOff, error) {
	if id == uuid.Nil {
		return domain.TimeOff{}, domain.NewValidationError("time_off_id", "time_off_id is required")
	}
	if actor.Role != domain.RoleAdmin {
		return domain.TimeOff{}, domain.ErrForbidden
	}

	current, err := s.store.GetTimeOff(ctx, id)
	if err != nil {
		return domain.TimeOff{}, err
	}

	var approved domain.TimeOff
	err = s.store.InProviderTransaction(ctx, []string{current.ProviderID}, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTimeOff(ctx, id)
		if err != nil {
			return err
		}
		if t.Approved {
			return domain.NewValidationError("time_off_id", "time off is already approved")
		}
		if err := ensureNoActiveBookings(ctx, tx, t.ProviderID, t.Interval()); err != nil {
			return err
		}
		t.Approved = true
		t.ApprovedBy = actor.String()
		if err := tx.UpdateTimeOff(ctx, t); err != nil {
			return err
		}
		approved = t
		return nil
	})
	if err != nil {
		return domain.TimeOff{}, err
	}
	s.cache.Invalidate(approved.ProviderID)
	return approved, nil
}

func ensureNoActiveBookings(ctx context.Context, r store.Reader, providerID string, iv domain.Interval) error {
	rows, err := r.ListBookings(ctx, store.BookingFilter{
		ProviderID: providerID,
		Window:     &iv,
		Statuses:   domain.ActiveBookingStatuses,
	})
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return domain.NewValidationError("time_off", fmt.Sprintf("time off overlaps %d active booking(s)", len(rows)))
	}
	return nil
}
