package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/notify"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/bookings"
	"salonbook/backend/internal/store"
)

type Mode string

const (
	// ModeBook creates the booking for the customer.
	ModeBook Mode = "book"
	// ModeOffer only tells the customer about the slot.
	ModeOffer Mode = "offer"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBook:
		return ModeBook, nil
	case ModeOffer:
		return ModeOffer, nil
	}
	return "", fmt.Errorf("unknown waitlist mode %q", s)
}

const (
	DefaultExpiry = 7 * 24 * time.Hour
	// DefaultMaxWindow leaves room for the service duration inside the
	// availability range limit used by sweeps.
	DefaultMaxWindow = 30 * 24 * time.Hour
)

// errEntryUnavailable means another matcher already claimed or closed the
// entry.
var errEntryUnavailable = errors.New("waitlist entry no longer pending")

type Options struct {
	Mode          Mode
	DefaultExpiry time.Duration
	MaxWindow     time.Duration
	Now           func() time.Time
	Notifier      notify.Notifier
	Logger        *slog.Logger
}

// Matcher hands freed or newly opened capacity to waiting customers.
type Matcher struct {
	store        store.Store
	catalog      store.ServiceCatalog
	lifecycle    *bookings.Lifecycle
	availability *availability.Service

	mode      Mode
	expiry    time.Duration
	maxWindow time.Duration
	now       func() time.Time
	notifier  notify.Notifier
	logger    *slog.Logger
}

func NewMatcher(s store.Store, catalog store.ServiceCatalog, lc *bookings.Lifecycle, av *availability.Service, opts Options) *Matcher {
	m := &Matcher{
		store:        s,
		catalog:      catalog,
		lifecycle:    lc,
		availability: av,
		mode:         opts.Mode,
		expiry:       opts.DefaultExpiry,
		maxWindow:    opts.MaxWindow,
		now:          opts.Now,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
	}
	if m.mode == "" {
		m.mode = ModeBook
	}
	if m.expiry <= 0 {
		m.expiry = DefaultExpiry
	}
	if m.maxWindow <= 0 {
		m.maxWindow = DefaultMaxWindow
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("component", "waitlist"))
	return m
}

type CreateEntryInput struct {
	CustomerID          string
	ServiceID           string
	PreferredProviderID string
	PreferredStart      time.Time
	PreferredEnd        time.Time
	Priority            int
	ExpiresAt           *time.Time
	Actor               domain.Actor
}

func (m *Matcher) CreateEntry(ctx context.Context, in CreateEntryInput) (domain.WaitlistEntry, error) {
	now := m.now().UTC()
	e := domain.WaitlistEntry{
		CustomerID:          strings.TrimSpace(in.CustomerID),
		ServiceID:           strings.TrimSpace(in.ServiceID),
		PreferredProviderID: strings.TrimSpace(in.PreferredProviderID),
		PreferredStart:      in.PreferredStart.UTC(),
		PreferredEnd:        in.PreferredEnd.UTC(),
		Priority:            in.Priority,
		Status:              domain.WaitlistPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(m.expiry),
	}
	if e.CustomerID == "" {
		return domain.WaitlistEntry{}, domain.NewValidationError("customer_id", "customer_id is required")
	}
	if e.ServiceID == "" {
		return domain.WaitlistEntry{}, domain.NewValidationError("service_id", "service_id is required")
	}
	if in.ExpiresAt != nil {
		e.ExpiresAt = in.ExpiresAt.UTC()
	}
	if err := m.validate(e, now); err != nil {
		return domain.WaitlistEntry{}, err
	}
	if !in.Actor.Role.Valid() || !in.Actor.CanManageWaitlistEntry(e) {
		return domain.WaitlistEntry{}, domain.ErrForbidden
	}
	if _, err := m.catalog.Duration(ctx, e.ServiceID); err != nil {
		return domain.WaitlistEntry{}, err
	}

	var created domain.WaitlistEntry
	err := m.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.InsertWaitlistEntry(ctx, e)
		return err
	})
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return created, nil
}

// validate checks the parts of an entry a customer chooses: the preferred
// window and the expiry.
func (m *Matcher) validate(e domain.WaitlistEntry, now time.Time) error {
	if e.PreferredStart.IsZero() || e.PreferredEnd.IsZero() || !e.PreferredWindow().Valid() {
		return domain.NewValidationError("preferred_end", "preferred end must be after preferred start")
	}
	if e.PreferredWindow().Duration() > m.maxWindow {
		return domain.NewValidationError("preferred_end", fmt.Sprintf("preferred window must not exceed %s", m.maxWindow))
	}
	if !e.ExpiresAt.After(now) {
		return domain.NewValidationError("expires_at", "expires_at must be in the future")
	}
	return nil
}

type ListEntriesInput struct {
	CustomerID string
	ProviderID string
	Statuses   []domain.WaitlistStatus
	Actor      domain.Actor
}

// ListEntries returns entries in matching order. Customers see their own
// entries; providers see the demand they could serve, which includes entries
// open to any provider.
func (m *Matcher) ListEntries(ctx context.Context, in ListEntriesInput) ([]domain.WaitlistEntry, error) {
	f := store.WaitlistFilter{
		CustomerID: strings.TrimSpace(in.CustomerID),
		ProviderID: strings.TrimSpace(in.ProviderID),
		Statuses:   in.Statuses,
	}
	switch {
	case in.Actor.Privileged():
	case in.Actor.Role == domain.RoleCustomer:
		if f.CustomerID == "" {
			f.CustomerID = in.Actor.ID
		}
		if f.CustomerID != in.Actor.ID {
			return nil, domain.ErrForbidden
		}
	case in.Actor.Role == domain.RoleProvider:
		if f.ProviderID == "" {
			f.ProviderID = in.Actor.ID
		}
		if f.ProviderID != in.Actor.ID {
			return nil, domain.ErrForbidden
		}
	default:
		return nil, domain.ErrForbidden
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, domain.NewValidationError("statuses", fmt.Sprintf("unknown waitlist status %q", st))
		}
	}
	return m.store.ListWaitlistEntries(ctx, f)
}

type UpdateEntryInput struct {
	EntryID             uuid.UUID
	PreferredProviderID *string
	PreferredStart      *time.Time
	PreferredEnd        *time.Time
	Priority            *int
	ExpiresAt           *time.Time
	Actor               domain.Actor
}

// UpdateEntry changes a pending or notified entry. The window and expiry
// are validated again against the result.
func (m *Matcher) UpdateEntry(ctx context.Context, in UpdateEntryInput) (domain.WaitlistEntry, error) {
	if in.EntryID == uuid.Nil {
		return domain.WaitlistEntry{}, domain.NewValidationError("waitlist_entry_id", "waitlist_entry_id is required")
	}

	var updated domain.WaitlistEntry
	err := m.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockWaitlistEntry(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if !in.Actor.CanManageWaitlistEntry(e) {
			return domain.ErrForbidden
		}
		if !e.Status.Open() {
			return domain.NewValidationError("status", fmt.Sprintf("cannot update a %s waitlist entry", e.Status))
		}

		next := e
		if in.PreferredProviderID != nil {
			next.PreferredProviderID = strings.TrimSpace(*in.PreferredProviderID)
		}
		if in.PreferredStart != nil {
			next.PreferredStart = in.PreferredStart.UTC()
		}
		if in.PreferredEnd != nil {
			next.PreferredEnd = in.PreferredEnd.UTC()
		}
		if in.Priority != nil {
			next.Priority = *in.Priority
		}
		if in.ExpiresAt != nil {
			next.ExpiresAt = in.ExpiresAt.UTC()
		}
		if err := m.validate(next, m.now().UTC()); err != nil {
			return err
		}
		if !in.Actor.CanManageWaitlistEntry(next) {
			return domain.ErrForbidden
		}
		if err := tx.UpdateWaitlistEntry(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return updated, nil
}

func (m *Matcher) CancelEntry(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.WaitlistEntry, error) {
	if id == uuid.Nil {
		return domain.WaitlistEntry{}, domain.NewValidationError("waitlist_entry_id", "waitlist_entry_id is required")
	}
	var cancelled domain.WaitlistEntry
	err := m.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockWaitlistEntry(ctx, id)
		if err != nil {
			return err
		}
		if !actor.CanManageWaitlistEntry(e) {
			return domain.ErrForbidden
		}
		if !e.Status.Open() {
			return domain.NewValidationError("status", fmt.Sprintf("cannot cancel a %s waitlist entry", e.Status))
		}
		e.Status = domain.WaitlistCancelled
		if err := tx.UpdateWaitlistEntry(ctx, e); err != nil {
			return err
		}
		cancelled = e
		return nil
	})
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return cancelled, nil
}

type DivertInput struct {
	CustomerID      string
	ProviderID      string
	ServiceID       string
	Interval        domain.Interval
	ParentBookingID *uuid.UUID
	Actor           domain.Actor
}

// Divert records a request that lost to an existing booking: a WAITLISTED
// booking row plus a waitlist entry for exactly that interval and provider.
// The entry expires when the interval starts, or after the default expiry
// if that comes first.
func (m *Matcher) Divert(ctx context.Context, in DivertInput) (domain.Booking, domain.WaitlistEntry, error) {
	now := m.now().UTC()
	expires := now.Add(m.expiry)
	if in.Interval.Start.Before(expires) {
		expires = in.Interval.Start
	}
	if !expires.After(now) {
		return domain.Booking{}, domain.WaitlistEntry{}, domain.NewValidationError("start", "start must not be in the past")
	}

	var (
		b domain.Booking
		e domain.WaitlistEntry
	)
	err := m.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		b, err = tx.InsertBooking(ctx, domain.Booking{
			CustomerID:      in.CustomerID,
			ProviderID:      in.ProviderID,
			ServiceID:       in.ServiceID,
			StartTime:       in.Interval.Start.UTC(),
			EndTime:         in.Interval.End.UTC(),
			Status:          domain.BookingWaitlisted,
			ParentBookingID: in.ParentBookingID,
			LastModifiedBy:  in.Actor.String(),
		})
		if err != nil {
			return err
		}
		e, err = tx.InsertWaitlistEntry(ctx, domain.WaitlistEntry{
			CustomerID:          in.CustomerID,
			ServiceID:           in.ServiceID,
			PreferredProviderID: in.ProviderID,
			PreferredStart:      b.StartTime,
			PreferredEnd:        b.EndTime,
			Priority:            0,
			Status:              domain.WaitlistPending,
			OriginBookingID:     &b.ID,
			CreatedAt:           now,
			ExpiresAt:           expires,
		})
		return err
	})
	if err != nil {
		return domain.Booking{}, domain.WaitlistEntry{}, err
	}
	return b, e, nil
}

// HandleIntervalFreed is the subscriber hook for cancellations.
func (m *Matcher) HandleIntervalFreed(ctx context.Context, f domain.FreedInterval) {
	entry, ok, err := m.MatchFreed(ctx, f)
	if err != nil {
		m.logger.Error("match freed interval",
			slog.String("provider_id", f.ProviderID),
			slog.Time("start", f.Interval.Start),
			slog.String("err", err.Error()),
		)
		return
	}
	if ok {
		m.logger.Info("freed interval matched",
			slog.String("provider_id", f.ProviderID),
			slog.String("waitlist_entry_id", entry.ID.String()),
		)
	}
}

// MatchFreed offers the freed start to pending entries, highest priority
// first, and stops at the first one that gets it.
func (m *Matcher) MatchFreed(ctx context.Context, f domain.FreedInterval) (domain.WaitlistEntry, bool, error) {
	now := m.now()
	start := f.Interval.Start
	candidates, err := m.store.ListWaitlistEntries(ctx, store.WaitlistFilter{
		Statuses:     []domain.WaitlistStatus{domain.WaitlistPending},
		ProviderID:   f.ProviderID,
		ExpiresAfter: &now,
		StartWithin:  &start,
	})
	if err != nil {
		return domain.WaitlistEntry{}, false, err
	}

	for _, e := range candidates {
		if !e.Accepts(f, now) {
			continue
		}
		claimed, err := m.award(ctx, e, f.ProviderID, start)
		if err == nil {
			return claimed, true, nil
		}
		if !skippable(err) {
			m.logger.Warn("waitlist award failed",
				slog.String("waitlist_entry_id", e.ID.String()),
				slog.String("err", err.Error()),
			)
		}
	}
	return domain.WaitlistEntry{}, false, nil
}

type SweepReport struct {
	Expired   int
	Matched   int
	Unmatched int
	Failed    int
}

// Sweep expires stale entries and then tries to place every pending entry
// in the earliest free slot of its preferred window.
func (m *Matcher) Sweep(ctx context.Context) (SweepReport, error) {
	expired, err := m.expire(ctx)
	if err != nil {
		return SweepReport{}, err
	}
	report, err := m.matchPending(ctx, "")
	report.Expired = expired
	return report, err
}

// MatchProvider is a sweep restricted to one provider.
func (m *Matcher) MatchProvider(ctx context.Context, providerID string) (SweepReport, error) {
	if strings.TrimSpace(providerID) == "" {
		return SweepReport{}, domain.NewValidationError("provider_id", "provider_id is required")
	}
	return m.matchPending(ctx, providerID)
}

// HandleCapacityAdded runs after a provider's window changes.
func (m *Matcher) HandleCapacityAdded(ctx context.Context, providerID string) {
	report, err := m.MatchProvider(ctx, providerID)
	if err != nil {
		m.logger.Error("match new capacity", slog.String("provider_id", providerID), slog.String("err", err.Error()))
		return
	}
	if report.Matched > 0 {
		m.logger.Info("new capacity matched", slog.String("provider_id", providerID), slog.Int("matched", report.Matched))
	}
}

func (m *Matcher) expire(ctx context.Context) (int, error) {
	now := m.now()
	stale, err := m.store.ListWaitlistEntries(ctx, store.WaitlistFilter{
		Statuses:      []domain.WaitlistStatus{domain.WaitlistPending, domain.WaitlistNotified},
		ExpiresBefore: &now,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range stale {
		err := m.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			e, err := tx.LockWaitlistEntry(ctx, s.ID)
			if err != nil {
				return err
			}
			if !e.Status.Open() {
				return errEntryUnavailable
			}
			e.Status = domain.WaitlistExpired
			return tx.UpdateWaitlistEntry(ctx, e)
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, errEntryUnavailable):
		default:
			return expired, err
		}
	}
	return expired, nil
}

func (m *Matcher) matchPending(ctx context.Context, providerID string) (SweepReport, error) {
	now := m.now()
	pending, err := m.store.ListWaitlistEntries(ctx, store.WaitlistFilter{
		Statuses:     []domain.WaitlistStatus{domain.WaitlistPending},
		ProviderID:   providerID,
		ExpiresAfter: &now,
	})
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ok, err := m.matchEntry(ctx, e, providerID)
		switch {
		case err != nil:
			report.Failed++
			m.logger.Warn("waitlist sweep entry failed",
				slog.String("waitlist_entry_id", e.ID.String()),
				slog.String("err", err.Error()),
			)
		case ok:
			report.Matched++
		default:
			report.Unmatched++
		}
	}
	return report, nil
}

func (m *Matcher) matchEntry(ctx context.Context, e domain.WaitlistEntry, onlyProvider string) (bool, error) {
	provider := e.PreferredProviderID
	if onlyProvider != "" {
		if provider != "" && provider != onlyProvider {
			return false, nil
		}
		provider = onlyProvider
	}

	duration, err := m.catalog.Duration(ctx, e.ServiceID)
	if err != nil {
		return false, err
	}
	slots, err := m.availability.FreeSlots(ctx, availability.SlotQuery{
		ProviderID: provider,
		ServiceID:  e.ServiceID,
		Range:      domain.Interval{Start: e.PreferredStart, End: e.PreferredEnd.Add(duration)},
	})
	if err != nil {
		return false, err
	}

	for _, slot := range slots {
		if slot.Start.After(e.PreferredEnd) {
			break
		}
		_, err := m.award(ctx, e, slot.ProviderID, slot.Start)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errEntryUnavailable):
			return false, nil
		case skippable(err):
			continue
		default:
			return false, err
		}
	}
	return false, nil
}

// award books (or offers) start at provider for the entry. The entry is
// claimed inside the booking transaction, so it is awarded at most once even
// when the event path and a sweep race.
func (m *Matcher) award(ctx context.Context, e domain.WaitlistEntry, providerID string, start time.Time) (domain.WaitlistEntry, error) {
	in := bookings.CreateInput{
		CustomerID: e.CustomerID,
		ProviderID: providerID,
		ServiceID:  e.ServiceID,
		Start:      start,
		Notes:      "booked from waitlist",
		Actor:      domain.SystemActor,
	}
	if e.OriginBookingID != nil {
		origin, err := m.store.GetBooking(ctx, *e.OriginBookingID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.WaitlistEntry{}, err
		}
		if err == nil {
			in.ParentBookingID = origin.ParentBookingID
		}
	}

	next := domain.WaitlistBooked
	if m.mode == ModeOffer {
		next = domain.WaitlistNotified
	}

	var claimed domain.WaitlistEntry
	in.Claim = func(ctx context.Context, tx store.Tx, b domain.Booking) error {
		cur, err := tx.LockWaitlistEntry(ctx, e.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.WaitlistPending || !cur.ExpiresAt.After(m.now()) {
			return errEntryUnavailable
		}
		cur.Status = next
		if b.ID != uuid.Nil && next == domain.WaitlistBooked {
			id := b.ID
			cur.BookingID = &id
		}
		if err := tx.UpdateWaitlistEntry(ctx, cur); err != nil {
			return err
		}
		claimed = cur
		return nil
	}

	var (
		b   domain.Booking
		err error
	)
	if m.mode == ModeOffer {
		b, err = m.lifecycle.Propose(ctx, in)
	} else {
		b, err = m.lifecycle.Create(ctx, in)
	}
	if err != nil {
		return domain.WaitlistEntry{}, err
	}

	if err := m.notifier.WaitlistSlotAvailable(context.WithoutCancel(ctx), claimed, b); err != nil {
		m.logger.Warn("waitlist notification failed",
			slog.String("waitlist_entry_id", claimed.ID.String()),
			slog.String("err", err.Error()),
		)
	}
	return claimed, nil
}

// skippable errors mean this slot or entry cannot be used right now; the
// matcher moves on to the next candidate.
func skippable(err error) bool {
	if errors.Is(err, errEntryUnavailable) || errors.Is(err, store.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
		return true
	}
	if _, ok := domain.AsConflict(err); ok {
		return true
	}
	var vErr *domain.ValidationError
	return errors.As(err, &vErr)
}
