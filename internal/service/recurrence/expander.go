package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/bookings"
	"salonbook/backend/internal/service/waitlist"
	"salonbook/backend/internal/store"
)

const DefaultMaxOccurrences = 52

type Options struct {
	Location       *time.Location
	MaxOccurrences int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Expander turns a seed booking and a rule into a series of bookings.
type Expander struct {
	store     store.Store
	catalog   store.ServiceCatalog
	lifecycle *bookings.Lifecycle
	waitlist  *waitlist.Matcher
	loc       *time.Location
	max       int
	now       func() time.Time
	logger    *slog.Logger
}

func NewExpander(s store.Store, catalog store.ServiceCatalog, lc *bookings.Lifecycle, wl *waitlist.Matcher, opts Options) *Expander {
	x := &Expander{
		store:     s,
		catalog:   catalog,
		lifecycle: lc,
		waitlist:  wl,
		loc:       opts.Location,
		max:       opts.MaxOccurrences,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if x.loc == nil {
		x.loc = time.UTC
	}
	if x.max <= 0 {
		x.max = DefaultMaxOccurrences
	}
	if x.now == nil {
		x.now = time.Now
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	x.logger = x.logger.With(slog.String("component", "recurrence"))
	return x
}

// Failure is an occurrence that could not be booked or waitlisted because
// of an unexpected error. The rest of the series is unaffected.
type Failure struct {
	Start time.Time
	Err   error
}

type Result struct {
	Parent     domain.Booking
	Series     domain.RecurrenceSeries
	Created    []domain.Booking
	Waitlisted []domain.Booking
	Failed     []Failure
}

func (x *Expander) occurrences(seed time.Time, rule domain.RecurrenceRule) ([]time.Time, error) {
	return rule.Occurrences(seed, x.loc, x.max)
}

// preflight rejects the whole series if any date hits the provider's hours,
// break or time off. Other bookings are not considered here.
func (x *Expander) preflight(ctx context.Context, providerID string, dates []time.Time, duration time.Duration) error {
	detector := x.lifecycle.Detector()
	for _, d := range dates {
		conflicts, err := detector.CheckStructural(ctx, x.store, providerID, domain.NewInterval(d, duration))
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			conflicts[0].Detail = fmt.Sprintf("%s on %s", conflicts[0].Detail, d.In(x.loc).Format(time.DateOnly))
			return &domain.ConflictError{Conflicts: conflicts[:1]}
		}
	}
	return nil
}

// CreateSeries books the seed and then expands the rule from it. Nothing is
// written when any date fails the preflight.
func (x *Expander) CreateSeries(ctx context.Context, in bookings.CreateInput, rule domain.RecurrenceRule) (Result, error) {
	if in.Start.IsZero() {
		return Result{}, domain.NewValidationError("start", "start is required")
	}
	if in.IdempotencyKey != "" {
		res, found, err := x.replay(ctx, bookings.IdempotentBookingID(in.CustomerID, in.IdempotencyKey))
		if err != nil {
			return Result{}, err
		}
		if found {
			if !in.Actor.CanManageBooking(res.Parent) {
				return Result{}, domain.ErrForbidden
			}
			return res, nil
		}
	}

	dates, err := x.occurrences(in.Start, rule)
	if err != nil {
		return Result{}, err
	}
	duration, err := x.catalog.Duration(ctx, in.ServiceID)
	if err != nil {
		return Result{}, err
	}
	if err := x.preflight(ctx, in.ProviderID, dates, duration); err != nil {
		return Result{}, err
	}

	seedIn := in
	seedIn.ParentBookingID = nil
	seed, err := x.lifecycle.Create(ctx, seedIn)
	if err != nil {
		return Result{}, err
	}
	return x.expand(ctx, seed, rule, dates, in.Actor, true)
}

// replay rebuilds the result of a series whose seed was already created
// under the same idempotency key.
func (x *Expander) replay(ctx context.Context, seedID uuid.UUID) (Result, bool, error) {
	seed, err := x.store.GetBooking(ctx, seedID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	series, err := x.store.GetSeriesByParent(ctx, seed.ID)
	if errors.Is(err, store.ErrNotFound) {
		// The seed exists on its own; expanding it now would still be a new
		// series, so treat the key as used.
		return Result{}, false, store.ErrIdempotencyConflict
	}
	if err != nil {
		return Result{}, false, err
	}
	children, err := x.store.ListBookings(ctx, store.BookingFilter{ParentBookingID: &seed.ID})
	if err != nil {
		return Result{}, false, err
	}

	res := Result{Parent: seed, Series: series}
	for _, b := range children {
		if b.Status == domain.BookingWaitlisted {
			res.Waitlisted = append(res.Waitlisted, b)
		} else {
			res.Created = append(res.Created, b)
		}
	}
	return res, true, nil
}

// Expand creates the occurrences after an existing seed booking.
func (x *Expander) Expand(ctx context.Context, seed domain.Booking, rule domain.RecurrenceRule, actor domain.Actor) (Result, error) {
	if !actor.CanManageBooking(seed) {
		return Result{}, domain.ErrForbidden
	}
	dates, err := x.occurrences(seed.StartTime, rule)
	if err != nil {
		return Result{}, err
	}
	if err := x.preflight(ctx, seed.ProviderID, dates[1:], seed.EndTime.Sub(seed.StartTime)); err != nil {
		return Result{}, err
	}
	return x.expand(ctx, seed, rule, dates, actor, false)
}

func (x *Expander) expand(ctx context.Context, seed domain.Booking, rule domain.RecurrenceRule, dates []time.Time, actor domain.Actor, ownsSeed bool) (Result, error) {
	res := Result{Parent: seed}

	err := x.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res.Series, err = tx.InsertSeries(ctx, domain.RecurrenceSeries{
			ParentBookingID: seed.ID,
			CustomerID:      seed.CustomerID,
			Kind:            rule.Kind,
			Interval:        rule.Interval,
			Until:           rule.Until,
			Count:           rule.Count,
			Status:          domain.SeriesActive,
		})
		return err
	})
	if err != nil {
		if ownsSeed {
			x.compensate(ctx, []domain.Booking{seed}, nil, uuid.Nil)
		}
		return Result{}, err
	}

	duration := seed.EndTime.Sub(seed.StartTime)
	var entries []uuid.UUID
	for _, d := range dates[1:] {
		b, err := x.lifecycle.Create(ctx, bookings.CreateInput{
			CustomerID:      seed.CustomerID,
			ProviderID:      seed.ProviderID,
			ServiceID:       seed.ServiceID,
			Start:           d,
			Notes:           seed.Notes,
			ParentBookingID: &seed.ID,
			Actor:           actor,
		})
		if err == nil {
			res.Created = append(res.Created, b)
			continue
		}

		cErr, isConflict := domain.AsConflict(err)
		switch {
		case isConflict && cErr.IsDoubleBooking():
			wb, e, err := x.waitlist.Divert(ctx, waitlist.DivertInput{
				CustomerID:      seed.CustomerID,
				ProviderID:      seed.ProviderID,
				ServiceID:       seed.ServiceID,
				Interval:        domain.NewInterval(d, duration),
				ParentBookingID: &seed.ID,
				Actor:           actor,
			})
			if err != nil {
				res.Failed = append(res.Failed, Failure{Start: d, Err: err})
				continue
			}
			res.Waitlisted = append(res.Waitlisted, wb)
			entries = append(entries, e.ID)
		case isConflict:
			owned := res.Created
			if ownsSeed {
				owned = append([]domain.Booking{seed}, owned...)
			}
			x.compensate(ctx, owned, entries, res.Series.ID)
			return Result{}, err
		default:
			x.logger.Warn("series occurrence failed",
				slog.String("series_id", res.Series.ID.String()),
				slog.Time("start", d),
				slog.String("err", err.Error()),
			)
			res.Failed = append(res.Failed, Failure{Start: d, Err: err})
		}
	}
	return res, nil
}

// compensate undoes a partially expanded series after a schedule change
// made one of its dates unbookable.
func (x *Expander) compensate(ctx context.Context, created []domain.Booking, entries []uuid.UUID, seriesID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	for _, b := range created {
		if _, err := x.lifecycle.Cancel(ctx, b.ID, "recurring series aborted", domain.SystemActor); err != nil {
			x.logger.Error("compensating cancel failed", slog.String("booking_id", b.ID.String()), slog.String("err", err.Error()))
		}
	}
	for _, id := range entries {
		if _, err := x.waitlist.CancelEntry(ctx, id, domain.SystemActor); err != nil {
			x.logger.Error("compensating waitlist cancel failed", slog.String("waitlist_entry_id", id.String()), slog.String("err", err.Error()))
		}
	}
	if seriesID != uuid.Nil {
		if err := x.closeSeries(ctx, seriesID, domain.SeriesCancelled, nil); err != nil {
			x.logger.Error("compensating series close failed", slog.String("series_id", seriesID.String()), slog.String("err", err.Error()))
		}
	}
}

type CancelSeriesResult struct {
	Series    domain.RecurrenceSeries
	Cancelled []domain.Booking
}

// CancelSeries cancels the parent and every future active child. Past or
// completed occurrences are left alone. A cancelled series stays cancelled.
func (x *Expander) CancelSeries(ctx context.Context, seriesID uuid.UUID, reason string, actor domain.Actor) (CancelSeriesResult, error) {
	series, err := x.openSeries(ctx, seriesID, actor)
	if err != nil {
		return CancelSeriesResult{}, err
	}
	cancelled, err := x.cancelFuture(ctx, series, reason, actor)
	if err != nil {
		return CancelSeriesResult{}, err
	}
	if err := x.closeSeries(ctx, series.ID, domain.SeriesCancelled, nil); err != nil {
		return CancelSeriesResult{}, err
	}
	series.Status = domain.SeriesCancelled
	return CancelSeriesResult{Series: series, Cancelled: cancelled}, nil
}

// ReplaceSeries cancels what is left of a series and books a new one in its
// place. The old series ends up superseded by the new one; if the new series
// cannot be created the old one is cancelled.
func (x *Expander) ReplaceSeries(ctx context.Context, seriesID uuid.UUID, in bookings.CreateInput, rule domain.RecurrenceRule) (Result, error) {
	old, err := x.openSeries(ctx, seriesID, in.Actor)
	if err != nil {
		return Result{}, err
	}
	if in.CustomerID == "" {
		in.CustomerID = old.CustomerID
	}
	if in.CustomerID != old.CustomerID {
		return Result{}, domain.NewValidationError("customer_id", "a series can only be replaced for the same customer")
	}

	dates, err := x.occurrences(in.Start, rule)
	if err != nil {
		return Result{}, err
	}
	duration, err := x.catalog.Duration(ctx, in.ServiceID)
	if err != nil {
		return Result{}, err
	}
	if err := x.preflight(ctx, in.ProviderID, dates, duration); err != nil {
		return Result{}, err
	}

	if _, err := x.cancelFuture(ctx, old, "replaced by a new series", in.Actor); err != nil {
		return Result{}, err
	}

	res, err := x.CreateSeries(ctx, in, rule)
	if err != nil {
		if closeErr := x.closeSeries(ctx, old.ID, domain.SeriesCancelled, nil); closeErr != nil {
			return Result{}, errors.Join(err, closeErr)
		}
		return Result{}, err
	}
	if err := x.closeSeries(ctx, old.ID, domain.SeriesSuperseded, &res.Series.ID); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (x *Expander) openSeries(ctx context.Context, seriesID uuid.UUID, actor domain.Actor) (domain.RecurrenceSeries, error) {
	if seriesID == uuid.Nil {
		return domain.RecurrenceSeries{}, domain.NewValidationError("series_id", "series_id is required")
	}
	series, err := x.store.GetSeries(ctx, seriesID)
	if err != nil {
		return domain.RecurrenceSeries{}, err
	}
	if !actor.ActsForCustomer(series.CustomerID) {
		return domain.RecurrenceSeries{}, domain.ErrForbidden
	}
	if series.Status != domain.SeriesActive {
		return domain.RecurrenceSeries{}, domain.NewValidationError("status", fmt.Sprintf("series is %s", series.Status))
	}
	return series, nil
}

func (x *Expander) cancelFuture(ctx context.Context, series domain.RecurrenceSeries, reason string, actor domain.Actor) ([]domain.Booking, error) {
	parent, err := x.store.GetBooking(ctx, series.ParentBookingID)
	if err != nil {
		return nil, err
	}
	children, err := x.store.ListBookings(ctx, store.BookingFilter{ParentBookingID: &parent.ID})
	if err != nil {
		return nil, err
	}

	all := append([]domain.Booking{parent}, children...)
	// Withdraw the series' own waitlist entries first so the slots freed
	// below are not handed back to the same series.
	for _, b := range all {
		if b.Status != domain.BookingWaitlisted {
			continue
		}
		if err := x.closeEntriesFor(ctx, b.ID); err != nil {
			return nil, err
		}
	}

	now := x.now()
	var cancelled []domain.Booking
	for _, b := range all {
		if !b.Status.Active() || b.StartTime.Before(now) {
			continue
		}
		c, err := x.lifecycle.Cancel(ctx, b.ID, reason, actor)
		if err != nil {
			return cancelled, fmt.Errorf("cancel booking %s: %w", b.ID, err)
		}
		cancelled = append(cancelled, c)
	}
	return cancelled, nil
}

func (x *Expander) closeEntriesFor(ctx context.Context, originID uuid.UUID) error {
	open, err := x.store.ListWaitlistEntries(ctx, store.WaitlistFilter{
		Statuses:        []domain.WaitlistStatus{domain.WaitlistPending, domain.WaitlistNotified},
		OriginBookingID: &originID,
	})
	if err != nil {
		return err
	}
	for _, e := range open {
		if _, err := x.waitlist.CancelEntry(ctx, e.ID, domain.SystemActor); err != nil {
			var vErr *domain.ValidationError
			if errors.As(err, &vErr) {
				continue
			}
			return err
		}
	}
	return nil
}

func (x *Expander) closeSeries(ctx context.Context, id uuid.UUID, status domain.SeriesStatus, supersededBy *uuid.UUID) error {
	return x.store.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := tx.GetSeries(ctx, id)
		if err != nil {
			return err
		}
		s.Status = status
		s.SupersededBy = supersededBy
		return tx.UpdateSeries(ctx, s)
	})
}

// SeriesDetail is a series with its seed booking and every booking
// generated from that seed, in start order. Cancelled and WAITLISTED
// occurrences are included.
type SeriesDetail struct {
	Series   domain.RecurrenceSeries
	Parent   domain.Booking
	Children []domain.Booking
}

// GetSeries is visible to whoever may manage the seed booking, so the
// provider of a series can read it as well as the customer.
func (x *Expander) GetSeries(ctx context.Context, seriesID uuid.UUID, actor domain.Actor) (SeriesDetail, error) {
	if seriesID == uuid.Nil {
		return SeriesDetail{}, domain.NewValidationError("series_id", "series_id is required")
	}
	series, err := x.store.GetSeries(ctx, seriesID)
	if err != nil {
		return SeriesDetail{}, err
	}
	parent, err := x.store.GetBooking(ctx, series.ParentBookingID)
	if err != nil {
		return SeriesDetail{}, err
	}
	if !actor.CanManageBooking(parent) {
		return SeriesDetail{}, domain.ErrForbidden
	}
	children, err := x.store.ListBookings(ctx, store.BookingFilter{ParentBookingID: &parent.ID})
	if err != nil {
		return SeriesDetail{}, err
	}
	return SeriesDetail{Series: series, Parent: parent, Children: children}, nil
}

type ListSeriesInput struct {
	CustomerID string
	Statuses   []domain.SeriesStatus
	Actor      domain.Actor
}

// ListSeries returns a customer's series, newest first. Customers default
// to their own; staff may list any customer or all of them.
func (x *Expander) ListSeries(ctx context.Context, in ListSeriesInput) ([]domain.RecurrenceSeries, error) {
	customerID := in.CustomerID
	if customerID == "" && in.Actor.Role == domain.RoleCustomer {
		customerID = in.Actor.ID
	}
	if !in.Actor.Privileged() && (customerID == "" || !in.Actor.ActsForCustomer(customerID)) {
		return nil, domain.ErrForbidden
	}
	for _, st := range in.Statuses {
		if !st.Valid() {
			return nil, domain.NewValidationError("statuses", fmt.Sprintf("unknown series status %q", st))
		}
	}
	return x.store.ListSeries(ctx, store.SeriesFilter{CustomerID: customerID, Statuses: in.Statuses})
}
