package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/notify"
	"salonbook/backend/internal/store"
)

const maxMoveRetries = 3

// FreedIntervalHandler receives capacity released by a committed cancel or
// move.
type FreedIntervalHandler interface {
	HandleIntervalFreed(ctx context.Context, f domain.FreedInterval)
}

type Options struct {
	Location *time.Location
	Now      func() time.Time
	Notifier notify.Notifier
	Calendar notify.CalendarSync
	Logger   *slog.Logger
	// FreedTimeout bounds the delivery of one freed interval to all
	// subscribers.
	FreedTimeout time.Duration
}

type Lifecycle struct {
	store        store.Store
	catalog      store.ServiceCatalog
	detector     *Detector
	now          func() time.Time
	notifier     notify.Notifier
	calendar     notify.CalendarSync
	logger       *slog.Logger
	freedTimeout time.Duration

	mu       sync.RWMutex
	handlers []FreedIntervalHandler
}

func NewLifecycle(s store.Store, catalog store.ServiceCatalog, opts Options) *Lifecycle {
	l := &Lifecycle{
		store:        s,
		catalog:      catalog,
		detector:     NewDetector(opts.Location),
		now:          opts.Now,
		notifier:     opts.Notifier,
		calendar:     opts.Calendar,
		logger:       opts.Logger,
		freedTimeout: opts.FreedTimeout,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.notifier == nil {
		l.notifier = notify.Nop{}
	}
	if l.calendar == nil {
		l.calendar = notify.Nop{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With(slog.String("component", "bookings"))
	if l.freedTimeout <= 0 {
		l.freedTimeout = 30 * time.Second
	}
	return l
}

func (l *Lifecycle) Subscribe(h FreedIntervalHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

func (l *Lifecycle) Detector() *Detector {
	return l.detector
}

type CreateInput struct {
	CustomerID      string
	ProviderID      string
	ServiceID       string
	Start           time.Time
	Notes           string
	ParentBookingID *uuid.UUID
	IdempotencyKey  string
	Actor           domain.Actor
	// Claim runs inside the booking transaction after the insert. An error
	// rolls the booking back.
	Claim func(ctx context.Context, tx store.Tx, b domain.Booking) error
}

// IdempotentBookingID derives the booking id for a client retry key. The
// key is scoped to the customer.
func IdempotentBookingID(customerID, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("salonbook:create_booking:"+customerID+":"+key))
}

func (l *Lifecycle) prepare(ctx context.Context, in CreateInput) (domain.Booking, error) {
	b := domain.Booking{
		CustomerID:      strings.TrimSpace(in.CustomerID),
		ProviderID:      strings.TrimSpace(in.ProviderID),
		ServiceID:       strings.TrimSpace(in.ServiceID),
		Notes:           strings.TrimSpace(in.Notes),
		ParentBookingID: in.ParentBookingID,
		LastModifiedBy:  in.Actor.String(),
	}
	if b.CustomerID == "" {
		return domain.Booking{}, domain.NewValidationError("customer_id", "customer_id is required")
	}
	if b.ProviderID == "" {
		return domain.Booking{}, domain.NewValidationError("provider_id", "provider_id is required")
	}
	if b.ServiceID == "" {
		return domain.Booking{}, domain.NewValidationError("service_id", "service_id is required")
	}
	if in.Start.IsZero() {
		return domain.Booking{}, domain.NewValidationError("start", "start is required")
	}
	if in.Start.Before(l.now()) {
		return domain.Booking{}, domain.NewValidationError("start", "start must not be in the past")
	}
	if !in.Actor.Role.Valid() || !in.Actor.CanManageBooking(b) {
		return domain.Booking{}, domain.ErrForbidden
	}

	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		if len(key) > 256 {
			return domain.Booking{}, domain.NewValidationError("idempotency_key", "idempotency_key too long")
		}
		b.ID = IdempotentBookingID(b.CustomerID, key)
	}

	duration, err := l.catalog.Duration(ctx, b.ServiceID)
	if err != nil {
		return domain.Booking{}, err
	}
	if duration <= 0 {
		return domain.Booking{}, domain.NewValidationError("service_id", "service duration must be positive")
	}
	b.StartTime = in.Start.UTC()
	b.EndTime = b.StartTime.Add(duration)
	return b, nil
}

// Create books the interval [start, start+service duration) for the
// customer. The conflict check and the insert happen under the provider
// lock, so two overlapping creates never both succeed.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (domain.Booking, error) {
	b, err := l.prepare(ctx, in)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingConfirmed

	var (
		created  domain.Booking
		replayed bool
	)
	err = l.store.InProviderTransaction(ctx, []string{b.ProviderID}, func(ctx context.Context, tx store.Tx) error {
		if b.ID != uuid.Nil {
			existing, err := tx.GetBooking(ctx, b.ID)
			switch {
			case err == nil:
				if !existing.SameRequest(b) {
					return store.ErrIdempotencyConflict
				}
				created, replayed = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if b.ParentBookingID != nil {
			if _, err := tx.GetBooking(ctx, *b.ParentBookingID); err != nil {
				return fmt.Errorf("parent booking: %w", err)
			}
		}

		conflicts, err := l.detector.Check(ctx, tx, b.ProviderID, b.Interval(), uuid.Nil)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &domain.ConflictError{Conflicts: conflicts}
		}

		created, err = tx.InsertBooking(ctx, b)
		if errors.Is(err, store.ErrConflict) {
			return doubleBooking(b.Interval())
		}
		if err != nil {
			return err
		}

		if in.Claim != nil {
			return in.Claim(ctx, tx, created)
		}
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	if replayed {
		return created, nil
	}

	l.afterCommit(ctx, "booking_created", created, l.notifier.BookingCreated, l.calendar.Upsert)
	return created, nil
}

// Propose runs every check Create runs and returns the unsaved PENDING
// booking. Claim runs under the provider lock as in Create.
func (l *Lifecycle) Propose(ctx context.Context, in CreateInput) (domain.Booking, error) {
	b, err := l.prepare(ctx, in)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingPending

	err = l.store.InProviderTransaction(ctx, []string{b.ProviderID}, func(ctx context.Context, tx store.Tx) error {
		conflicts, err := l.detector.Check(ctx, tx, b.ProviderID, b.Interval(), uuid.Nil)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &domain.ConflictError{Conflicts: conflicts}
		}
		if in.Claim != nil {
			return in.Claim(ctx, tx, b)
		}
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

type UpdateInput struct {
	BookingID     uuid.UUID
	NewStart      *time.Time
	NewProviderID *string
	NewServiceID  *string
	Notes         *string
	Actor         domain.Actor
}

func (l *Lifecycle) Update(ctx context.Context, in UpdateInput) (domain.Booking, error) {
	if in.BookingID == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id", "booking_id is required")
	}
	if in.NewStart != nil && in.NewStart.IsZero() {
		return domain.Booking{}, domain.NewValidationError("start", "start is required")
	}
	newProvider := ""
	if in.NewProviderID != nil {
		newProvider = strings.TrimSpace(*in.NewProviderID)
		if newProvider == "" {
			return domain.Booking{}, domain.NewValidationError("provider_id", "provider_id must not be empty")
		}
	}
	var newDuration time.Duration
	if in.NewServiceID != nil {
		serviceID := strings.TrimSpace(*in.NewServiceID)
		if serviceID == "" {
			return domain.Booking{}, domain.NewValidationError("service_id", "service_id must not be empty")
		}
		d, err := l.catalog.Duration(ctx, serviceID)
		if err != nil {
			return domain.Booking{}, err
		}
		if d <= 0 {
			return domain.Booking{}, domain.NewValidationError("service_id", "service duration must be positive")
		}
		newDuration = d
	}

	var before, after domain.Booking
	err := l.inBookingTransaction(ctx, in.BookingID, []string{newProvider}, func(ctx context.Context, tx store.Tx, b domain.Booking) error {
		if !in.Actor.CanManageBooking(b) {
			return domain.ErrForbidden
		}
		if !b.Status.Active() {
			return domain.NewValidationError("status", fmt.Sprintf("cannot update a %s booking", b.Status))
		}

		next := b
		if newProvider != "" {
			next.ProviderID = newProvider
			if !in.Actor.CanManageBooking(next) {
				return domain.ErrForbidden
			}
		}
		if in.NewServiceID != nil {
			next.ServiceID = strings.TrimSpace(*in.NewServiceID)
		}
		if in.Notes != nil {
			next.Notes = strings.TrimSpace(*in.Notes)
		}
		duration := b.EndTime.Sub(b.StartTime)
		if newDuration > 0 {
			duration = newDuration
		}
		if in.NewStart != nil {
			next.StartTime = in.NewStart.UTC()
			if next.StartTime.Before(l.now()) {
				return domain.NewValidationError("start", "start must not be in the past")
			}
		}
		next.EndTime = next.StartTime.Add(duration)

		// Notes-only edits keep the booking where it is, even if the
		// provider's hours have since changed around it.
		if reschedules(b, next) {
			conflicts, err := l.detector.Check(ctx, tx, next.ProviderID, next.Interval(), b.ID)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &domain.ConflictError{Conflicts: conflicts}
			}
		}

		next.LastModifiedBy = in.Actor.String()
		if err := tx.UpdateBooking(ctx, next); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return doubleBooking(next.Interval())
			}
			return err
		}
		before, after = b, next
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	l.afterCommit(ctx, "booking_updated", after, l.notifier.BookingUpdated, l.calendar.Upsert)
	if before.ProviderID != after.ProviderID || !before.StartTime.Equal(after.StartTime) || !before.EndTime.Equal(after.EndTime) {
		l.emitFreed(ctx, domain.FreedInterval{ProviderID: before.ProviderID, Interval: before.Interval(), BookingID: before.ID})
	}
	return after, nil
}

func reschedules(before, after domain.Booking) bool {
	return before.ProviderID != after.ProviderID ||
		before.ServiceID != after.ServiceID ||
		!before.StartTime.Equal(after.StartTime) ||
		!before.EndTime.Equal(after.EndTime)
}

// Cancel releases a future booking. The freed interval is published only
// after the cancellation is committed.
func (l *Lifecycle) Cancel(ctx context.Context, id uuid.UUID, reason string, actor domain.Actor) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id", "booking_id is required")
	}

	var cancelled domain.Booking
	err := l.inBookingTransaction(ctx, id, nil, func(ctx context.Context, tx store.Tx, b domain.Booking) error {
		if !actor.CanManageBooking(b) {
			return domain.ErrForbidden
		}
		var err error
		cancelled, err = l.cancelLocked(ctx, tx, b, reason, actor)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}
	l.afterCancel(ctx, cancelled)
	return cancelled, nil
}

// CancelLocked cancels b inside a transaction that already holds its
// provider lock. The caller must invoke AfterCancel once the transaction
// commits.
func (l *Lifecycle) CancelLocked(ctx context.Context, tx store.Tx, b domain.Booking, reason string, actor domain.Actor) (domain.Booking, error) {
	return l.cancelLocked(ctx, tx, b, reason, actor)
}

func (l *Lifecycle) AfterCancel(ctx context.Context, b domain.Booking) {
	l.afterCancel(ctx, b)
}

func (l *Lifecycle) cancelLocked(ctx context.Context, tx store.Tx, b domain.Booking, reason string, actor domain.Actor) (domain.Booking, error) {
	switch {
	case b.Status == domain.BookingCancelled:
		return domain.Booking{}, domain.NewValidationError("status", "booking is already cancelled")
	case !b.Status.Active():
		return domain.Booking{}, domain.NewValidationError("status", fmt.Sprintf("cannot cancel a %s booking", b.Status))
	}
	now := l.now()
	if b.StartTime.Before(now) {
		return domain.Booking{}, domain.NewValidationError("start", "cannot cancel a booking that has already started")
	}

	at := now.UTC()
	b.Status = domain.BookingCancelled
	b.CancelledAt = &at
	b.CancellationReason = strings.TrimSpace(reason)
	b.LastModifiedBy = actor.String()
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (l *Lifecycle) afterCancel(ctx context.Context, b domain.Booking) {
	l.afterCommit(ctx, "booking_cancelled", b, l.notifier.BookingCancelled, l.calendar.Delete)
	l.emitFreed(ctx, domain.FreedInterval{ProviderID: b.ProviderID, Interval: b.Interval(), BookingID: b.ID})
}

func (l *Lifecycle) Complete(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	return l.finish(ctx, id, actor, domain.BookingCompleted)
}

// MarkNoShow closes a confirmed booking whose customer never came and bumps
// the customer's no-show counter in the same transaction.
func (l *Lifecycle) MarkNoShow(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	return l.finish(ctx, id, actor, domain.BookingNoShow)
}

func (l *Lifecycle) finish(ctx context.Context, id uuid.UUID, actor domain.Actor, to domain.BookingStatus) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id", "booking_id is required")
	}
	if !actor.Privileged() {
		return domain.Booking{}, domain.ErrForbidden
	}

	var done domain.Booking
	err := l.inBookingTransaction(ctx, id, nil, func(ctx context.Context, tx store.Tx, b domain.Booking) error {
		if !b.Status.CanTransition(to) {
			return domain.NewValidationError("status", fmt.Sprintf("cannot move a %s booking to %s", b.Status, to))
		}
		if l.now().Before(b.EndTime) {
			return domain.NewValidationError("end", "booking has not ended yet")
		}
		b.Status = to
		b.LastModifiedBy = actor.String()
		if to == domain.BookingNoShow {
			if _, err := tx.IncrementNoShow(ctx, b.CustomerID); err != nil {
				return err
			}
			b.NoShowCount++
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		done = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	l.afterCommit(ctx, "booking_"+string(to), done, l.notifier.BookingUpdated, l.calendar.Upsert)
	return done, nil
}

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id", "booking_id is required")
	}
	b, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if !actor.CanManageBooking(b) {
		return domain.Booking{}, domain.ErrForbidden
	}
	return b, nil
}

type ListInput struct {
	ProviderID string
	CustomerID string
	Range      *domain.Interval
	Statuses   []domain.BookingStatus
	Actor      domain.Actor
}

func (l *Lifecycle) List(ctx context.Context, in ListInput) ([]domain.Booking, error) {
	switch {
	case in.ProviderID == "" && in.CustomerID == "":
		return nil, domain.NewValidationError("provider_id", "provider_id or customer_id is required")
	case in.CustomerID != "" && !in.Actor.ActsForCustomer(in.CustomerID):
		return nil, domain.ErrForbidden
	case in.CustomerID == "" && !in.Actor.ActsForProvider(in.ProviderID):
		return nil, domain.ErrForbidden
	}
	if in.Range != nil && !in.Range.Valid() {
		return nil, domain.NewValidationError("range", "range start must be before range end")
	}
	return l.store.ListBookings(ctx, store.BookingFilter{
		ProviderID: in.ProviderID,
		CustomerID: in.CustomerID,
		Window:     in.Range,
		Statuses:   in.Statuses,
	})
}

func (l *Lifecycle) ListProviderBookings(ctx context.Context, providerID string, rng *domain.Interval, actor domain.Actor) ([]domain.Booking, error) {
	return l.List(ctx, ListInput{ProviderID: providerID, Range: rng, Actor: actor})
}

func (l *Lifecycle) ListCustomerBookings(ctx context.Context, customerID string, rng *domain.Interval, actor domain.Actor) ([]domain.Booking, error) {
	return l.List(ctx, ListInput{CustomerID: customerID, Range: rng, Actor: actor})
}

// inBookingTransaction locks the booking's provider plus any extra
// providers, re-reads the booking under the lock and runs fn. If the booking
// moved to another provider between the unlocked read and the lock, it
// retries with the new provider set.
func (l *Lifecycle) inBookingTransaction(ctx context.Context, id uuid.UUID, extra []string, fn func(ctx context.Context, tx store.Tx, b domain.Booking) error) error {
	errMoved := errors.New("booking moved")

	current, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxMoveRetries; attempt++ {
		providers := []string{current.ProviderID}
		for _, p := range extra {
			if p != "" {
				providers = append(providers, p)
			}
		}

		var moved domain.Booking
		err = l.store.InProviderTransaction(ctx, providers, func(ctx context.Context, tx store.Tx) error {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return err
			}
			if b.ProviderID != current.ProviderID {
				moved = b
				return errMoved
			}
			return fn(ctx, tx, b)
		})
		if !errors.Is(err, errMoved) {
			return err
		}
		current = moved
	}
	return fmt.Errorf("booking %s changed provider concurrently", id)
}

func (l *Lifecycle) afterCommit(ctx context.Context, kind string, b domain.Booking, notifyFn, calendarFn func(context.Context, domain.Booking) error) {
	ctx = context.WithoutCancel(ctx)
	if err := notifyFn(ctx, b); err != nil {
		l.logger.Warn("notification failed",
			slog.String("kind", kind),
			slog.String("booking_id", b.ID.String()),
			slog.String("err", err.Error()),
		)
	}
	if err := calendarFn(ctx, b); err != nil {
		l.logger.Warn("calendar sync failed",
			slog.String("kind", kind),
			slog.String("booking_id", b.ID.String()),
			slog.String("err", err.Error()),
		)
	}
}

func (l *Lifecycle) emitFreed(ctx context.Context, f domain.FreedInterval) {
	l.mu.RLock()
	handlers := append([]FreedIntervalHandler(nil), l.handlers...)
	l.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.freedTimeout)
	defer cancel()
	for _, h := range handlers {
		h.HandleIntervalFreed(ctx, f)
	}
}
