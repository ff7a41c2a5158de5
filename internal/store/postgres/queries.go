package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

const bookingsNoOverlap = "bookings_no_overlap"

// queries runs against either the pool or an open transaction.
type queries struct {
	db bun.IDB
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23P01" && pgErr.ConstraintName == bookingsNoOverlap:
			return store.ErrConflict
		case pgErr.Code == "23505":
			return store.ErrIdempotencyConflict
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrNotFound)
		}
	}
	return err
}

func (q queries) ListProviders(ctx context.Context) ([]string, error) {
	var ids []string
	err := q.db.NewSelect().
		Model((*domain.AvailabilityWindow)(nil)).
		ColumnExpr("DISTINCT provider_id").
		OrderExpr("provider_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (q queries) ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := q.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("day_of_week ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) ListTimeOff(ctx context.Context, f store.TimeOffFilter) ([]domain.TimeOff, error) {
	var rows []domain.TimeOff
	sel := q.db.NewSelect().Model(&rows)
	if f.ProviderID != "" {
		sel = sel.Where("provider_id = ?", f.ProviderID)
	}
	if f.ApprovedOnly {
		sel = sel.Where("is_approved")
	}
	if f.Window != nil {
		sel = sel.Where("start_time < ?", f.Window.End).Where("end_time > ?", f.Window.Start)
	}
	if err := sel.OrderExpr("start_time ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) GetTimeOff(ctx context.Context, id uuid.UUID) (domain.TimeOff, error) {
	var row domain.TimeOff
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.TimeOff{}, notFound(err)
	}
	return row, nil
}

func (q queries) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var row domain.Booking
	sel := q.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1)
	if _, inTx := q.db.(bun.Tx); inTx {
		sel = sel.For("UPDATE")
	}
	if err := sel.Scan(ctx); err != nil {
		return domain.Booking{}, notFound(err)
	}
	return row, nil
}

func (q queries) ListBookings(ctx context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	var rows []domain.Booking
	sel := q.db.NewSelect().Model(&rows)
	if f.ProviderID != "" {
		sel = sel.Where("provider_id = ?", f.ProviderID)
	}
	if f.CustomerID != "" {
		sel = sel.Where("customer_id = ?", f.CustomerID)
	}
	if f.ParentBookingID != nil {
		sel = sel.Where("parent_booking_id = ?", *f.ParentBookingID)
	}
	if f.Window != nil {
		sel = sel.Where("start_time < ?", f.Window.End).Where("end_time > ?", f.Window.Start)
	}
	if len(f.Statuses) > 0 {
		sel = sel.Where("status IN (?)", bun.In(f.Statuses))
	}
	if err := sel.OrderExpr("start_time ASC, id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurrenceSeries, error) {
	var row domain.RecurrenceSeries
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.RecurrenceSeries{}, notFound(err)
	}
	return row, nil
}

func (q queries) GetSeriesByParent(ctx context.Context, parentBookingID uuid.UUID) (domain.RecurrenceSeries, error) {
	var row domain.RecurrenceSeries
	err := q.db.NewSelect().
		Model(&row).
		Where("parent_booking_id = ?", parentBookingID).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.RecurrenceSeries{}, notFound(err)
	}
	return row, nil
}

func (q queries) ListSeries(ctx context.Context, f store.SeriesFilter) ([]domain.RecurrenceSeries, error) {
	var rows []domain.RecurrenceSeries
	sel := q.db.NewSelect().Model(&rows)
	if f.CustomerID != "" {
		sel = sel.Where("customer_id = ?", f.CustomerID)
	}
	if len(f.Statuses) > 0 {
		sel = sel.Where("status IN (?)", bun.In(f.Statuses))
	}
	if err := sel.OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	var row domain.WaitlistEntry
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.WaitlistEntry{}, notFound(err)
	}
	return row, nil
}

func (q queries) ListWaitlistEntries(ctx context.Context, f store.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	var rows []domain.WaitlistEntry
	sel := q.db.NewSelect().Model(&rows)
	if len(f.Statuses) > 0 {
		sel = sel.Where("status IN (?)", bun.In(f.Statuses))
	}
	if f.CustomerID != "" {
		sel = sel.Where("customer_id = ?", f.CustomerID)
	}
	if f.ProviderID != "" {
		sel = sel.Where("(preferred_provider_id IS NULL OR preferred_provider_id = ?)", f.ProviderID)
	}
	if f.ExpiresBefore != nil {
		sel = sel.Where("expires_at < ?", *f.ExpiresBefore)
	}
	if f.ExpiresAfter != nil {
		sel = sel.Where("expires_at > ?", *f.ExpiresAfter)
	}
	if f.StartWithin != nil {
		sel = sel.Where("preferred_start <= ?", *f.StartWithin).Where("preferred_end >= ?", *f.StartWithin)
	}
	if f.OriginBookingID != nil {
		sel = sel.Where("origin_booking_id = ?", *f.OriginBookingID)
	}
	if err := sel.OrderExpr("priority DESC, created_at ASC, id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.ID != uuid.Nil {
		var existing domain.Booking
		err := q.db.NewSelect().Model(&existing).Where("id = ?", b.ID).Limit(1).Scan(ctx)
		switch {
		case err == nil:
			if !existing.SameRequest(b) {
				return domain.Booking{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return domain.Booking{}, err
		}
	}

	if _, err := q.db.NewInsert().Model(&b).Exec(ctx); err != nil {
		return domain.Booking{}, mapWriteErr(err)
	}
	return b, nil
}

func (q queries) UpdateBooking(ctx context.Context, b domain.Booking) error {
	res, err := q.db.NewUpdate().Model(&b).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return mapWriteErr(err)
	}
	return requireAffected(res)
}

func (q queries) UpsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	_, err := q.db.NewInsert().
		Model(&w).
		On("CONFLICT (provider_id, day_of_week) DO UPDATE").
		Set("start_minute = EXCLUDED.start_minute").
		Set("end_minute = EXCLUDED.end_minute").
		Set("is_active = EXCLUDED.is_active").
		Set("break_start_minute = EXCLUDED.break_start_minute").
		Set("break_end_minute = EXCLUDED.break_end_minute").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	var stored domain.AvailabilityWindow
	err = q.db.NewSelect().
		Model(&stored).
		Where("provider_id = ?", w.ProviderID).
		Where("day_of_week = ?", w.DayOfWeek).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	return stored, nil
}

func (q queries) InsertTimeOff(ctx context.Context, t domain.TimeOff) (domain.TimeOff, error) {
	if _, err := q.db.NewInsert().Model(&t).Exec(ctx); err != nil {
		return domain.TimeOff{}, err
	}
	return t, nil
}

func (q queries) UpdateTimeOff(ctx context.Context, t domain.TimeOff) error {
	res, err := q.db.NewUpdate().Model(&t).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (q queries) InsertSeries(ctx context.Context, s domain.RecurrenceSeries) (domain.RecurrenceSeries, error) {
	if _, err := q.db.NewInsert().Model(&s).Exec(ctx); err != nil {
		return domain.RecurrenceSeries{}, mapWriteErr(err)
	}
	return s, nil
}

func (q queries) UpdateSeries(ctx context.Context, s domain.RecurrenceSeries) error {
	res, err := q.db.NewUpdate().Model(&s).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (q queries) InsertWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) (domain.WaitlistEntry, error) {
	if _, err := q.db.NewInsert().Model(&e).Exec(ctx); err != nil {
		return domain.WaitlistEntry{}, mapWriteErr(err)
	}
	return e, nil
}

func (q queries) LockWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	var row domain.WaitlistEntry
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Limit(1).Scan(ctx)
	if err != nil {
		return domain.WaitlistEntry{}, notFound(err)
	}
	return row, nil
}

func (q queries) UpdateWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	res, err := q.db.NewUpdate().Model(&e).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (q queries) IncrementNoShow(ctx context.Context, customerID string) (int, error) {
	var count int
	err := q.db.NewRaw(
		`INSERT INTO customer_stats (customer_id, no_show_count, updated_at)
		VALUES (?, 1, now())
		ON CONFLICT (customer_id) DO UPDATE
		SET no_show_count = customer_stats.no_show_count + 1, updated_at = now()
		RETURNING no_show_count`,
		customerID,
	).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
