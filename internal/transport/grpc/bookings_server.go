package grpc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"salonbook/backend/internal/auth"
	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/bookings"
	"salonbook/backend/internal/service/recurrence"
)

type BookingService interface {
	Create(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	Get(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error)
	List(ctx context.Context, in bookings.ListInput) ([]domain.Booking, error)
	Update(ctx context.Context, in bookings.UpdateInput) (domain.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, actor domain.Actor) (domain.Booking, error)
	Complete(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Booking, error)
}

type SeriesService interface {
	CreateSeries(ctx context.Context, in bookings.CreateInput, rule domain.RecurrenceRule) (recurrence.Result, error)
	CancelSeries(ctx context.Context, seriesID uuid.UUID, reason string, actor domain.Actor) (recurrence.CancelSeriesResult, error)
	ReplaceSeries(ctx context.Context, seriesID uuid.UUID, in bookings.CreateInput, rule domain.RecurrenceRule) (recurrence.Result, error)
	GetSeries(ctx context.Context, seriesID uuid.UUID, actor domain.Actor) (recurrence.SeriesDetail, error)
	ListSeries(ctx context.Context, in recurrence.ListSeriesInput) ([]domain.RecurrenceSeries, error)
}

func (s *Server) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, domain.NewValidationError(field, field+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(field, field+" must be a UUID")
	}
	return id, nil
}

func (s *Server) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}

	in := bookings.CreateInput{
		CustomerID:     req.CustomerID,
		ProviderID:     req.ProviderID,
		ServiceID:      req.ServiceID,
		Start:          req.Start,
		Notes:          req.Notes,
		IdempotencyKey: idempotencyKey(ctx),
		Actor:          actor,
	}

	if req.Recurrence != nil {
		res, err := s.series.CreateSeries(ctx, in, req.Recurrence.rule())
		if err != nil {
			return nil, toStatus(log.With(slog.String("customer_id", req.CustomerID)), err)
		}
		for _, f := range res.Failed {
			log.Warn("series occurrence not booked",
				slog.String("series_id", res.Series.ID.String()),
				slog.Time("start", f.Start),
				slog.Any("err", f.Err),
			)
		}
		log.Info(
			"recurring booking created",
			slog.String("booking_id", res.Parent.ID.String()),
			slog.String("series_id", res.Series.ID.String()),
			slog.Int("created", len(res.Created)),
			slog.Int("waitlisted", len(res.Waitlisted)),
			slog.Int("failed", len(res.Failed)),
		)
		return toSeriesResponse(res), nil
	}

	b, err := s.bookings.Create(ctx, in)
	if err != nil {
		return nil, toStatus(log.With(slog.String("customer_id", req.CustomerID)), err)
	}
	log.Info(
		"booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("customer_id", b.CustomerID),
		slog.String("provider_id", b.ProviderID),
		slog.Time("start", b.StartTime),
	)
	return &CreateBookingResponse{Booking: toBooking(b)}, nil
}

func (s *Server) GetBooking(ctx context.Context, req *BookingRequest) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "GetBooking"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	b, err := s.bookings.Get(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("booking_id", id.String())), err)
	}
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *Server) ListBookings(ctx context.Context, req *ListBookingsRequest) (*ListBookingsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListBookings"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}

	in := bookings.ListInput{ProviderID: req.ProviderID, CustomerID: req.CustomerID, Actor: actor}
	switch {
	case req.From != nil && req.To != nil:
		in.Range = &domain.Interval{Start: *req.From, End: *req.To}
	case req.From != nil || req.To != nil:
		return nil, toStatus(log, domain.NewValidationError("range", "from and to must be given together"))
	}
	for _, st := range req.Statuses {
		in.Statuses = append(in.Statuses, domain.BookingStatus(strings.ToLower(strings.TrimSpace(st))))
	}

	out, err := s.bookings.List(ctx, in)
	if err != nil {
		return nil, toStatus(log, err)
	}
	log.Debug("bookings listed",
		slog.String("provider_id", req.ProviderID),
		slog.String("customer_id", req.CustomerID),
		slog.Int("count", len(out)),
	)
	return &ListBookingsResponse{Bookings: toBookings(out)}, nil
}

func (s *Server) UpdateBooking(ctx context.Context, req *UpdateBookingRequest) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateBooking"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return nil, toStatus(log, err)
	}

	b, err := s.bookings.Update(ctx, bookings.UpdateInput{
		BookingID:     id,
		NewStart:      req.Start,
		NewProviderID: req.ProviderID,
		NewServiceID:  req.ServiceID,
		Notes:         req.Notes,
		Actor:         actor,
	})
	if err != nil {
		return nil, toStatus(log.With(slog.String("booking_id", id.String())), err)
	}
	log.Info("booking updated",
		slog.String("booking_id", b.ID.String()),
		slog.String("provider_id", b.ProviderID),
		slog.Time("start", b.StartTime),
	)
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *Server) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelBooking"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	b, err := s.bookings.Cancel(ctx, id, req.Reason, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("booking_id", id.String())), err)
	}
	log.Info("booking cancelled", slog.String("booking_id", b.ID.String()), slog.String("actor", actor.String()))
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *Server) CompleteBooking(ctx context.Context, req *BookingRequest) (*BookingResponse, error) {
	return s.finish(ctx, "CompleteBooking", req, s.bookings.Complete)
}

func (s *Server) MarkNoShow(ctx context.Context, req *BookingRequest) (*BookingResponse, error) {
	return s.finish(ctx, "MarkNoShow", req, s.bookings.MarkNoShow)
}

func (s *Server) finish(ctx context.Context, rpc string, req *BookingRequest, fn func(context.Context, uuid.UUID, domain.Actor) (domain.Booking, error)) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", rpc))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	b, err := fn(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("booking_id", id.String())), err)
	}
	log.Info("booking closed", slog.String("booking_id", b.ID.String()), slog.String("status", string(b.Status)))
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *Server) CancelSeries(ctx context.Context, req *CancelSeriesRequest) (*CancelSeriesResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelSeries"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("series_id", req.SeriesID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	res, err := s.series.CancelSeries(ctx, id, req.Reason, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("series_id", id.String())), err)
	}
	log.Info("series cancelled", slog.String("series_id", id.String()), slog.Int("cancelled", len(res.Cancelled)))
	return &CancelSeriesResponse{
		SeriesID:  res.Series.ID.String(),
		Status:    string(res.Series.Status),
		Cancelled: toBookings(res.Cancelled),
	}, nil
}

func (s *Server) ReplaceSeries(ctx context.Context, req *ReplaceSeriesRequest) (*CreateBookingResponse, error) {
	log := s.log.With(slog.String("rpc", "ReplaceSeries"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("series_id", req.SeriesID)
	if err != nil {
		return nil, toStatus(log, err)
	}

	res, err := s.series.ReplaceSeries(ctx, id, bookings.CreateInput{
		CustomerID: req.CustomerID,
		ProviderID: req.ProviderID,
		ServiceID:  req.ServiceID,
		Start:      req.Start,
		Notes:      req.Notes,
		Actor:      actor,
	}, req.Recurrence.rule())
	if err != nil {
		return nil, toStatus(log.With(slog.String("series_id", id.String())), err)
	}
	log.Info("series replaced",
		slog.String("series_id", id.String()),
		slog.String("replacement_id", res.Series.ID.String()),
	)
	return toSeriesResponse(res), nil
}

func (s *Server) GetSeries(ctx context.Context, req *GetSeriesRequest) (*GetSeriesResponse, error) {
	log := s.log.With(slog.String("rpc", "GetSeries"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("series_id", req.SeriesID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	detail, err := s.series.GetSeries(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("series_id", id.String())), err)
	}
	return &GetSeriesResponse{
		Series:   toSeries(detail.Series),
		Parent:   toBooking(detail.Parent),
		Children: toBookings(detail.Children),
	}, nil
}

func (s *Server) ListSeries(ctx context.Context, req *ListSeriesRequest) (*ListSeriesResponse, error) {
	log := s.log.With(slog.String("rpc", "ListSeries"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	in := recurrence.ListSeriesInput{CustomerID: strings.TrimSpace(req.CustomerID), Actor: actor}
	for _, st := range req.Statuses {
		in.Statuses = append(in.Statuses, domain.SeriesStatus(strings.ToLower(strings.TrimSpace(st))))
	}
	list, err := s.series.ListSeries(ctx, in)
	if err != nil {
		return nil, toStatus(log, err)
	}
	out := &ListSeriesResponse{Series: make([]Series, 0, len(list))}
	for _, sr := range list {
		out.Series = append(out.Series, toSeries(sr))
	}
	return out, nil
}
