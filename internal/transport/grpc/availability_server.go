package grpc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/availability"
)

type AvailabilityService interface {
	FreeSlots(ctx context.Context, q availability.SlotQuery) ([]domain.Slot, error)
	SetWindow(ctx context.Context, in availability.WindowInput) (domain.AvailabilityWindow, error)
	RequestTimeOff(ctx context.Context, in availability.TimeOffInput) (domain.TimeOff, error)
	ApproveTimeOff(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.TimeOff, error)
}

func (s *Server) GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAvailability"))
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}

	slots, err := s.availability.FreeSlots(ctx, availability.SlotQuery{
		ProviderID: strings.TrimSpace(req.ProviderID),
		ServiceID:  strings.TrimSpace(req.ServiceID),
		Range:      domain.Interval{Start: req.From, End: req.To},
	})
	if err != nil {
		return nil, toStatus(log.With(slog.String("provider_id", req.ProviderID)), err)
	}

	out := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		out = append(out, toSlot(slot))
	}
	log.Debug("availability listed",
		slog.String("provider_id", req.ProviderID),
		slog.String("service_id", req.ServiceID),
		slog.Int("count", len(out)),
	)
	return &GetAvailabilityResponse{Slots: out}, nil
}

func (s *Server) SetAvailabilityWindow(ctx context.Context, req *SetAvailabilityWindowRequest) (*AvailabilityWindowResponse, error) {
	log := s.log.With(slog.String("rpc", "SetAvailabilityWindow"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}

	in := availability.WindowInput{
		ProviderID: req.ProviderID,
		DayOfWeek:  domain.Weekday(req.DayOfWeek),
		Active:     req.Active,
		Actor:      actor,
	}
	if in.Start, err = parseClock("start", req.Start); err != nil {
		return nil, toStatus(log, err)
	}
	if in.End, err = parseClock("end", req.End); err != nil {
		return nil, toStatus(log, err)
	}
	if req.BreakStart != "" || req.BreakEnd != "" {
		bs, err := parseClock("break_start", req.BreakStart)
		if err != nil {
			return nil, toStatus(log, err)
		}
		be, err := parseClock("break_end", req.BreakEnd)
		if err != nil {
			return nil, toStatus(log, err)
		}
		in.BreakStart, in.BreakEnd = &bs, &be
	}

	w, err := s.availability.SetWindow(ctx, in)
	if err != nil {
		return nil, toStatus(log.With(slog.String("provider_id", req.ProviderID)), err)
	}
	log.Info("availability window set",
		slog.String("provider_id", w.ProviderID),
		slog.String("day", w.DayOfWeek.String()),
		slog.Bool("active", w.Active),
	)
	return &AvailabilityWindowResponse{Window: toWindow(w)}, nil
}

func parseClock(field, raw string) (domain.ClockTime, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, domain.NewValidationError(field, field+" is required")
	}
	c, err := domain.ParseClock(raw)
	if err != nil {
		return 0, domain.NewValidationError(field, field+" must be HH:MM")
	}
	return c, nil
}

func (s *Server) RequestTimeOff(ctx context.Context, req *RequestTimeOffRequest) (*TimeOffResponse, error) {
	log := s.log.With(slog.String("rpc", "RequestTimeOff"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.availability.RequestTimeOff(ctx, availability.TimeOffInput{
		ProviderID: req.ProviderID,
		Start:      req.Start,
		End:        req.End,
		Reason:     req.Reason,
		Actor:      actor,
	})
	if err != nil {
		return nil, toStatus(log.With(slog.String("provider_id", req.ProviderID)), err)
	}
	log.Info("time off requested", slog.String("time_off_id", t.ID.String()), slog.String("provider_id", t.ProviderID))
	return &TimeOffResponse{TimeOff: toTimeOff(t)}, nil
}

func (s *Server) ApproveTimeOff(ctx context.Context, req *ApproveTimeOffRequest) (*TimeOffResponse, error) {
	log := s.log.With(slog.String("rpc", "ApproveTimeOff"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("time_off_id", req.TimeOffID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	t, err := s.availability.ApproveTimeOff(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("time_off_id", id.String())), err)
	}
	log.Info("time off approved", slog.String("time_off_id", t.ID.String()), slog.String("approved_by", t.ApprovedBy))
	return &TimeOffResponse{TimeOff: toTimeOff(t)}, nil
}
