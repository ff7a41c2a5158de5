package grpc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/waitlist"
)

type WaitlistService interface {
	CreateEntry(ctx context.Context, in waitlist.CreateEntryInput) (domain.WaitlistEntry, error)
	UpdateEntry(ctx context.Context, in waitlist.UpdateEntryInput) (domain.WaitlistEntry, error)
	CancelEntry(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.WaitlistEntry, error)
	ListEntries(ctx context.Context, in waitlist.ListEntriesInput) ([]domain.WaitlistEntry, error)
	Sweep(ctx context.Context) (waitlist.SweepReport, error)
}

func (s *Server) CreateWaitlistEntry(ctx context.Context, req *CreateWaitlistEntryRequest) (*WaitlistEntryResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateWaitlistEntry"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.waitlist.CreateEntry(ctx, waitlist.CreateEntryInput{
		CustomerID:          req.CustomerID,
		ServiceID:           req.ServiceID,
		PreferredProviderID: req.PreferredProviderID,
		PreferredStart:      req.PreferredStart,
		PreferredEnd:        req.PreferredEnd,
		Priority:            req.Priority,
		ExpiresAt:           req.ExpiresAt,
		Actor:               actor,
	})
	if err != nil {
		return nil, toStatus(log.With(slog.String("customer_id", req.CustomerID)), err)
	}
	log.Info("waitlist entry created",
		slog.String("waitlist_entry_id", e.ID.String()),
		slog.String("customer_id", e.CustomerID),
		slog.Int("priority", e.Priority),
	)
	return &WaitlistEntryResponse{Entry: toWaitlistEntry(e)}, nil
}

func (s *Server) UpdateWaitlistEntry(ctx context.Context, req *UpdateWaitlistEntryRequest) (*WaitlistEntryResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateWaitlistEntry"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("entry_id", req.EntryID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	e, err := s.waitlist.UpdateEntry(ctx, waitlist.UpdateEntryInput{
		EntryID:             id,
		PreferredProviderID: req.PreferredProviderID,
		PreferredStart:      req.PreferredStart,
		PreferredEnd:        req.PreferredEnd,
		Priority:            req.Priority,
		ExpiresAt:           req.ExpiresAt,
		Actor:               actor,
	})
	if err != nil {
		return nil, toStatus(log.With(slog.String("waitlist_entry_id", id.String())), err)
	}
	log.Info("waitlist entry updated", slog.String("waitlist_entry_id", e.ID.String()))
	return &WaitlistEntryResponse{Entry: toWaitlistEntry(e)}, nil
}

func (s *Server) ListWaitlistEntries(ctx context.Context, req *ListWaitlistEntriesRequest) (*ListWaitlistEntriesResponse, error) {
	log := s.log.With(slog.String("rpc", "ListWaitlistEntries"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	in := waitlist.ListEntriesInput{CustomerID: req.CustomerID, ProviderID: req.ProviderID, Actor: actor}
	for _, st := range req.Statuses {
		in.Statuses = append(in.Statuses, domain.WaitlistStatus(strings.ToLower(strings.TrimSpace(st))))
	}
	entries, err := s.waitlist.ListEntries(ctx, in)
	if err != nil {
		return nil, toStatus(log, err)
	}
	out := &ListWaitlistEntriesResponse{Entries: make([]WaitlistEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, toWaitlistEntry(e))
	}
	return out, nil
}

func (s *Server) CancelWaitlistEntry(ctx context.Context, req *CancelWaitlistEntryRequest) (*WaitlistEntryResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelWaitlistEntry"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("entry_id", req.EntryID)
	if err != nil {
		return nil, toStatus(log, err)
	}
	e, err := s.waitlist.CancelEntry(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log.With(slog.String("waitlist_entry_id", id.String())), err)
	}
	log.Info("waitlist entry cancelled", slog.String("waitlist_entry_id", e.ID.String()))
	return &WaitlistEntryResponse{Entry: toWaitlistEntry(e)}, nil
}

// SweepWaitlist runs one expiry and matching pass. It is the hook for an
// external scheduler and is limited to admins.
func (s *Server) SweepWaitlist(ctx context.Context, req *SweepWaitlistRequest) (*SweepWaitlistResponse, error) {
	log := s.log.With(slog.String("rpc", "SweepWaitlist"))
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, toStatus(log, domain.ErrForbidden)
	}
	report, err := s.waitlist.Sweep(ctx)
	if err != nil {
		return nil, toStatus(log, err)
	}
	log.Info("waitlist swept",
		slog.Int("expired", report.Expired),
		slog.Int("matched", report.Matched),
		slog.Int("unmatched", report.Unmatched),
		slog.Int("failed", report.Failed),
	)
	return toSweepResponse(report), nil
}
