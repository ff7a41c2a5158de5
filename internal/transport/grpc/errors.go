package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"salonbook/backend/internal/auth"
	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

// toStatus maps a service error onto the wire. Unknown errors are logged and
// reported as Internal without their message.
func toStatus(log *slog.Logger, err error) error {
	if err == nil {
		return nil
	}

	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", slog.String("field", vErr.Field), slog.Any("err", err))
		st := status.New(codes.InvalidArgument, vErr.Error())
		if ds, err := st.WithDetails(&errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{{
				Field:       vErr.Field,
				Description: vErr.Error(),
			}},
		}); err == nil {
			st = ds
		}
		return st.Err()
	}

	if cErr, ok := domain.AsConflict(err); ok {
		code := codes.FailedPrecondition
		if cErr.IsDoubleBooking() {
			code = codes.Aborted
		}
		log.Info("scheduling conflict", slog.String("kind", cErr.Kind().String()), slog.Int("conflicts", len(cErr.Conflicts)))
		st := status.New(code, cErr.Error())
		if ds, err := st.WithDetails(preconditionFailure(cErr)); err == nil {
			st = ds
		}
		return st.Err()
	}

	switch {
	case errors.Is(err, domain.ErrForbidden):
		log.Warn("permission denied", slog.Any("err", err))
		return status.Error(codes.PermissionDenied, "You are not allowed to do that.")
	case errors.Is(err, store.ErrNotFound):
		log.Info("not found", slog.Any("err", err))
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict")
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, store.ErrConflict):
		log.Info("scheduling conflict", slog.String("kind", domain.ConflictDoubleBooking.String()))
		return status.Error(codes.Aborted, "That time is already booked.")
	case errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "authentication required")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out")
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}

	log.Error("request failed", slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}

func preconditionFailure(cErr *domain.ConflictError) *errdetails.PreconditionFailure {
	out := &errdetails.PreconditionFailure{}
	for _, c := range cErr.Conflicts {
		v := &errdetails.PreconditionFailure_Violation{
			Type:        c.Type.String(),
			Description: c.Detail,
		}
		switch {
		case c.BookingID != uuid.Nil:
			v.Subject = "booking:" + c.BookingID.String() + " " + c.Interval.String()
		case c.Interval.Valid():
			v.Subject = c.Interval.String()
		}
		out.Violations = append(out.Violations, v)
	}
	return out
}
