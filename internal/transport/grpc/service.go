package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
)

const ServiceName = "salonbook.v1.Scheduling"

// SchedulingServer is the RPC surface of the scheduling service. Messages
// travel with the JSON codec; there is no generated stub.
type SchedulingServer interface {
	GetAvailability(context.Context, *GetAvailabilityRequest) (*GetAvailabilityResponse, error)
	CreateBooking(context.Context, *CreateBookingRequest) (*CreateBookingResponse, error)
	GetBooking(context.Context, *BookingRequest) (*BookingResponse, error)
	ListBookings(context.Context, *ListBookingsRequest) (*ListBookingsResponse, error)
	UpdateBooking(context.Context, *UpdateBookingRequest) (*BookingResponse, error)
	CancelBooking(context.Context, *CancelBookingRequest) (*BookingResponse, error)
	CompleteBooking(context.Context, *BookingRequest) (*BookingResponse, error)
	MarkNoShow(context.Context, *BookingRequest) (*BookingResponse, error)
	CancelSeries(context.Context, *CancelSeriesRequest) (*CancelSeriesResponse, error)
	ReplaceSeries(context.Context, *ReplaceSeriesRequest) (*CreateBookingResponse, error)
	GetSeries(context.Context, *GetSeriesRequest) (*GetSeriesResponse, error)
	ListSeries(context.Context, *ListSeriesRequest) (*ListSeriesResponse, error)
	CreateWaitlistEntry(context.Context, *CreateWaitlistEntryRequest) (*WaitlistEntryResponse, error)
	UpdateWaitlistEntry(context.Context, *UpdateWaitlistEntryRequest) (*WaitlistEntryResponse, error)
	CancelWaitlistEntry(context.Context, *CancelWaitlistEntryRequest) (*WaitlistEntryResponse, error)
	ListWaitlistEntries(context.Context, *ListWaitlistEntriesRequest) (*ListWaitlistEntriesResponse, error)
	SweepWaitlist(context.Context, *SweepWaitlistRequest) (*SweepWaitlistResponse, error)
	SetAvailabilityWindow(context.Context, *SetAvailabilityWindowRequest) (*AvailabilityWindowResponse, error)
	RequestTimeOff(context.Context, *RequestTimeOffRequest) (*TimeOffResponse, error)
	ApproveTimeOff(context.Context, *ApproveTimeOffRequest) (*TimeOffResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetAvailability", SchedulingServer.GetAvailability),
		unary("CreateBooking", SchedulingServer.CreateBooking),
		unary("GetBooking", SchedulingServer.GetBooking),
		unary("ListBookings", SchedulingServer.ListBookings),
		unary("UpdateBooking", SchedulingServer.UpdateBooking),
		unary("CancelBooking", SchedulingServer.CancelBooking),
		unary("CompleteBooking", SchedulingServer.CompleteBooking),
		unary("MarkNoShow", SchedulingServer.MarkNoShow),
		unary("CancelSeries", SchedulingServer.CancelSeries),
		unary("ReplaceSeries", SchedulingServer.ReplaceSeries),
		unary("GetSeries", SchedulingServer.GetSeries),
		unary("ListSeries", SchedulingServer.ListSeries),
		unary("CreateWaitlistEntry", SchedulingServer.CreateWaitlistEntry),
		unary("UpdateWaitlistEntry", SchedulingServer.UpdateWaitlistEntry),
		unary("CancelWaitlistEntry", SchedulingServer.CancelWaitlistEntry),
		unary("ListWaitlistEntries", SchedulingServer.ListWaitlistEntries),
		unary("SweepWaitlist", SchedulingServer.SweepWaitlist),
		unary("SetAvailabilityWindow", SchedulingServer.SetAvailabilityWindow),
		unary("RequestTimeOff", SchedulingServer.RequestTimeOff),
		unary("ApproveTimeOff", SchedulingServer.ApproveTimeOff),
	},
	Metadata: "salonbook/v1/scheduling",
}

func unary[Req, Resp any](name string, call func(SchedulingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(SchedulingServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// FullMethod returns the path clients invoke for an RPC name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Server adapts the scheduling services to the RPC surface.
type Server struct {
	availability AvailabilityService
	bookings     BookingService
	series       SeriesService
	waitlist     WaitlistService
	log          *slog.Logger
}

var _ SchedulingServer = (*Server)(nil)

type Services struct {
	Availability AvailabilityService
	Bookings     BookingService
	Series       SeriesService
	Waitlist     WaitlistService
}

func NewServer(svc Services, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		availability: svc.Availability,
		bookings:     svc.Bookings,
		series:       svc.Series,
		waitlist:     svc.Waitlist,
		log:          log.With(slog.String("component", "grpc.scheduling")),
	}
}

func Register(s grpc.ServiceRegistrar, srv SchedulingServer) {
	s.RegisterService(&serviceDesc, srv)
}
