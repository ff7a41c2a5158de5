package grpc

import (
	"time"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/recurrence"
	"salonbook/backend/internal/service/waitlist"
)

type Slot struct {
	ProviderID string    `json:"provider_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type GetAvailabilityRequest struct {
	ProviderID string    `json:"provider_id,omitempty"`
	ServiceID  string    `json:"service_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

type GetAvailabilityResponse struct {
	Slots []Slot `json:"slots"`
}

type Booking struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	ProviderID         string     `json:"provider_id"`
	ServiceID          string     `json:"service_id"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	Status             string     `json:"status"`
	ParentBookingID    string     `json:"parent_booking_id,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Recurrence struct {
	Kind     string     `json:"kind"`
	Interval int        `json:"interval,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Count    int        `json:"count,omitempty"`
}

type CreateBookingRequest struct {
	CustomerID string      `json:"customer_id"`
	ProviderID string      `json:"provider_id"`
	ServiceID  string      `json:"service_id"`
	Start      time.Time   `json:"start"`
	Notes      string      `json:"notes,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
}

type SeriesFailure struct {
	Start  time.Time `json:"start"`
	Reason string    `json:"reason"`
}

// CreateBookingResponse carries the booking and, for recurring requests, the
// series it now heads.
type CreateBookingResponse struct {
	Booking    Booking         `json:"booking"`
	SeriesID   string          `json:"series_id,omitempty"`
	Created    []Booking       `json:"created,omitempty"`
	Waitlisted []Booking       `json:"waitlisted,omitempty"`
	Failed     []SeriesFailure `json:"failed,omitempty"`
}

type BookingRequest struct {
	BookingID string `json:"booking_id"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type ListBookingsRequest struct {
	ProviderID string     `json:"provider_id,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Statuses   []string   `json:"statuses,omitempty"`
}

type ListBookingsResponse struct {
	Bookings []Booking `json:"bookings"`
}

type UpdateBookingRequest struct {
	BookingID  string     `json:"booking_id"`
	Start      *time.Time `json:"start,omitempty"`
	ProviderID *string    `json:"provider_id,omitempty"`
	ServiceID  *string    `json:"service_id,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

type CancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
}

type CancelSeriesRequest struct {
	SeriesID string `json:"series_id"`
	Reason   string `json:"reason,omitempty"`
}

type CancelSeriesResponse struct {
	SeriesID  string    `json:"series_id"`
	Status    string    `json:"status"`
	Cancelled []Booking `json:"cancelled"`
}

// ReplaceSeriesRequest books a new series for the same customer. CustomerID
// may be left empty.
type ReplaceSeriesRequest struct {
	SeriesID   string     `json:"series_id"`
	CustomerID string     `json:"customer_id,omitempty"`
	ProviderID string     `json:"provider_id"`
	ServiceID  string     `json:"service_id"`
	Start      time.Time  `json:"start"`
	Notes      string     `json:"notes,omitempty"`
	Recurrence Recurrence `json:"recurrence"`
}

type GetSeriesRequest struct {
	SeriesID string `json:"series_id"`
}

type Series struct {
	ID              string     `json:"id"`
	ParentBookingID string     `json:"parent_booking_id"`
	CustomerID      string     `json:"customer_id"`
	Status          string     `json:"status"`
	Recurrence      Recurrence `json:"recurrence"`
	SupersededBy    string     `json:"superseded_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type GetSeriesResponse struct {
	Series   Series    `json:"series"`
	Parent   Booking   `json:"parent"`
	Children []Booking `json:"children"`
}

type ListSeriesRequest struct {
	CustomerID string   `json:"customer_id,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
}

type ListSeriesResponse struct {
	Series []Series `json:"series"`
}

type WaitlistEntry struct {
	ID                  string    `json:"id"`
	CustomerID          string    `json:"customer_id"`
	ServiceID           string    `json:"service_id"`
	PreferredProviderID string    `json:"preferred_provider_id,omitempty"`
	PreferredStart      time.Time `json:"preferred_start"`
	PreferredEnd        time.Time `json:"preferred_end"`
	Priority            int       `json:"priority"`
	Status              string    `json:"status"`
	BookingID           string    `json:"booking_id,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

type CreateWaitlistEntryRequest struct {
	CustomerID          string     `json:"customer_id"`
	ServiceID           string     `json:"service_id"`
	PreferredProviderID string     `json:"preferred_provider_id,omitempty"`
	PreferredStart      time.Time  `json:"preferred_start"`
	PreferredEnd        time.Time  `json:"preferred_end"`
	Priority            int        `json:"priority,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

// UpdateWaitlistEntryRequest changes only the fields that are set.
type UpdateWaitlistEntryRequest struct {
	EntryID             string     `json:"entry_id"`
	PreferredProviderID *string    `json:"preferred_provider_id,omitempty"`
	PreferredStart      *time.Time `json:"preferred_start,omitempty"`
	PreferredEnd        *time.Time `json:"preferred_end,omitempty"`
	Priority            *int       `json:"priority,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

type ListWaitlistEntriesRequest struct {
	CustomerID string   `json:"customer_id,omitempty"`
	ProviderID string   `json:"provider_id,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
}

type ListWaitlistEntriesResponse struct {
	Entries []WaitlistEntry `json:"entries"`
}

type CancelWaitlistEntryRequest struct {
	EntryID string `json:"entry_id"`
}

type WaitlistEntryResponse struct {
	Entry WaitlistEntry `json:"entry"`
}

type SweepWaitlistRequest struct{}

type SweepWaitlistResponse struct {
	Expired   int `json:"expired"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Failed    int `json:"failed"`
}

// Clock times are "HH:MM" in the salon's timezone; day_of_week counts from
// Monday (0).
type SetAvailabilityWindowRequest struct {
	ProviderID string `json:"provider_id"`
	DayOfWeek  int    `json:"day_of_week"`
	Start      string `json:"start"`
	End        string `json:"end"`
	BreakStart string `json:"break_start,omitempty"`
	BreakEnd   string `json:"break_end,omitempty"`
	Active     bool   `json:"active"`
}

type AvailabilityWindow struct {
	ProviderID string `json:"provider_id"`
	DayOfWeek  int    `json:"day_of_week"`
	Start      string `json:"start"`
	End        string `json:"end"`
	BreakStart string `json:"break_start,omitempty"`
	BreakEnd   string `json:"break_end,omitempty"`
	Active     bool   `json:"active"`
}

type AvailabilityWindowResponse struct {
	Window AvailabilityWindow `json:"window"`
}

type RequestTimeOffRequest struct {
	ProviderID string    `json:"provider_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
}

type ApproveTimeOffRequest struct {
	TimeOffID string `json:"time_off_id"`
}

type TimeOff struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Approved   bool      `json:"approved"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

type TimeOffResponse struct {
	TimeOff TimeOff `json:"time_off"`
}

func toSlot(s domain.Slot) Slot {
	return Slot{ProviderID: s.ProviderID, Start: s.Start, End: s.End}
}

func toBooking(b domain.Booking) Booking {
	out := Booking{
		ID:                 b.ID.String(),
		CustomerID:         b.CustomerID,
		ProviderID:         b.ProviderID,
		ServiceID:          b.ServiceID,
		Start:              b.StartTime,
		End:                b.EndTime,
		Status:             string(b.Status),
		Notes:              b.Notes,
		CancellationReason: b.CancellationReason,
		CancelledAt:        b.CancelledAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
	if b.ParentBookingID != nil {
		out.ParentBookingID = b.ParentBookingID.String()
	}
	return out
}

func toBookings(bs []domain.Booking) []Booking {
	out := make([]Booking, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBooking(b))
	}
	return out
}

func toSeriesResponse(res recurrence.Result) *CreateBookingResponse {
	out := &CreateBookingResponse{
		Booking:    toBooking(res.Parent),
		SeriesID:   res.Series.ID.String(),
		Created:    toBookings(res.Created),
		Waitlisted: toBookings(res.Waitlisted),
	}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, SeriesFailure{Start: f.Start, Reason: "internal error"})
	}
	return out
}

func (r Recurrence) rule() domain.RecurrenceRule {
	return domain.RecurrenceRule{
		Kind:     domain.RuleKind(r.Kind),
		Interval: r.Interval,
		Until:    r.Until,
		Count:    r.Count,
	}
}

func toSeries(s domain.RecurrenceSeries) Series {
	out := Series{
		ID:              s.ID.String(),
		ParentBookingID: s.ParentBookingID.String(),
		CustomerID:      s.CustomerID,
		Status:          string(s.Status),
		Recurrence: Recurrence{
			Kind:     string(s.Kind),
			Interval: s.Interval,
			Until:    s.Until,
			Count:    s.Count,
		},
		CreatedAt: s.CreatedAt,
	}
	if s.SupersededBy != nil {
		out.SupersededBy = s.SupersededBy.String()
	}
	return out
}

func toWaitlistEntry(e domain.WaitlistEntry) WaitlistEntry {
	out := WaitlistEntry{
		ID:                  e.ID.String(),
		CustomerID:          e.CustomerID,
		ServiceID:           e.ServiceID,
		PreferredProviderID: e.PreferredProviderID,
		PreferredStart:      e.PreferredStart,
		PreferredEnd:        e.PreferredEnd,
		Priority:            e.Priority,
		Status:              string(e.Status),
		ExpiresAt:           e.ExpiresAt,
		CreatedAt:           e.CreatedAt,
	}
	if e.BookingID != nil {
		out.BookingID = e.BookingID.String()
	}
	return out
}

func toSweepResponse(r waitlist.SweepReport) *SweepWaitlistResponse {
	return &SweepWaitlistResponse{Expired: r.Expired, Matched: r.Matched, Unmatched: r.Unmatched, Failed: r.Failed}
}

func toWindow(w domain.AvailabilityWindow) AvailabilityWindow {
	out := AvailabilityWindow{
		ProviderID: w.ProviderID,
		DayOfWeek:  int(w.DayOfWeek),
		Start:      w.Start.String(),
		End:        w.End.String(),
		Active:     w.Active,
	}
	if w.BreakStart != nil && w.BreakEnd != nil {
		out.BreakStart = w.BreakStart.String()
		out.BreakEnd = w.BreakEnd.String()
	}
	return out
}

func toTimeOff(t domain.TimeOff) TimeOff {
	return TimeOff{
		ID:         t.ID.String(),
		ProviderID: t.ProviderID,
		Start:      t.StartTime,
		End:        t.EndTime,
		Approved:   t.Approved,
		ApprovedBy: t.ApprovedBy,
		Reason:     t.Reason,
	}
}
