package store

import (
	"context"

	"salonbook/backend/internal/domain"
)

// LoadSchedule reads a provider's weekly windows and approved time off.
// When window is set only time off overlapping it is loaded.
func LoadSchedule(ctx context.Context, r Reader, providerID string, window *domain.Interval) (domain.ProviderSchedule, error) {
	windows, err := r.ListWindows(ctx, providerID)
	if err != nil {
		return domain.ProviderSchedule{}, err
	}
	timeOff, err := r.ListTimeOff(ctx, TimeOffFilter{
		ProviderID:   providerID,
		Window:       window,
		ApprovedOnly: true,
	})
	if err != nil {
		return domain.ProviderSchedule{}, err
	}
	return domain.ProviderSchedule{ProviderID: providerID, Windows: windows, TimeOff: timeOff}, nil
}
