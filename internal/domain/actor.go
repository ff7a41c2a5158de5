package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Role)
	}
	return string(a.Role) + ":" + a.ID
}

func (a Actor) ActsForCustomer(customerID string) bool {
	return a.Privileged() || (a.Role == RoleCustomer && a.ID == customerID)
}

func (a Actor) ActsForProvider(providerID string) bool {
	return a.Privileged() || (a.Role == RoleProvider && a.ID == providerID)
}

func (a Actor) CanManageBooking(b Booking) bool {
	return a.ActsForCustomer(b.CustomerID) || a.ActsForProvider(b.ProviderID)
}

// CanManageWaitlistEntry lets a provider act only on entries that name them.
// Entries open to any provider belong to the customer and staff.
func (a Actor) CanManageWaitlistEntry(e WaitlistEntry) bool {
	if a.ActsForCustomer(e.CustomerID) {
		return true
	}
	return e.PreferredProviderID != "" && a.ActsForProvider(e.PreferredProviderID)
}
