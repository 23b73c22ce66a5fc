package rentals

import "time"

type Property struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	MonthlyRent float64   `json:"monthlyRent"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PropertyInput struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	MonthlyRent float64 `json:"monthlyRent"`
}

type Lease struct {
	ID          string     `json:"id"`
	PropertyID  string     `json:"propertyId"`
	TenantName  string     `json:"tenantName"`
	TenantEmail string     `json:"tenantEmail"`
	MonthlyRent float64    `json:"monthlyRent"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     *time.Time `json:"endDate,omitempty"`
}

// Active reports whether the lease has not been ended.
func (l Lease) Active() bool { return l.EndDate == nil }

type LeaseInput struct {
	TenantName  string    `json:"tenantName"`
	TenantEmail string    `json:"tenantEmail"`
	MonthlyRent float64   `json:"monthlyRent"`
	StartDate   time.Time `json:"startDate"`
}

type Room struct {
	ID         string `json:"id"`
	PropertyID string `json:"propertyId"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
}

type RoomInput struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type Furniture struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Quantity  int    `json:"quantity"`
}

type FurnitureInput struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Quantity  int    `json:"quantity"`
}

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type Damage struct {
	ID          string    `json:"id"`
	PropertyID  string    `json:"propertyId"`
	RoomID      string    `json:"roomId,omitempty"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	ReportedAt  time.Time `json:"reportedAt"`
	Repaired    bool      `json:"repaired"`
}

type DamageInput struct {
	RoomID      string   `json:"roomId,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Dashboard is the landlord overview.
type Dashboard struct {
	PropertyCount int     `json:"propertyCount"`
	ActiveLeases  int     `json:"activeLeases"`
	OpenDamages   int     `json:"openDamages"`
	MonthlyIncome float64 `json:"monthlyIncome"`
}
