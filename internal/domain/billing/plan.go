package billing

import "strings"

// PlanName identifies a subscription plan
type PlanName string

const (
	// PlanStarter is the free plan every account starts on
	PlanStarter PlanName = "starter"

	// PlanProfessional is the mid-tier paid plan
	PlanProfessional PlanName = "professional"

	// PlanEnterprise is the top-tier paid plan
	PlanEnterprise PlanName = "enterprise"
)

// DefaultQuotaMinutes is the monthly allotment of the starter plan
const DefaultQuotaMinutes int64 = 60

// String returns the string representation of PlanName
func (p PlanName) String() string {
	return string(p)
}

// IsValid returns true if the plan name is known
func (p PlanName) IsValid() bool {
	switch p {
	case PlanStarter, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

// IsPaid returns true for plans purchased through the billing provider
func (p PlanName) IsPaid() bool {
	return p == PlanProfessional || p == PlanEnterprise
}

// ParsePlanName converts a string into a PlanName
func ParsePlanName(s string) (PlanName, error) {
	p := PlanName(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", ErrInvalidPlan
	}
	return p, nil
}

// PlanCatalog maps plans to their monthly quota in minutes
type PlanCatalog map[PlanName]int64

// DefaultPlanCatalog returns the built-in plan quotas
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		PlanStarter:      DefaultQuotaMinutes,
		PlanProfessional: 600,
		PlanEnterprise:   3000,
	}
}

// QuotaMinutes returns the quota for a plan, falling back to the starter allotment
func (c PlanCatalog) QuotaMinutes(plan PlanName) int64 {
	if minutes, ok := c[plan]; ok && minutes >= 0 {
		return minutes
	}
	return DefaultQuotaMinutes
}
