package billing

import (
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/infrastructure/config"
)

// StripeConfigFrom converts the loaded stripe section, filling unset values
// from DefaultStripeConfig
func StripeConfigFrom(cfg config.StripeConfig) *StripeConfig {
	out := DefaultStripeConfig()
	out.SecretKey = cfg.SecretKey
	out.WebhookSecret = cfg.WebhookSecret
	out.IsTestMode = cfg.IsTestMode
	out.CancelAtPeriodEnd = cfg.CancelAtPeriodEnd
	if cfg.WebhookTolerance > 0 {
		out.WebhookTolerance = cfg.WebhookTolerance
	}
	if len(cfg.PriceIDs) > 0 {
		out.PriceIDs = cfg.PriceIDs
	}
	if cfg.SuccessURL != "" {
		out.SuccessURL = cfg.SuccessURL
	}
	if cfg.CancelURL != "" {
		out.CancelURL = cfg.CancelURL
	}
	return out
}

// PlanCatalogFrom builds the plan quotas; plans left at zero keep their
// built-in allotment
func PlanCatalogFrom(cfg config.PlansConfig) billing.PlanCatalog {
	catalog := billing.DefaultPlanCatalog()
	for plan, minutes := range map[billing.PlanName]int64{
		billing.PlanStarter:      cfg.StarterMinutes,
		billing.PlanProfessional: cfg.ProfessionalMinutes,
		billing.PlanEnterprise:   cfg.EnterpriseMinutes,
	} {
		if minutes > 0 {
			catalog[plan] = minutes
		}
	}
	return catalog
}
