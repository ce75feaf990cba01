// Package billing provides the domain model for usage-metered entitlements.
//
// This package implements the entitlement bounded context, which is responsible for:
//   - Tracking each account's plan, quota limit, quota consumption and billing status
//   - Reserving and settling transcription minutes against the quota
//   - Translating billing-provider events into subscription transitions
//
// Key Aggregates:
//   - Subscription: The ledger entry of an account
//   - Reservation: A provisional quota debit awaiting commit or release
//
// Value Objects:
//   - UsageEvent: Immutable record of settled usage
//   - ProviderUpdate: Provider-authoritative fields carried by an event
//   - ProviderEvent: Closed set of decoded billing-provider events
//
// Provider-authoritative fields change only through Subscription.ApplyProviderUpdate,
// which enforces the monotonic-write rule. Quota consumption changes only through
// Subscription.Reserve and Subscription.AdjustUsage.
package billing
