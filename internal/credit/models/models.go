package models

import (
	"time"

	id "credits/pkg/domain"
)

// CreditAccount holds one user's balance for one credit type.
// Balance always equals TotalAllocated - TotalConsumed - TotalExpired.
type CreditAccount struct {
	ID               id.AccountID
	UserID           id.UserID
	CreditType       CreditType
	Balance          int64
	TotalAllocated   int64
	TotalConsumed    int64
	TotalExpired     int64
	ExpirationPolicy ExpirationPolicy
	ExpirationDays   int
	IsActive         bool
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreditTransaction is an immutable ledger entry. Amount is signed.
type CreditTransaction struct {
	ID             id.TransactionID
	AccountID      id.AccountID
	UserID         id.UserID
	CreditType     CreditType
	Type           TransactionType
	Amount         int64
	BalanceBefore  int64
	BalanceAfter   int64
	ReferenceID    string
	ReferenceType  ReferenceType
	AllocationID   *id.AllocationID
	IdempotencyKey string
	ExpiresAt      *time.Time
	Metadata       map[string]string
	CreatedAt      time.Time
}

// CreditAllocation is a tracked grant of credits with its own expiry.
type CreditAllocation struct {
	ID             id.AllocationID
	AccountID      id.AccountID
	UserID         id.UserID
	CreditType     CreditType
	CampaignID     *id.CampaignID
	TransactionID  id.TransactionID
	Amount         int64
	ConsumedAmount int64
	ExpiredAmount  int64
	ExpiresAt      *time.Time
	Status         AllocationStatus
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available is the portion not yet consumed or expired.
func (a *CreditAllocation) Available() int64 {
	return a.Amount - a.ConsumedAmount - a.ExpiredAmount
}

// IsExpiredAt reports whether the allocation's expiry is at or before t.
func (a *CreditAllocation) IsExpiredAt(t time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(t)
}

// ExpiryCursor marks the last allocation seen while paging through expired
// allocations, which are ordered by expiry and then ID.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        id.AllocationID
}

// CursorAfter returns the cursor positioned on a, which must have an expiry.
func CursorAfter(a *CreditAllocation) *ExpiryCursor {
	return &ExpiryCursor{ExpiresAt: *a.ExpiresAt, ID: a.ID}
}

// StatusFor derives the status after counters change.
func StatusFor(amount, consumed, expired int64) AllocationStatus {
	switch {
	case amount-consumed-expired > 0:
		return AllocationActive
	case expired > 0:
		return AllocationExpired
	default:
		return AllocationConsumed
	}
}

// CreditCampaign is a budget-limited source of allocations.
type CreditCampaign struct {
	ID                    id.CampaignID
	Name                  string
	Description           string
	CreditType            CreditType
	CreditAmount          int64
	TotalBudget           int64
	AllocatedAmount       int64
	StartDate             time.Time
	EndDate               time.Time
	ExpirationDays        int
	MaxAllocationsPerUser int
	EligibilityRules      map[string]string
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RemainingBudget is the budget not yet reserved by allocations.
func (c *CreditCampaign) RemainingBudget() int64 {
	return c.TotalBudget - c.AllocatedAmount
}

// IsRunningAt reports whether the campaign is active and t falls in its window.
func (c *CreditCampaign) IsRunningAt(t time.Time) bool {
	return c.IsActive && !t.Before(c.StartDate) && !t.After(c.EndDate)
}

// UserProfile is what the user directory exposes to eligibility rules.
type UserProfile struct {
	UserID          id.UserID
	Country         string
	CreatedAt       time.Time
	HasSubscription bool
}

// Eligibility rule keys understood by the rule-based checker.
const (
	RuleCountries            = "countries"
	RuleMinAccountAgeDays    = "min_account_age_days"
	RuleRequiresSubscription = "requires_subscription"
)
