package models

import (
	"strings"
	"time"

	id "credits/pkg/domain"
)

// AllocateRequest grants credits to a user.
type AllocateRequest struct {
	UserID         id.UserID
	Amount         int64
	CreditType     CreditType
	CampaignID     *id.CampaignID
	ExpiresAt      *time.Time
	SubscriptionID string
	IdempotencyKey string
	Metadata       map[string]string
}

// AllocateResult is returned by a successful (or replayed) allocation.
type AllocateResult struct {
	Allocation  *CreditAllocation
	Transaction *CreditTransaction
	Account     *CreditAccount
	Replayed    bool
}

// ConsumeRequest spends credits across a user's accounts.
type ConsumeRequest struct {
	UserID           id.UserID
	Amount           int64
	BillingReference string
	Metadata         map[string]string
}

// PlanLine is one step of a consumption plan. AllocationID is nil for the
// unattributed remainder of an account (credits received by transfer).
type PlanLine struct {
	AccountID    id.AccountID
	AllocationID *id.AllocationID
	CreditType   CreditType
	Amount       int64
	ExpiresAt    *time.Time
}

// ConsumptionPlan is the ordered set of draws covering a requested amount.
type ConsumptionPlan struct {
	UserID    id.UserID
	Required  int64
	Available int64
	Lines     []PlanLine
}

// Total is the amount the plan draws.
func (p *ConsumptionPlan) Total() int64 {
	var sum int64
	for _, l := range p.Lines {
		sum += l.Amount
	}
	return sum
}

// ConsumeResult lists the transactions written by a consumption.
type ConsumeResult struct {
	UserID       id.UserID
	Consumed     int64
	Transactions []*CreditTransaction
}

// TransferRequest moves balance between two users' accounts of the same type.
type TransferRequest struct {
	FromUserID id.UserID
	ToUserID   id.UserID
	Amount     int64
	CreditType CreditType
	Note       string
}

// TransferResult holds the paired ledger entries.
type TransferResult struct {
	TransferID  id.TransferID
	Outgoing    *CreditTransaction
	Incoming    *CreditTransaction
	FromAccount *CreditAccount
	ToAccount   *CreditAccount
}

// CreateCampaignRequest defines a new campaign.
type CreateCampaignRequest struct {
	Name                  string
	Description           string
	CreditType            CreditType
	CreditAmount          int64
	TotalBudget           int64
	StartDate             time.Time
	EndDate               time.Time
	ExpirationDays        int
	MaxAllocationsPerUser int
	EligibilityRules      map[string]string
}

// Validate checks the campaign definition.
func (r *CreateCampaignRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		return Validation("campaign name is required")
	case !r.CreditType.IsValid():
		return InvalidCreditType(string(r.CreditType))
	case !r.StartDate.Before(r.EndDate):
		return Validation("campaign start_date must be before end_date")
	case r.CreditAmount <= 0:
		return Validation("campaign credit_amount must be positive")
	case r.TotalBudget <= 0:
		return Validation("campaign total_budget must be positive")
	case r.ExpirationDays < 1 || r.ExpirationDays > 365:
		return Validation("campaign expiration_days must be between 1 and 365")
	case r.MaxAllocationsPerUser < 0:
		return Validation("campaign max_allocations_per_user must not be negative")
	}
	return nil
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	CreditTypes []CreditType
	ActiveOnly  bool
}

// Transaction history paging bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// TransactionFilter narrows transaction history.
type TransactionFilter struct {
	Types       []TransactionType
	CreditTypes []CreditType
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// Normalize clamps paging to the supported bounds.
func (f *TransactionFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// BalanceSummary aggregates a user's active balances.
type BalanceSummary struct {
	UserID       id.UserID
	Total        int64
	ByType       map[CreditType]int64
	NextExpiry   *time.Time
	NextExpiring int64
}

// ExpirationReport summarises one expiration run.
type ExpirationReport struct {
	Processed    int
	Skipped      int
	Failed       int
	TotalExpired int64
}

// ExpiringSoonReport summarises one warning run.
type ExpiringSoonReport struct {
	Users       int
	Allocations int
	Amount      int64
}
