package handler

import (
	"time"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

type AccountResponse struct {
	ID               id.AccountID      `json:"id"`
	UserID           id.UserID         `json:"user_id"`
	CreditType       models.CreditType `json:"credit_type"`
	Balance          int64             `json:"balance"`
	TotalAllocated   int64             `json:"total_allocated"`
	TotalConsumed    int64             `json:"total_consumed"`
	TotalExpired     int64             `json:"total_expired"`
	ExpirationPolicy string            `json:"expiration_policy"`
	ExpirationDays   int               `json:"expiration_days"`
	IsActive         bool              `json:"is_active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toAccount(a *models.CreditAccount) *AccountResponse {
	if a == nil {
		return nil
	}
	return &AccountResponse{
		ID:               a.ID,
		UserID:           a.UserID,
		CreditType:       a.CreditType,
		Balance:          a.Balance,
		TotalAllocated:   a.TotalAllocated,
		TotalConsumed:    a.TotalConsumed,
		TotalExpired:     a.TotalExpired,
		ExpirationPolicy: string(a.ExpirationPolicy),
		ExpirationDays:   a.ExpirationDays,
		IsActive:         a.IsActive,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type TransactionResponse struct {
	ID            id.TransactionID  `json:"id"`
	AccountID     id.AccountID      `json:"account_id"`
	CreditType    models.CreditType `json:"credit_type"`
	Type          string            `json:"type"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	ReferenceType string            `json:"reference_type,omitempty"`
	AllocationID  *id.AllocationID  `json:"allocation_id,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toTransaction(t *models.CreditTransaction) *TransactionResponse {
	if t == nil {
		return nil
	}
	return &TransactionResponse{
		ID:            t.ID,
		AccountID:     t.AccountID,
		CreditType:    t.CreditType,
		Type:          string(t.Type),
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		ReferenceID:   t.ReferenceID,
		ReferenceType: string(t.ReferenceType),
		AllocationID:  t.AllocationID,
		ExpiresAt:     t.ExpiresAt,
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt,
	}
}

func toTransactions(ts []*models.CreditTransaction) []*TransactionResponse {
	out := make([]*TransactionResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTransaction(t))
	}
	return out
}

type AllocationResponse struct {
	ID             id.AllocationID   `json:"id"`
	AccountID      id.AccountID      `json:"account_id"`
	CreditType     models.CreditType `json:"credit_type"`
	CampaignID     *id.CampaignID    `json:"campaign_id,omitempty"`
	Amount         int64             `json:"amount"`
	ConsumedAmount int64             `json:"consumed_amount"`
	ExpiredAmount  int64             `json:"expired_amount"`
	Available      int64             `json:"available"`
	Status         string            `json:"status"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type AllocateResponse struct {
	Allocation  *AllocationResponse  `json:"allocation,omitempty"`
	Transaction *TransactionResponse `json:"transaction"`
	Account     *AccountResponse     `json:"account"`
	Replayed    bool                 `json:"replayed"`
}

func toAllocateResponse(r *models.AllocateResult) AllocateResponse {
	resp := AllocateResponse{
		Transaction: toTransaction(r.Transaction),
		Account:     toAccount(r.Account),
		Replayed:    r.Replayed,
	}
	if a := r.Allocation; a != nil {
		resp.Allocation = &AllocationResponse{
			ID:             a.ID,
			AccountID:      a.AccountID,
			CreditType:     a.CreditType,
			CampaignID:     a.CampaignID,
			Amount:         a.Amount,
			ConsumedAmount: a.ConsumedAmount,
			ExpiredAmount:  a.ExpiredAmount,
			Available:      a.Available(),
			Status:         string(a.Status),
			ExpiresAt:      a.ExpiresAt,
			CreatedAt:      a.CreatedAt,
		}
	}
	return resp
}

type ConsumeResponse struct {
	UserID       id.UserID              `json:"user_id"`
	Consumed     int64                  `json:"consumed"`
	Transactions []*TransactionResponse `json:"transactions"`
}

type PlanLineResponse struct {
	AccountID    id.AccountID      `json:"account_id"`
	AllocationID *id.AllocationID  `json:"allocation_id,omitempty"`
	CreditType   models.CreditType `json:"credit_type"`
	Amount       int64             `json:"amount"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

type AvailabilityResponse struct {
	UserID    id.UserID          `json:"user_id"`
	Required  int64              `json:"required"`
	Available int64              `json:"available"`
	Lines     []PlanLineResponse `json:"lines"`
}

func toAvailability(p *models.ConsumptionPlan) AvailabilityResponse {
	resp := AvailabilityResponse{
		UserID:    p.UserID,
		Required:  p.Required,
		Available: p.Available,
		Lines:     make([]PlanLineResponse, 0, len(p.Lines)),
	}
	for _, l := range p.Lines {
		resp.Lines = append(resp.Lines, PlanLineResponse(l))
	}
	return resp
}

type TransferResponse struct {
	TransferID  id.TransferID        `json:"transfer_id"`
	Outgoing    *TransactionResponse `json:"outgoing"`
	Incoming    *TransactionResponse `json:"incoming"`
	FromAccount *AccountResponse     `json:"from_account"`
	ToAccount   *AccountResponse     `json:"to_account"`
}

type BalanceResponse struct {
	UserID       id.UserID                   `json:"user_id"`
	Total        int64                       `json:"total"`
	ByType       map[models.CreditType]int64 `json:"by_type"`
	NextExpiry   *time.Time                  `json:"next_expiry,omitempty"`
	NextExpiring int64                       `json:"next_expiring,omitempty"`
}

type CampaignResponse struct {
	ID                    id.CampaignID     `json:"id"`
	Name                  string            `json:"name"`
	Description           string            `json:"description,omitempty"`
	CreditType            models.CreditType `json:"credit_type"`
	CreditAmount          int64             `json:"credit_amount"`
	TotalBudget           int64             `json:"total_budget"`
	AllocatedAmount       int64             `json:"allocated_amount"`
	RemainingBudget       int64             `json:"remaining_budget"`
	StartDate             time.Time         `json:"start_date"`
	EndDate               time.Time         `json:"end_date"`
	ExpirationDays        int               `json:"expiration_days"`
	MaxAllocationsPerUser int               `json:"max_allocations_per_user"`
	EligibilityRules      map[string]string `json:"eligibility_rules,omitempty"`
	IsActive              bool              `json:"is_active"`
	CreatedAt             time.Time         `json:"created_at"`
}

func toCampaign(c *models.CreditCampaign) *CampaignResponse {
	return &CampaignResponse{
		ID:                    c.ID,
		Name:                  c.Name,
		Description:           c.Description,
		CreditType:            c.CreditType,
		CreditAmount:          c.CreditAmount,
		TotalBudget:           c.TotalBudget,
		AllocatedAmount:       c.AllocatedAmount,
		RemainingBudget:       c.RemainingBudget(),
		StartDate:             c.StartDate,
		EndDate:               c.EndDate,
		ExpirationDays:        c.ExpirationDays,
		MaxAllocationsPerUser: c.MaxAllocationsPerUser,
		EligibilityRules:      c.EligibilityRules,
		IsActive:              c.IsActive,
		CreatedAt:             c.CreatedAt,
	}
}
