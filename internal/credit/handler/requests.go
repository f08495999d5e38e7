package handler

import (
	"strings"
	"time"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	dErrors "credits/pkg/domain-errors"
)

const (
	maxReferenceLength = 128
	maxNoteLength      = 500
	maxMetadataEntries = 32
)

// CreateAccountRequest is the body of POST /v1/accounts.
type CreateAccountRequest struct {
	UserID           string `json:"user_id"`
	CreditType       string `json:"credit_type"`
	ExpirationPolicy string `json:"expiration_policy,omitempty"`
	ExpirationDays   int    `json:"expiration_days,omitempty"`

	userID     id.UserID
	creditType models.CreditType
	policy     models.ExpirationPolicy
}

func (r *CreateAccountRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	creditType, err := models.ParseCreditType(r.CreditType)
	if err != nil {
		return err
	}
	if p := strings.TrimSpace(r.ExpirationPolicy); p != "" {
		policy, err := models.ParseExpirationPolicy(p)
		if err != nil {
			return err
		}
		r.policy = policy
	}
	if r.ExpirationDays < 0 || r.ExpirationDays > 3650 {
		return dErrors.New(dErrors.CodeValidation, "expiration_days must be between 0 and 3650")
	}
	r.userID = userID
	r.creditType = creditType
	return nil
}

// AllocateRequest is the body of POST /v1/allocations.
type AllocateRequest struct {
	UserID         string            `json:"user_id"`
	Amount         int64             `json:"amount"`
	CreditType     string            `json:"credit_type"`
	CampaignID     string            `json:"campaign_id,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	parsed models.AllocateRequest
}

func (r *AllocateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	if r.Amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	creditType, err := models.ParseCreditType(r.CreditType)
	if err != nil {
		return err
	}
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if len(r.IdempotencyKey) > maxReferenceLength {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is too long")
	}
	if err := validateMetadata(r.Metadata); err != nil {
		return err
	}
	r.parsed = models.AllocateRequest{
		UserID:         userID,
		Amount:         r.Amount,
		CreditType:     creditType,
		ExpiresAt:      r.ExpiresAt,
		SubscriptionID: strings.TrimSpace(r.SubscriptionID),
		IdempotencyKey: r.IdempotencyKey,
		Metadata:       r.Metadata,
	}
	if c := strings.TrimSpace(r.CampaignID); c != "" {
		campaignID, err := id.ParseCampaignID(c)
		if err != nil {
			return err
		}
		r.parsed.CampaignID = &campaignID
	}
	return nil
}

// ConsumeRequest is the body of POST /v1/consumptions.
type ConsumeRequest struct {
	UserID           string            `json:"user_id"`
	Amount           int64             `json:"amount"`
	BillingReference string            `json:"billing_reference,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	parsed models.ConsumeRequest
}

func (r *ConsumeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	if r.Amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	r.BillingReference = strings.TrimSpace(r.BillingReference)
	if len(r.BillingReference) > maxReferenceLength {
		return dErrors.New(dErrors.CodeValidation, "billing_reference is too long")
	}
	if err := validateMetadata(r.Metadata); err != nil {
		return err
	}
	r.parsed = models.ConsumeRequest{
		UserID:           userID,
		Amount:           r.Amount,
		BillingReference: r.BillingReference,
		Metadata:         r.Metadata,
	}
	return nil
}

// TransferRequest is the body of POST /v1/transfers.
type TransferRequest struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Amount     int64  `json:"amount"`
	CreditType string `json:"credit_type"`
	Note       string `json:"note,omitempty"`

	parsed models.TransferRequest
}

// Validate only parses; transfer rules (same user, amount, transferable type)
// are checked by the service so they report InvalidTransfer consistently.
func (r *TransferRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	from, err := id.ParseUserID(strings.TrimSpace(r.FromUserID))
	if err != nil {
		return err
	}
	to, err := id.ParseUserID(strings.TrimSpace(r.ToUserID))
	if err != nil {
		return err
	}
	r.Note = strings.TrimSpace(r.Note)
	if len(r.Note) > maxNoteLength {
		return dErrors.New(dErrors.CodeValidation, "note is too long")
	}
	r.parsed = models.TransferRequest{
		FromUserID: from,
		ToUserID:   to,
		Amount:     r.Amount,
		CreditType: models.CreditType(strings.ToLower(strings.TrimSpace(r.CreditType))),
		Note:       r.Note,
	}
	return nil
}

// CreateCampaignRequest is the body of POST /v1/campaigns.
type CreateCampaignRequest struct {
	Name                  string            `json:"name"`
	Description           string            `json:"description,omitempty"`
	CreditType            string            `json:"credit_type"`
	CreditAmount          int64             `json:"credit_amount"`
	TotalBudget           int64             `json:"total_budget"`
	StartDate             time.Time         `json:"start_date"`
	EndDate               time.Time         `json:"end_date"`
	ExpirationDays        int               `json:"expiration_days"`
	MaxAllocationsPerUser int               `json:"max_allocations_per_user,omitempty"`
	EligibilityRules      map[string]string `json:"eligibility_rules,omitempty"`

	parsed models.CreateCampaignRequest
}

func (r *CreateCampaignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.parsed = models.CreateCampaignRequest{
		Name:                  r.Name,
		Description:           strings.TrimSpace(r.Description),
		CreditType:            models.CreditType(strings.ToLower(strings.TrimSpace(r.CreditType))),
		CreditAmount:          r.CreditAmount,
		TotalBudget:           r.TotalBudget,
		StartDate:             r.StartDate,
		EndDate:               r.EndDate,
		ExpirationDays:        r.ExpirationDays,
		MaxAllocationsPerUser: r.MaxAllocationsPerUser,
		EligibilityRules:      r.EligibilityRules,
	}
	return r.parsed.Validate()
}

// ClaimCampaignRequest is the body of POST /v1/campaigns/{campaignID}/claims.
type ClaimCampaignRequest struct {
	UserID         string `json:"user_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	userID id.UserID
}

func (r *ClaimCampaignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	userID, err := id.ParseUserID(strings.TrimSpace(r.UserID))
	if err != nil {
		return err
	}
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if len(r.IdempotencyKey) > maxReferenceLength {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is too long")
	}
	r.userID = userID
	return nil
}

func validateMetadata(m map[string]string) error {
	if len(m) > maxMetadataEntries {
		return dErrors.New(dErrors.CodeValidation, "metadata has too many entries")
	}
	for k, v := range m {
		if k == "" || len(k) > 64 || len(v) > 512 {
			return dErrors.New(dErrors.CodeValidation, "metadata keys must be 1-64 characters and values at most 512")
		}
	}
	return nil
}
