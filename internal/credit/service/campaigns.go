package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

// CreateCampaign validates and stores a new campaign with nothing allocated.
func (s *Service) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (campaign *models.CreditCampaign, err error) {
	ctx, finish := s.startSpan(ctx, "create_campaign", attribute.String("credit_type", string(req.CreditType)))
	defer finish(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now(ctx)
	campaign = &models.CreditCampaign{
		ID:                    id.NewCampaignID(),
		Name:                  req.Name,
		Description:           req.Description,
		CreditType:            req.CreditType,
		CreditAmount:          req.CreditAmount,
		TotalBudget:           req.TotalBudget,
		StartDate:             req.StartDate.UTC(),
		EndDate:               req.EndDate.UTC(),
		ExpirationDays:        req.ExpirationDays,
		MaxAllocationsPerUser: req.MaxAllocationsPerUser,
		EligibilityRules:      req.EligibilityRules,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.logAudit(ctx, "credit_campaign_created",
		"campaign_id", campaign.ID.String(),
		"name", campaign.Name,
		"credit_type", string(campaign.CreditType),
		"total_budget", campaign.TotalBudget,
	)
	return campaign, nil
}

// GetCampaign loads a campaign by ID.
func (s *Service) GetCampaign(ctx context.Context, campaignID id.CampaignID) (*models.CreditCampaign, error) {
	campaign, err := s.store.GetCampaignByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.CampaignNotFound(campaignID.String())
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return campaign, nil
}

// ListActiveCampaigns returns running campaigns, optionally for one credit type.
func (s *Service) ListActiveCampaigns(ctx context.Context, creditType *models.CreditType) ([]*models.CreditCampaign, error) {
	if creditType != nil && !creditType.IsValid() {
		return nil, models.InvalidCreditType(string(*creditType))
	}
	campaigns, err := s.store.GetActiveCampaigns(ctx, creditType, s.now(ctx))
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	return campaigns, nil
}

// ValidateForAllocation checks that the campaign can grant amount to the user right now.
func (s *Service) ValidateForAllocation(ctx context.Context, campaignID id.CampaignID, userID id.UserID, amount int64) (*models.CreditCampaign, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx)
	switch {
	case !campaign.IsActive:
		return nil, models.CampaignInactive("campaign is disabled")
	case now.Before(campaign.StartDate):
		return nil, models.CampaignInactive("campaign has not started")
	case now.After(campaign.EndDate):
		return nil, models.CampaignInactive("campaign has ended")
	}
	if campaign.RemainingBudget() < amount {
		return nil, models.CampaignBudgetExhausted(campaign.TotalBudget, campaign.AllocatedAmount)
	}

	if campaign.MaxAllocationsPerUser > 0 {
		count, err := s.store.CountUserCampaignAllocations(ctx, userID, campaignID)
		if err != nil {
			return nil, fmt.Errorf("count campaign allocations: %w", err)
		}
		if count >= campaign.MaxAllocationsPerUser {
			return nil, models.Validation(fmt.Sprintf("user reached the campaign limit of %d allocations", campaign.MaxAllocationsPerUser))
		}
	}

	if s.eligibility != nil {
		eligible, err := s.eligibility.IsEligible(ctx, userID, campaign)
		if err != nil {
			s.logger.WarnContext(ctx, "campaign eligibility check failed, allowing",
				"campaign_id", campaignID.String(),
				"user_id", userID.String(),
				"error", err,
			)
		} else if !eligible {
			return nil, models.Validation("user is not eligible for this campaign")
		}
	}
	return campaign, nil
}

// UpdateBudget adjusts the campaign's allocated amount. It returns false when
// the change would exceed the budget or drop below zero.
func (s *Service) UpdateBudget(ctx context.Context, campaignID id.CampaignID, delta int64) (bool, error) {
	ok, err := s.store.UpdateCampaignBudget(ctx, campaignID, delta)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, models.CampaignNotFound(campaignID.String())
		}
		return false, fmt.Errorf("update campaign budget: %w", err)
	}
	return ok, nil
}

// ClaimCampaign allocates the campaign's fixed credit amount to the user.
func (s *Service) ClaimCampaign(ctx context.Context, campaignID id.CampaignID, userID id.UserID, idempotencyKey string) (*models.AllocateResult, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.Allocate(ctx, models.AllocateRequest{
		UserID:         userID,
		Amount:         campaign.CreditAmount,
		CreditType:     campaign.CreditType,
		CampaignID:     &campaignID,
		IdempotencyKey: idempotencyKey,
	})
}
