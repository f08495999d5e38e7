package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"credits/internal/credit/models"
	"credits/internal/credit/ports"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
	strutil "credits/pkg/platform/strings"
	"credits/pkg/requestcontext"
)

// RuleEligibility evaluates a campaign's EligibilityRules against the user's
// directory profile. Supported rules:
//
//	countries              comma-separated ISO codes the user's country must be in
//	min_account_age_days   minimum days since the user registered
//	requires_subscription  "true" when the user must hold a subscription
//
// Unknown rules are ignored. A user the directory does not know is never
// eligible.
type RuleEligibility struct {
	users ports.UserDirectory
}

func NewRuleEligibility(users ports.UserDirectory) *RuleEligibility {
	return &RuleEligibility{users: users}
}

func (r *RuleEligibility) IsEligible(ctx context.Context, userID id.UserID, campaign *models.CreditCampaign) (bool, error) {
	if len(campaign.EligibilityRules) == 0 {
		return true, nil
	}
	profile, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user profile: %w", err)
	}
	if profile == nil {
		return false, nil
	}

	rules := campaign.EligibilityRules
	if raw, ok := rules[models.RuleCountries]; ok && raw != "" {
		if !slices.Contains(strutil.DedupeAndTrimLower(strings.Split(raw, ",")), strings.ToLower(profile.Country)) {
			return false, nil
		}
	}
	if raw, ok := rules[models.RuleMinAccountAgeDays]; ok && raw != "" {
		days, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return false, fmt.Errorf("invalid %s rule %q: %w", models.RuleMinAccountAgeDays, raw, err)
		}
		age := requestcontext.Now(ctx).Sub(profile.CreatedAt)
		if age < time.Duration(days)*24*time.Hour {
			return false, nil
		}
	}
	if raw, ok := rules[models.RuleRequiresSubscription]; ok {
		required, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err == nil && required && !profile.HasSubscription {
			return false, nil
		}
	}
	return true, nil
}
